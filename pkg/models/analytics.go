package models

import "time"

// Page is the paginated envelope returned by list views.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
}

// EmptyPage returns a page with no items for the given position.
func EmptyPage[T any](page, pageSize int) Page[T] {
	return Page[T]{Items: []T{}, Page: page, PageSize: pageSize}
}

// TrafficMetrics is the metric set shared by request aggregates.
type TrafficMetrics struct {
	TotalRequests     int64   `json:"total_requests"`
	ErrorCount        int64   `json:"error_count"`
	ErrorRate         float64 `json:"error_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs float64 `json:"p95_response_time_ms"`
}

// EndpointStat is one row of the endpoint-stats view. EndpointID is nil when
// traffic has no matching Endpoint row.
type EndpointStat struct {
	EndpointID         *string    `json:"endpoint_id"`
	Method             string     `json:"method"`
	Path               string     `json:"path"`
	IsActive           bool       `json:"is_active"`
	TotalRequestBytes  int64      `json:"total_request_bytes"`
	TotalResponseBytes int64      `json:"total_response_bytes"`
	LastSeenAt         *time.Time `json:"last_seen_at"`
	TrafficMetrics
}

// TotalBytes is the combined request and response byte total.
func (s *EndpointStat) TotalBytes() int64 {
	return s.TotalRequestBytes + s.TotalResponseBytes
}

// ConsumerStat is one row of the consumer-stats view.
type ConsumerStat struct {
	Consumer      string     `json:"consumer"`
	ConsumerID    string     `json:"consumer_id"`
	ConsumerName  string     `json:"consumer_name"`
	ConsumerGroup string     `json:"consumer_group"`
	LastSeenAt    *time.Time `json:"last_seen_at"`
	TrafficMetrics
}

// ConsumerEndpointStat is one (method, path) row for a single consumer.
type ConsumerEndpointStat struct {
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	TrafficMetrics
}

// RequestEntry is a raw request row returned by activity and payload views.
type RequestEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Environment     string    `json:"environment"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	StatusCode      int       `json:"status_code"`
	ResponseTimeMs  float64   `json:"response_time_ms"`
	RequestSize     int64     `json:"request_size"`
	ResponseSize    int64     `json:"response_size"`
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent"`
	Consumer        string    `json:"consumer"`
	ConsumerID      string    `json:"consumer_id"`
	ConsumerName    string    `json:"consumer_name"`
	ConsumerGroup   string    `json:"consumer_group"`
	RequestPayload  string    `json:"request_payload,omitempty"`
	ResponsePayload string    `json:"response_payload,omitempty"`
}

// LogEntry is a log row with attributes decoded to text values.
type LogEntry struct {
	Timestamp      time.Time         `json:"timestamp"`
	Environment    string            `json:"environment"`
	Level          string            `json:"level"`
	Message        string            `json:"message"`
	LoggerName     string            `json:"logger_name"`
	EndpointMethod string            `json:"endpoint_method"`
	EndpointPath   string            `json:"endpoint_path"`
	StatusCode     int               `json:"status_code"`
	ConsumerID     string            `json:"consumer_id"`
	ConsumerName   string            `json:"consumer_name"`
	ConsumerGroup  string            `json:"consumer_group"`
	TraceID        string            `json:"trace_id"`
	SpanID         string            `json:"span_id"`
	Payload        string            `json:"payload"`
	Attributes     map[string]string `json:"attributes"`
}

// LogsSummary holds the counters of the logs summary view.
type LogsSummary struct {
	TotalCount   int64 `json:"total_count"`
	ErrorCount   int64 `json:"error_count"`
	WarningCount int64 `json:"warning_count"`
	UniqueLogger int64 `json:"unique_loggers"`
}

// LogsBucket is one bucket of the logs timeseries.
type LogsBucket struct {
	Bucket       time.Time `json:"bucket"`
	TotalCount   int64     `json:"total_count"`
	ErrorCount   int64     `json:"error_count"`
	WarningCount int64     `json:"warning_count"`
}

// LogsSearchOptions feeds filter autocomplete.
type LogsSearchOptions struct {
	Keys        []string `json:"keys"`
	Values      []string `json:"values"`
	LoggerNames []string `json:"logger_names"`
	// ValuesSkipped is set when the value list was withheld by the
	// high-cardinality guard.
	ValuesSkipped bool `json:"values_skipped"`
}

// Summary is the tenant-wide aggregate.
type Summary struct {
	TotalRequestBytes  int64 `json:"total_request_bytes"`
	TotalResponseBytes int64 `json:"total_response_bytes"`
	UniqueEndpoints    int64 `json:"unique_endpoints"`
	UniqueConsumers    int64 `json:"unique_consumers"`
	TrafficMetrics
}

// TimeseriesPoint is one hourly bucket of request metrics.
type TimeseriesPoint struct {
	Bucket time.Time `json:"bucket"`
	TrafficMetrics
}

// RelatedAPI groups traffic by the first path segment.
type RelatedAPI struct {
	Family          string `json:"family"`
	UniqueEndpoints int64  `json:"unique_endpoints"`
	TrafficMetrics
}

// EndpointDetail is the aggregate for one (method, path).
type EndpointDetail struct {
	Method             string     `json:"method"`
	Path               string     `json:"path"`
	TotalRequestBytes  int64      `json:"total_request_bytes"`
	TotalResponseBytes int64      `json:"total_response_bytes"`
	UniqueConsumers    int64      `json:"unique_consumers"`
	FirstSeenAt        *time.Time `json:"first_seen_at"`
	LastSeenAt         *time.Time `json:"last_seen_at"`
	TrafficMetrics
}

// StatusCodeCount is one bar of the status-code histogram.
type StatusCodeCount struct {
	StatusCode int   `json:"status_code"`
	Count      int64 `json:"count"`
}
