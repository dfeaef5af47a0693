// Package models defines the data structures shared by ingestion and
// analytics.
//
// Records are what instrumented applications send. Rows are what lands in
// the analytical store after normalization. The column limits and level
// vocabulary below are the contract between the two sides.
package models

import "time"

// Column limits applied by the normalizer.
const (
	MaxConsumerFieldLen = 256
	MaxPayloadLen       = 16384
	MaxMessageLen       = 8192
	MaxLoggerNameLen    = 256
	MaxTraceIDLen       = 128

	MaxAttributes        = 64
	MaxAttributeKeyLen   = 64
	MaxAttributeValueLen = 512
)

// Batch caps enforced at the request boundary.
const (
	MaxRequestBatchSize = 1000
	MaxLogBatchSize     = 2000
)

// Canonical log levels.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Levels lists the canonical levels in ascending severity.
var Levels = []string{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}

// RequestRecord is a single API request reported by an SDK.
type RequestRecord struct {
	Timestamp       time.Time `json:"timestamp" validate:"required"`
	Environment     string    `json:"environment" validate:"required"`
	Method          string    `json:"method" validate:"required"`
	Path            string    `json:"path" validate:"required"`
	StatusCode      int       `json:"status_code" validate:"gte=0,lte=999"`
	ResponseTimeMs  float64   `json:"response_time_ms" validate:"gte=0"`
	RequestSize     int64     `json:"request_size" validate:"gte=0"`
	ResponseSize    int64     `json:"response_size" validate:"gte=0"`
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent"`
	ConsumerID      string    `json:"consumer_id"`
	ConsumerName    string    `json:"consumer_name"`
	ConsumerGroup   string    `json:"consumer_group"`
	RequestPayload  string    `json:"request_payload"`
	ResponsePayload string    `json:"response_payload"`
}

// LogRecord is a single structured log line reported by an SDK.
type LogRecord struct {
	Timestamp      time.Time  `json:"timestamp" validate:"required"`
	Environment    string     `json:"environment" validate:"required"`
	Level          string     `json:"level"`
	Message        string     `json:"message"`
	LoggerName     string     `json:"logger_name"`
	EndpointMethod string     `json:"endpoint_method"`
	EndpointPath   string     `json:"endpoint_path"`
	StatusCode     int        `json:"status_code" validate:"gte=0,lte=999"`
	ConsumerID     string     `json:"consumer_id"`
	ConsumerName   string     `json:"consumer_name"`
	ConsumerGroup  string     `json:"consumer_group"`
	TraceID        string     `json:"trace_id"`
	SpanID         string     `json:"span_id"`
	Payload        string     `json:"payload"`
	Attributes     Attributes `json:"attributes"`
}

// RequestRow is a request as stored in the analytical store.
type RequestRow struct {
	AppID      string
	EndpointID string
	RequestRecord
}

// LogRow is a log line as stored in the analytical store. Attributes holds
// the JSON-serialized attribute object.
type LogRow struct {
	AppID          string
	Timestamp      time.Time
	Environment    string
	Level          string
	Message        string
	LoggerName     string
	EndpointMethod string
	EndpointPath   string
	StatusCode     int
	ConsumerID     string
	ConsumerName   string
	ConsumerGroup  string
	TraceID        string
	SpanID         string
	Payload        string
	Attributes     string
}

// Analytical store table names.
const (
	RequestsTable = "api_requests"
	LogsTable     = "app_logs"
)
