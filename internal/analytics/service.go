// Package analytics serves the fixed set of aggregate views over the
// analytical store.
//
// Every view is best-effort: when the store is unreachable or a query
// fails, the view logs a warning, counts the call as degraded and returns
// its empty shape. Views never return store errors to callers.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/internal/storage"
	"github.com/apilens/apilens/pkg/models"
)

// Clamps applied to caller-supplied sizes.
const (
	MaxPageSize          = 200
	MaxConsumerLimit     = 100
	MaxActivityLimit     = 500
	MaxPayloadLimit      = 100
	MaxSearchOptionLimit = 100
	relatedFamiliesLimit = 50
)

// DefaultHighCardinalityKeys are attribute keys whose values are only
// listed when the caller supplies a prefix.
var DefaultHighCardinalityKeys = []string{
	"trace_id", "span_id", "request_id", "session_id", "user_id",
	"device_id", "event_id", "uuid", "id",
}

// MinGuardedPrefixLen is the prefix length unlocking guarded keys.
const MinGuardedPrefixLen = 4

// Options configures a Service.
type Options struct {
	Logger              *slog.Logger
	Metrics             *metrics.Metrics
	HighCardinalityKeys []string
	Now                 func() time.Time
}

// Service runs analytics views.
type Service struct {
	store     storage.AnalyticsStore
	endpoints storage.EndpointStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	guarded   map[string]bool
	now       func() time.Time
}

// NewService creates a Service. endpoints may be nil, in which case
// endpoint stats contain traffic-derived rows only.
func NewService(store storage.AnalyticsStore, endpoints storage.EndpointStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	if opts.HighCardinalityKeys == nil {
		opts.HighCardinalityKeys = DefaultHighCardinalityKeys
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	guarded := make(map[string]bool, len(opts.HighCardinalityKeys))
	for _, k := range opts.HighCardinalityKeys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			guarded[k] = true
		}
	}

	return &Service{
		store:     store,
		endpoints: endpoints,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		guarded:   guarded,
		now:       opts.Now,
	}
}

// trafficColumns selects total, errors, mean and p95 latency, in the order
// scanTraffic expects.
const trafficColumns = `toInt64(count()) AS total_requests,
	toInt64(countIf(status_code >= 400)) AS error_count,
	toFloat64(ifNotFinite(avg(response_time_ms), 0)) AS avg_response_time_ms,
	toFloat64(ifNotFinite(quantile(0.95)(response_time_ms), 0)) AS p95_response_time_ms`

func trafficDest(m *models.TrafficMetrics) []any {
	return []any{&m.TotalRequests, &m.ErrorCount, &m.AvgResponseTimeMs, &m.P95ResponseTimeMs}
}

func finishTraffic(m *models.TrafficMetrics) {
	m.ErrorRate = errorRate(m.ErrorCount, m.TotalRequests)
}

func errorRate(errCount, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(errCount) / float64(total) * 100
}

func (s *Service) builder(f query.Filter, table query.Table) *query.Builder {
	return query.NewBuilder(f, table, s.now())
}

// run executes a statement and hands every row to scan. Artifacts not yet
// provisioned are retried first.
func (s *Service) run(ctx context.Context, view, stmt string, args map[string]any, scan func(driver.Rows) error) error {
	s.store.EnsureSchema(ctx)

	start := time.Now()
	defer func() {
		s.metrics.Analytics.QueryDuration.WithLabelValues(view).Observe(time.Since(start).Seconds())
	}()

	rows, err := s.store.Query(ctx, stmt, args)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scanning %s row: %w", view, err)
		}
	}
	return rows.Err()
}

func (s *Service) degrade(view string, f query.Filter, err error) {
	s.metrics.Analytics.Degraded.WithLabelValues(view).Inc()
	s.logger.Warn("analytics query failed, returning empty result",
		"view", view,
		"app_id", f.AppID,
		"error", err,
	)
}

// pageStart returns the offset of a 1-based page, or false when the page
// lies past the last item.
func pageStart(total, page, pageSize int) (int, bool) {
	if total <= 0 || page < 1 || pageSize < 1 {
		return 0, false
	}
	pages := (total-1)/pageSize + 1
	if page > pages {
		return 0, false
	}
	return (page - 1) * pageSize, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() <= 0 {
		return nil
	}
	return &t
}
