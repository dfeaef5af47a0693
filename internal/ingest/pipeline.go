// Package ingest writes request and log batches to the analytical store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/internal/normalize"
	"github.com/apilens/apilens/internal/registry"
	"github.com/apilens/apilens/internal/storage"
	"github.com/apilens/apilens/pkg/models"
)

// EndpointSyncer resolves observed (method, path) pairs to endpoint ids.
type EndpointSyncer interface {
	Sync(ctx context.Context, appID string, observations []registry.Observation) (map[models.EndpointKey]string, error)
}

// Pipeline runs provisioning, normalization, endpoint sync and the bulk
// write for one batch. It holds no per-batch state and is safe for
// concurrent use.
type Pipeline struct {
	store   storage.AnalyticsStore
	syncer  EndpointSyncer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline creates a Pipeline. syncer may be nil, in which case request
// rows carry no endpoint id.
func NewPipeline(store storage.AnalyticsStore, syncer EndpointSyncer, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Pipeline{
		store:   store,
		syncer:  syncer,
		logger:  logger,
		metrics: m,
	}
}

// IngestRequests stores records for appID and returns how many were written.
func (p *Pipeline) IngestRequests(ctx context.Context, appID string, records []models.RequestRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if appID == "" {
		return 0, fmt.Errorf("%w: missing app id", models.ErrInvalidInput)
	}

	start := time.Now()
	defer p.observe("requests", start)

	p.store.EnsureSchema(ctx)

	normalized := normalize.Requests(records)
	ids := p.resolveEndpoints(ctx, appID, normalized)

	rows := make([]models.RequestRow, len(normalized))
	for i, rec := range normalized {
		rows[i] = models.RequestRow{
			AppID:         appID,
			EndpointID:    ids[models.EndpointKey{Method: rec.Method, Path: rec.Path}],
			RequestRecord: rec,
		}
	}

	if err := p.store.InsertRequests(ctx, rows); err != nil {
		p.metrics.Ingest.Batches.WithLabelValues("requests", "failed").Inc()
		p.logger.Error("failed to write request batch",
			"app_id", appID,
			"row_count", len(rows),
			"error", err,
		)
		return 0, fmt.Errorf("writing requests: %w", err)
	}

	p.metrics.Ingest.Batches.WithLabelValues("requests", "success").Inc()
	p.metrics.Ingest.RowsWritten.WithLabelValues("requests").Add(float64(len(rows)))
	return len(rows), nil
}

// IngestLogs stores records for appID and returns how many were written.
func (p *Pipeline) IngestLogs(ctx context.Context, appID string, records []models.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if appID == "" {
		return 0, fmt.Errorf("%w: missing app id", models.ErrInvalidInput)
	}

	start := time.Now()
	defer p.observe("logs", start)

	p.store.EnsureSchema(ctx)

	normalized := normalize.Logs(records)
	rows := make([]models.LogRow, len(normalized))
	for i, rec := range normalized {
		attrs, err := rec.Attributes.MarshalJSON()
		if err != nil {
			// Sanitized attributes are plain strings, this cannot fail in practice.
			attrs = []byte("{}")
		}
		rows[i] = models.LogRow{
			AppID:          appID,
			Timestamp:      rec.Timestamp,
			Environment:    rec.Environment,
			Level:          rec.Level,
			Message:        rec.Message,
			LoggerName:     rec.LoggerName,
			EndpointMethod: rec.EndpointMethod,
			EndpointPath:   rec.EndpointPath,
			StatusCode:     rec.StatusCode,
			ConsumerID:     rec.ConsumerID,
			ConsumerName:   rec.ConsumerName,
			ConsumerGroup:  rec.ConsumerGroup,
			TraceID:        rec.TraceID,
			SpanID:         rec.SpanID,
			Payload:        rec.Payload,
			Attributes:     string(attrs),
		}
	}

	if err := p.store.InsertLogs(ctx, rows); err != nil {
		p.metrics.Ingest.Batches.WithLabelValues("logs", "failed").Inc()
		p.logger.Error("failed to write log batch",
			"app_id", appID,
			"row_count", len(rows),
			"error", err,
		)
		return 0, fmt.Errorf("writing logs: %w", err)
	}

	p.metrics.Ingest.Batches.WithLabelValues("logs", "success").Inc()
	p.metrics.Ingest.RowsWritten.WithLabelValues("logs").Add(float64(len(rows)))
	return len(rows), nil
}

// resolveEndpoints syncs the registry. A failure leaves every endpoint id
// empty; traffic is still written.
func (p *Pipeline) resolveEndpoints(ctx context.Context, appID string, records []models.RequestRecord) map[models.EndpointKey]string {
	if p.syncer == nil {
		return nil
	}

	observations := make([]registry.Observation, len(records))
	for i, rec := range records {
		observations[i] = registry.Observation{Method: rec.Method, Path: rec.Path, Timestamp: rec.Timestamp}
	}

	ids, err := p.syncer.Sync(ctx, appID, observations)
	if err != nil {
		p.metrics.Registry.SyncFailures.Inc()
		p.logger.Warn("endpoint registry sync failed, writing rows without endpoint ids",
			"app_id", appID,
			"error", err,
		)
		return nil
	}
	return ids
}

func (p *Pipeline) observe(kind string, start time.Time) {
	p.metrics.Ingest.Duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
