// Package storage defines the storage interfaces used by ingestion and
// analytics.
package storage

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/pkg/models"
)

// EndpointStore is the relational store holding discovered endpoints.
// Implementations must be safe for concurrent use and must enforce a unique
// constraint on (app_id, method, path).
type EndpointStore interface {
	// FindEndpoints returns every endpoint of appID whose method is in methods
	// and whose path is in paths. Callers filter the cross product.
	FindEndpoints(ctx context.Context, appID string, methods, paths []string) ([]*models.Endpoint, error)

	// InsertEndpointsIgnoreConflicts inserts endpoints, silently skipping
	// rows that collide with an existing (app_id, method, path).
	InsertEndpointsIgnoreConflicts(ctx context.Context, endpoints []*models.Endpoint) error

	// UpdateEndpoints applies all updates in a single round trip.
	UpdateEndpoints(ctx context.Context, updates []models.EndpointUpdate) error

	// ListEndpoints returns the active endpoints of appID ordered by method, path.
	ListEndpoints(ctx context.Context, appID string) ([]*models.Endpoint, error)

	// Close releases the underlying connections.
	Close() error
}

// AnalyticsStore is the append-only columnar store holding request and log
// rows.
type AnalyticsStore interface {
	// EnsureSchema provisions tables and columns. It never fails; artifacts
	// that could not be provisioned are retried on the next call.
	EnsureSchema(ctx context.Context)

	// Query runs a statement with named parameters (@name in the text).
	Query(ctx context.Context, query string, args map[string]any) (driver.Rows, error)

	// InsertRequests writes rows in one bulk insert.
	InsertRequests(ctx context.Context, rows []models.RequestRow) error

	// InsertLogs writes rows in one bulk insert.
	InsertLogs(ctx context.Context, rows []models.LogRow) error

	// Close releases the connection.
	Close() error
}
