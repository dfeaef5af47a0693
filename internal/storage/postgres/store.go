// Package postgres provides a PostgreSQL-backed endpoint registry.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apilens/apilens/pkg/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS endpoints (
	id           TEXT PRIMARY KEY,
	app_id       TEXT NOT NULL,
	method       TEXT NOT NULL,
	path         TEXT NOT NULL,
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	last_seen_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (app_id, method, path)
);
CREATE INDEX IF NOT EXISTS idx_endpoints_app_active ON endpoints (app_id, is_active);
`

// Store persists endpoints in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to url, verifies the connection and creates the schema.
func New(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. The schema is assumed to exist.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// FindEndpoints returns endpoints of appID matching any of methods and paths.
func (s *Store) FindEndpoints(ctx context.Context, appID string, methods, paths []string) ([]*models.Endpoint, error) {
	if len(methods) == 0 || len(paths) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, app_id, method, path, is_active, last_seen_at, created_at
		FROM endpoints
		WHERE app_id = $1 AND method = ANY($2) AND path = ANY($3)
		ORDER BY method, path`, appID, methods, paths)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

// InsertEndpointsIgnoreConflicts inserts all endpoints in one round trip.
// Rows colliding on (app_id, method, path) are skipped.
func (s *Store) InsertEndpointsIgnoreConflicts(ctx context.Context, endpoints []*models.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ep := range endpoints {
		created := ep.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO endpoints (id, app_id, method, path, is_active, last_seen_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING`,
			ep.ID, ep.AppID, ep.Method, ep.Path, ep.IsActive, ep.LastSeenAt, created)
	}

	return s.sendBatch(ctx, batch, "inserting endpoints")
}

// UpdateEndpoints applies all updates inside one transaction. GREATEST
// ignores NULL, so last_seen_at never moves backwards.
func (s *Store) UpdateEndpoints(ctx context.Context, updates []models.EndpointUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			UPDATE endpoints
			SET is_active = $1, last_seen_at = GREATEST(last_seen_at, $2)
			WHERE id = $3`, u.IsActive, u.LastSeenAt, u.ID)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range updates {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("updating endpoints: %w", err)
			}
		}
		return br.Close()
	})
}

// ListEndpoints returns the active endpoints of appID.
func (s *Store) ListEndpoints(ctx context.Context, appID string) ([]*models.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, app_id, method, path, is_active, last_seen_at, created_at
		FROM endpoints
		WHERE app_id = $1 AND is_active
		ORDER BY method, path`, appID)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	br := s.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	return br.Close()
}

func scanEndpoints(rows pgx.Rows) ([]*models.Endpoint, error) {
	var out []*models.Endpoint
	for rows.Next() {
		var ep models.Endpoint
		if err := rows.Scan(&ep.ID, &ep.AppID, &ep.Method, &ep.Path, &ep.IsActive, &ep.LastSeenAt, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		out = append(out, &ep)
	}
	return out, rows.Err()
}
