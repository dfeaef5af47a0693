// Package sqlite provides a SQLite-backed endpoint registry.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apilens/apilens/pkg/models"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS endpoints (
	id           TEXT PRIMARY KEY,
	app_id       TEXT NOT NULL,
	method       TEXT NOT NULL,
	path         TEXT NOT NULL,
	is_active    INTEGER NOT NULL DEFAULT 1,
	last_seen_at TEXT,
	created_at   TEXT NOT NULL,
	UNIQUE (app_id, method, path)
);
CREATE INDEX IF NOT EXISTS idx_endpoints_app_active ON endpoints (app_id, is_active);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed endpoint registry.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath       string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:       dbPath,
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}
}

// New opens the database, applies pragmas and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000",
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// FindEndpoints returns endpoints of appID whose method is in methods and
// whose path is in paths.
func (s *Store) FindEndpoints(ctx context.Context, appID string, methods, paths []string) ([]*models.Endpoint, error) {
	if len(methods) == 0 || len(paths) == 0 {
		return nil, nil
	}

	args := make([]any, 0, 1+len(methods)+len(paths))
	args = append(args, appID)
	for _, m := range methods {
		args = append(args, m)
	}
	for _, p := range paths {
		args = append(args, p)
	}

	query := `
		SELECT id, app_id, method, path, is_active, last_seen_at, created_at
		FROM endpoints
		WHERE app_id = ? AND method IN (` + placeholders(len(methods)) + `)
		  AND path IN (` + placeholders(len(paths)) + `)
		ORDER BY method, path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

// InsertEndpointsIgnoreConflicts inserts endpoints in one transaction and
// skips rows that collide on (app_id, method, path).
func (s *Store) InsertEndpointsIgnoreConflicts(ctx context.Context, endpoints []*models.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO endpoints (id, app_id, method, path, is_active, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, ep := range endpoints {
		created := ep.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, ep.ID, ep.AppID, ep.Method, ep.Path,
			boolToInt(ep.IsActive), formatTime(ep.LastSeenAt), created.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("inserting endpoint %s: %w", ep.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateEndpoints applies all updates in a single transaction. Timestamps
// are fixed-width text, so last_seen_at only advances.
func (s *Store) UpdateEndpoints(ctx context.Context, updates []models.EndpointUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE endpoints
		SET is_active = ?1,
		    last_seen_at = CASE
		        WHEN ?2 IS NOT NULL AND (last_seen_at IS NULL OR ?2 > last_seen_at) THEN ?2
		        ELSE last_seen_at
		    END
		WHERE id = ?3`)
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, boolToInt(u.IsActive), formatTime(u.LastSeenAt), u.ID); err != nil {
			return fmt.Errorf("updating endpoint %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListEndpoints returns the active endpoints of appID.
func (s *Store) ListEndpoints(ctx context.Context, appID string) ([]*models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, method, path, is_active, last_seen_at, created_at
		FROM endpoints
		WHERE app_id = ? AND is_active = 1
		ORDER BY method, path`, appID)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

func scanEndpoints(rows *sql.Rows) ([]*models.Endpoint, error) {
	var out []*models.Endpoint
	for rows.Next() {
		var (
			ep        models.Endpoint
			active    int
			lastSeen  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ep.ID, &ep.AppID, &ep.Method, &ep.Path, &active, &lastSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		ep.IsActive = active != 0
		if lastSeen.Valid && lastSeen.String != "" {
			ts, err := time.Parse(timeLayout, lastSeen.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_seen_at for %s: %w", ep.ID, err)
			}
			ep.LastSeenAt = &ts
		}
		created, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", ep.ID, err)
		}
		ep.CreatedAt = created
		out = append(out, &ep)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
