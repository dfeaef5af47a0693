package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"golang.org/x/sync/singleflight"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/pkg/models"
)

// Dialer opens a connection. Connect is the default.
type Dialer func(ctx context.Context, config *ConnectionConfig) (driver.Conn, error)

// Store is the ClickHouse analytical store. The connection is opened on
// first use; a failed dial is re-attempted on the next call. Concurrent
// callers share a single in-flight dial.
type Store struct {
	config      *ConnectionConfig
	logger      *slog.Logger
	provisioner *Provisioner
	dial        Dialer
	dials       singleflight.Group

	mu   sync.Mutex
	conn driver.Conn
}

// NewStore creates a new ClickHouse store. It does not connect.
func NewStore(config *ConnectionConfig, logger *slog.Logger, m *metrics.Metrics) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		config:      config,
		logger:      logger,
		provisioner: NewProvisioner(config.RetentionDays, logger, m),
		dial:        Connect,
	}
}

// NewStoreWithDialer is NewStore with a custom dialer.
func NewStoreWithDialer(config *ConnectionConfig, logger *slog.Logger, m *metrics.Metrics, dial Dialer) *Store {
	s := NewStore(config, logger, m)
	s.dial = dial
	return s
}

// Provisioner returns the schema provisioner.
func (s *Store) Provisioner() *Provisioner {
	return s.provisioner
}

func (s *Store) current() driver.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Store) connection(ctx context.Context) (driver.Conn, error) {
	if conn := s.current(); conn != nil {
		return conn, nil
	}

	ch := s.dials.DoChan("dial", func() (any, error) {
		if conn := s.current(); conn != nil {
			return conn, nil
		}

		timeout := s.config.DialTimeout
		if timeout <= 0 {
			timeout = defaultDialTimeout
		}
		// The dial outlives a caller that gives up; others may be waiting on it.
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout*time.Duration(max(s.config.MaxRetries, 1)))
		defer cancel()

		conn, err := s.dial(dialCtx, s.config)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.logger.Info("connected to ClickHouse", "addr", s.config.Addr, "database", s.config.Database)
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, res.Err)
		}
		return res.Val.(driver.Conn), nil
	}
}

// EnsureSchema provisions every artifact. A connection failure is logged.
func (s *Store) EnsureSchema(ctx context.Context) {
	conn, err := s.connection(ctx)
	if err != nil {
		s.logger.Warn("skipping schema provisioning", "error", err)
		return
	}
	s.provisioner.Ensure(ctx, conn)
}

// Query runs query with named parameters. Keys in args match @key in the
// statement.
func (s *Store) Query(ctx context.Context, query string, args map[string]any) (driver.Rows, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, query, namedArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return rows, nil
}

// InsertRequests writes request rows in one batch.
func (s *Store) InsertRequests(ctx context.Context, rows []models.RequestRow) error {
	if len(rows) == 0 {
		return nil
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	return insertRequests(ctx, conn, rows)
}

// InsertLogs writes log rows in one batch.
func (s *Store) InsertLogs(ctx context.Context, rows []models.LogRow) error {
	if len(rows) == 0 {
		return nil
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	return insertLogs(ctx, conn, rows)
}

// Close closes the connection if one was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// namedArgs converts args to clickhouse.Named values in key order.
func namedArgs(args map[string]any) []any {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, clickhouse.Named(k, args[k]))
	}
	return out
}
