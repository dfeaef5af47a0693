package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/internal/storage/clickhouse"
	"github.com/apilens/apilens/internal/storage/memory"
	"github.com/apilens/apilens/internal/storage/postgres"
	"github.com/apilens/apilens/internal/storage/sqlite"
)

// Config holds storage configuration.
type Config struct {
	// RegistryBackend selects the endpoint store: "sqlite", "postgres" or "memory"
	RegistryBackend string
	SQLitePath      string
	PostgresURL     string

	// ClickHouse-specific config
	ClickHouseAddr        string
	ClickHouseDatabase    string
	ClickHouseUsername    string
	ClickHousePassword    string
	ClickHouseDialTimeout time.Duration
	RetentionDays         int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	return Config{
		RegistryBackend:       "sqlite",
		SQLitePath:            "./data/apilens.db",
		ClickHouseAddr:        "localhost:9000",
		ClickHouseDatabase:    "default",
		ClickHouseUsername:    "default",
		ClickHouseDialTimeout: 10 * time.Second,
		RetentionDays:         90,
	}
}

// NewEndpointStore creates the relational endpoint store selected by cfg.
func NewEndpointStore(ctx context.Context, cfg Config) (EndpointStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.RegistryBackend {
	case "memory":
		logger.Info("using in-memory endpoint registry")
		return memory.New(), nil

	case "sqlite":
		logger.Info("using SQLite endpoint registry", "path", cfg.SQLitePath)
		store, err := sqlite.New(sqlite.DefaultConfig(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	case "postgres":
		logger.Info("using PostgreSQL endpoint registry")
		store, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("creating PostgreSQL store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown registry backend: %s (supported: sqlite, postgres, memory)", cfg.RegistryBackend)
	}
}

// NewAnalyticsStore creates the ClickHouse analytics store. The connection
// is opened lazily, so this never fails when ClickHouse is down.
func NewAnalyticsStore(cfg Config) AnalyticsStore {
	chCfg := clickhouse.DefaultConfig()
	chCfg.Addr = cfg.ClickHouseAddr
	chCfg.Database = cfg.ClickHouseDatabase
	chCfg.Username = cfg.ClickHouseUsername
	chCfg.Password = cfg.ClickHousePassword
	if cfg.ClickHouseDialTimeout > 0 {
		chCfg.DialTimeout = cfg.ClickHouseDialTimeout
	}
	if cfg.RetentionDays > 0 {
		chCfg.RetentionDays = cfg.RetentionDays
	}

	return clickhouse.NewStore(chCfg, cfg.Logger, cfg.Metrics)
}
