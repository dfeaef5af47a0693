package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxOpenConns  = 10
	defaultMaxIdleConns  = 5
	defaultDialTimeout   = 10 * time.Second
	defaultMaxRetries    = 3
	defaultRetryDelay    = 500 * time.Millisecond
	defaultRetentionDays = 90
)

// ConnectionConfig holds ClickHouse connection and retention parameters.
type ConnectionConfig struct {
	Addr          string
	Database      string
	Username      string
	Password      string
	MaxOpenConns  int
	MaxIdleConns  int
	DialTimeout   time.Duration
	MaxRetries    int
	TLS           *tls.Config
	RetentionDays int // TTL applied to request and log tables
}

// DefaultConfig returns the local single-node defaults.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Addr:          "localhost:9000",
		Database:      "default",
		Username:      "default",
		MaxOpenConns:  defaultMaxOpenConns,
		MaxIdleConns:  defaultMaxIdleConns,
		DialTimeout:   defaultDialTimeout,
		MaxRetries:    defaultMaxRetries,
		RetentionDays: defaultRetentionDays,
	}
}

// options maps the config onto driver options. Inserts are LZ4-compressed
// on the wire.
func (c *ConnectionConfig) options() *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{c.Addr},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression:      &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:      c.DialTimeout,
		MaxOpenConns:     c.MaxOpenConns,
		MaxIdleConns:     c.MaxIdleConns,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		TLS:              c.TLS,
	}
}

// Connect opens a connection and pings it, retrying with exponential
// backoff up to MaxRetries attempts.
func Connect(ctx context.Context, config *ConnectionConfig) (driver.Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	opts := config.options()

	attempts := max(config.MaxRetries, 1)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultRetryDelay

	var conn driver.Conn
	err := backoff.Retry(func() error {
		c, err := clickhouse.Open(opts)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse at %s (%d attempts): %w", config.Addr, attempts, err)
	}

	return conn, nil
}
