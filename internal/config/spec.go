package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Spec defines all configuration items of the server.
var Spec = ConfigSpec{
	// ClickHouse
	"clickhouse.addr": ConfigVarSpec{
		Help:         "ClickHouse native protocol address",
		DefaultValue: "localhost:9000",
		EnvVar:       "APILENS_CLICKHOUSE_ADDR",
	},
	"clickhouse.database": ConfigVarSpec{
		Help:         "ClickHouse database",
		DefaultValue: "default",
		EnvVar:       "APILENS_CLICKHOUSE_DATABASE",
	},
	"clickhouse.username": ConfigVarSpec{
		Help:         "ClickHouse username",
		DefaultValue: "default",
		EnvVar:       "APILENS_CLICKHOUSE_USERNAME",
	},
	"clickhouse.password": ConfigVarSpec{
		Help:         "ClickHouse password",
		DefaultValue: "",
		EnvVar:       "APILENS_CLICKHOUSE_PASSWORD",
	},
	"clickhouse.dial-timeout-seconds": ConfigVarSpec{
		Help:         "ClickHouse dial timeout in seconds",
		DefaultValue: 10,
		EnvVar:       "APILENS_CLICKHOUSE_DIAL_TIMEOUT_SECONDS",
	},
	"clickhouse.retention-days": ConfigVarSpec{
		Help:         "Days of request and log rows kept before TTL removal",
		DefaultValue: 90,
		EnvVar:       "APILENS_CLICKHOUSE_RETENTION_DAYS",
	},

	// Endpoint registry
	"registry.backend": ConfigVarSpec{
		Help:         "Endpoint registry backend (sqlite|postgres|memory)",
		DefaultValue: "sqlite",
		EnvVar:       "APILENS_REGISTRY_BACKEND",
		ParseFunc:    parseLower,
	},
	"registry.sqlite-path": ConfigVarSpec{
		Help:         "SQLite database file for the endpoint registry",
		DefaultValue: "./data/apilens.db",
		EnvVar:       "APILENS_REGISTRY_SQLITE_PATH",
	},
	"registry.postgres-url": ConfigVarSpec{
		Help:         "PostgreSQL connection URL for the endpoint registry",
		DefaultValue: "",
		EnvVar:       "APILENS_REGISTRY_POSTGRES_URL",
	},

	// HTTP API
	"api.listen-address": ConfigVarSpec{
		Help:         "Address of the ingest and analytics API",
		DefaultValue: ":8080",
		EnvVar:       "APILENS_API_LISTEN_ADDRESS",
	},

	// OTLP receivers
	"otlp.enabled": ConfigVarSpec{
		Help:         "Accept OTLP logs over HTTP and gRPC",
		DefaultValue: false,
		EnvVar:       "APILENS_OTLP_ENABLED",
	},
	"otlp.http-address": ConfigVarSpec{
		Help:         "OTLP/HTTP listen address",
		DefaultValue: ":4318",
		EnvVar:       "APILENS_OTLP_HTTP_ADDRESS",
	},
	"otlp.grpc-address": ConfigVarSpec{
		Help:         "OTLP/gRPC listen address",
		DefaultValue: ":4317",
		EnvVar:       "APILENS_OTLP_GRPC_ADDRESS",
	},

	// Metrics
	"metrics-server.enabled": ConfigVarSpec{
		Help:         "Serve Prometheus metrics",
		DefaultValue: true,
		EnvVar:       "APILENS_METRICS_SERVER_ENABLED",
	},
	"metrics-server.listen-address": ConfigVarSpec{
		Help:         "Metrics server listen address",
		DefaultValue: "0.0.0.0",
		EnvVar:       "APILENS_METRICS_SERVER_LISTEN_ADDRESS",
	},
	"metrics-server.listen-port": ConfigVarSpec{
		Help:         "Metrics server listen port",
		DefaultValue: 9090,
		EnvVar:       "APILENS_METRICS_SERVER_LISTEN_PORT",
	},

	// Analytics
	"analytics.guards-file": ConfigVarSpec{
		Help:         "YAML file listing high-cardinality attribute keys",
		DefaultValue: "",
		EnvVar:       "APILENS_ANALYTICS_GUARDS_FILE",
	},

	// General
	"log-level": ConfigVarSpec{
		Help:         "Log level (error|warn|info|debug)",
		DefaultValue: "info",
		EnvVar:       "APILENS_LOG_LEVEL",
		ParseFunc:    parseLower,
	},
	"shutdown-timeout-seconds": ConfigVarSpec{
		Help:         "Grace period for in-flight requests on shutdown",
		DefaultValue: 15,
		EnvVar:       "APILENS_SHUTDOWN_TIMEOUT_SECONDS",
	},
}

func parseLower(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %T", v)
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

// ValidateConfig checks values beyond their types.
func ValidateConfig() error {
	logLevel := Spec.GetString("log-level")
	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true}
	if !validLevels[logLevel] {
		return fmt.Errorf("invalid log-level: %s (must be error|warn|info|debug)", logLevel)
	}

	switch backend := Spec.GetString("registry.backend"); backend {
	case "sqlite":
		if Spec.GetString("registry.sqlite-path") == "" {
			return fmt.Errorf("registry.sqlite-path is required for the sqlite backend")
		}
	case "postgres":
		if Spec.GetString("registry.postgres-url") == "" {
			return fmt.Errorf("registry.postgres-url is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid registry.backend: %s (must be sqlite|postgres|memory)", backend)
	}

	if v := Spec.GetInt("clickhouse.dial-timeout-seconds"); v <= 0 {
		return fmt.Errorf("clickhouse.dial-timeout-seconds must be positive, got %d", v)
	}
	if v := Spec.GetInt("clickhouse.retention-days"); v <= 0 {
		return fmt.Errorf("clickhouse.retention-days must be positive, got %d", v)
	}
	if v := Spec.GetInt("shutdown-timeout-seconds"); v <= 0 {
		return fmt.Errorf("shutdown-timeout-seconds must be positive, got %d", v)
	}
	if Spec.GetBool("metrics-server.enabled") {
		if port := Spec.GetInt("metrics-server.listen-port"); port < 0 || port > 65535 {
			return fmt.Errorf("metrics-server.listen-port out of range: %d", port)
		}
	}
	return nil
}

// ParseLogLevel maps a validated log-level value to a slog level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
