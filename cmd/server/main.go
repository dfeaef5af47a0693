// Command server runs the API telemetry ingestion and analytics engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/apilens/apilens/internal/analytics"
	"github.com/apilens/apilens/internal/api"
	"github.com/apilens/apilens/internal/config"
	"github.com/apilens/apilens/internal/ingest"
	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/internal/receiver"
	"github.com/apilens/apilens/internal/registry"
	"github.com/apilens/apilens/internal/storage"
)

func main() {
	os.Exit(run())
}

// buildStorageConfig creates storage config from the configuration spec
func buildStorageConfig(logger *slog.Logger, m *metrics.Metrics) storage.Config {
	return storage.Config{
		RegistryBackend:       config.Spec.GetString("registry.backend"),
		SQLitePath:            config.Spec.GetString("registry.sqlite-path"),
		PostgresURL:           config.Spec.GetString("registry.postgres-url"),
		ClickHouseAddr:        config.Spec.GetString("clickhouse.addr"),
		ClickHouseDatabase:    config.Spec.GetString("clickhouse.database"),
		ClickHouseUsername:    config.Spec.GetString("clickhouse.username"),
		ClickHousePassword:    config.Spec.GetString("clickhouse.password"),
		ClickHouseDialTimeout: time.Duration(config.Spec.GetInt("clickhouse.dial-timeout-seconds")) * time.Second,
		RetentionDays:         config.Spec.GetInt("clickhouse.retention-days"),
		Logger:                logger,
		Metrics:               m,
	}
}

// server is anything started in the background and stopped on shutdown.
type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type namedServer struct {
	name string
	server
}

func run() int {
	config.Spec.AddFlag(pflag.CommandLine, "log-level", "log-level")
	config.Spec.AddFlag(pflag.CommandLine, "listen-address", "api.listen-address")
	config.Spec.AddFlag(pflag.CommandLine, "registry-backend", "registry.backend")
	config.Spec.AddFlag(pflag.CommandLine, "otlp", "otlp.enabled")

	configFileFlag := pflag.String("config-file", "", "Path to configuration file")
	pflag.Parse()

	configFile := *configFileFlag
	if configFile == "" {
		configFile = os.Getenv("APILENS_CONFIG_FILE")
	}

	if err := config.Spec.LoadConfiguration(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		pflag.Usage()
		return 2
	}
	if err := config.ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(config.Spec.GetString("log-level")),
	}))
	slog.SetDefault(logger)

	shutdownTimeout := time.Duration(config.Spec.GetInt("shutdown-timeout-seconds")) * time.Second

	guards, err := config.LoadGuardsOrDefault(config.Spec.GetString("analytics.guards-file"))
	if err != nil {
		logger.Warn("failed to load guards, using defaults", "error", err)
		guards = config.DefaultGuards()
	}

	m := metrics.NewMetrics()
	storageCfg := buildStorageConfig(logger, m)

	ctx := context.Background()
	endpoints, err := storage.NewEndpointStore(ctx, storageCfg)
	if err != nil {
		logger.Error("failed to create endpoint store", "error", err)
		return 1
	}
	store := storage.NewAnalyticsStore(storageCfg)
	defer func() {
		var result *multierror.Error
		if err := store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("analytics store: %w", err))
		}
		if err := endpoints.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("endpoint store: %w", err))
		}
		if err := result.ErrorOrNil(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	// Provision eagerly; failures are retried on the first batch.
	store.EnsureSchema(ctx)

	pipeline := ingest.NewPipeline(store, registry.NewSyncer(endpoints, logger, m), logger, m)
	svc := analytics.NewService(store, endpoints, analytics.Options{
		Logger:              logger,
		Metrics:             m,
		HighCardinalityKeys: config.GuardKeys(guards),
	})

	servers := []namedServer{
		{"api", api.NewServer(config.Spec.GetString("api.listen-address"), pipeline, svc, logger)},
	}
	if config.Spec.GetBool("otlp.enabled") {
		servers = append(servers,
			namedServer{"otlp-http", receiver.NewHTTPReceiver(config.Spec.GetString("otlp.http-address"), pipeline, logger)},
			namedServer{"otlp-grpc", receiver.NewGRPCReceiver(config.Spec.GetString("otlp.grpc-address"), pipeline, logger)},
		)
	}

	metricsServer, err := metrics.StartServerIfEnabled(metrics.ServerConfig{
		Enabled: config.Spec.GetBool("metrics-server.enabled"),
		Address: config.Spec.GetString("metrics-server.listen-address"),
		Port:    config.Spec.GetInt("metrics-server.listen-port"),
	}, prometheus.DefaultGatherer, logger)
	if err != nil {
		logger.Error("failed to start metrics server", "error", err)
		return 1
	}
	if metricsServer != nil {
		servers = append(servers, namedServer{"metrics", shutdownOnly{metricsServer}})
	}

	errChan := make(chan error, len(servers))
	for _, s := range servers {
		go func(s namedServer) {
			logger.Info("starting server", "name", s.name)
			if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("%s: %w", s.name, err)
			}
		}(s)
	}

	signalsChan := make(chan os.Signal, 1)
	signal.Notify(signalsChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-signalsChan:
		logger.Info("signal received", "signal", sig)
	case err := <-errChan:
		logger.Error("server stopped with error", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		exitCode = 1
	}

	if exitCode == 0 {
		logger.Info("apilens stopped")
	}
	return exitCode
}

// shutdownOnly adapts an already running *http.Server.
type shutdownOnly struct {
	*http.Server
}

func (shutdownOnly) Start() error { return nil }
