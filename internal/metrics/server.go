package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the /metrics listener.
type ServerConfig struct {
	Enabled bool
	Address string
	Port    int
}

type promhttpErrorLogger struct {
	promhttp.Logger

	baseLogger *slog.Logger
}

func (logger *promhttpErrorLogger) Println(v ...interface{}) {
	logger.baseLogger.Error("error during handling of metrics request", "error_args", v)
}

// StartServerIfEnabled starts a server answering "/metrics" from gatherer.
//
// It returns nil when the server is disabled. A non-nil server should be
// closed with Shutdown().
func StartServerIfEnabled(cfg ServerConfig, gatherer prometheus.Gatherer, logger *slog.Logger) (*http.Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: &promhttpErrorLogger{baseLogger: logger},
	}))

	server := &http.Server{
		Handler:           mux,
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenConfig := &net.ListenConfig{}
	listener, err := listenConfig.Listen(context.Background(), "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: listening on %s: %w", server.Addr, err)
	}
	server.Addr = listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("metrics server started", "address", server.Addr)
	return server, nil
}
