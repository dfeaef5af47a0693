// Package api provides the HTTP ingest and analytics endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apilens/apilens/internal/analytics"
	"github.com/apilens/apilens/pkg/models"
)

// AppIDHeader carries the tenant of every /api/v1 request.
const AppIDHeader = "X-App-ID"

// Ingester writes normalized batches to the analytical store.
type Ingester interface {
	IngestRequests(ctx context.Context, appID string, records []models.RequestRecord) (int, error)
	IngestLogs(ctx context.Context, appID string, records []models.LogRecord) (int, error)
}

// Server is the REST API server.
type Server struct {
	ingester  Ingester
	analytics *analytics.Service
	logger    *slog.Logger
	router    *chi.Mux
	server    *http.Server
}

type ctxKey struct{}

// NewServer creates a new API server.
func NewServer(addr string, ingester Ingester, svc *analytics.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ingester:  ingester,
		analytics: svc,
		logger:    logger,
		router:    chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(requireAppID)

		r.Post("/ingest/requests", s.ingestRequests)
		r.Post("/ingest/logs", s.ingestLogs)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/endpoints", s.endpointStats)
			r.Get("/consumers", s.consumerStats)
			r.Get("/consumers/activity", s.consumerActivity)
			r.Get("/consumers/requests", s.consumerRequestStats)

			r.Get("/logs", s.logs)
			r.Get("/logs/summary", s.logsSummary)
			r.Get("/logs/timeseries", s.logsTimeseries)
			r.Get("/logs/search-options", s.logsSearchOptions)

			r.Get("/summary", s.summary)
			r.Get("/timeseries", s.timeseries)
			r.Get("/related", s.relatedAPIs)

			r.Get("/endpoint/detail", s.endpointDetail)
			r.Get("/endpoint/timeseries", s.endpointTimeseries)
			r.Get("/endpoint/consumers", s.endpointConsumers)
			r.Get("/endpoint/status-codes", s.endpointStatusCodes)
			r.Get("/endpoint/payloads", s.endpointPayloads)
		})
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requireAppID rejects requests without a tenant header.
func requireAppID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appID := r.Header.Get(AppIDHeader)
		if appID == "" {
			respondError(w, http.StatusBadRequest, "missing "+AppIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, appID)))
	})
}

func appIDFrom(ctx context.Context) string {
	appID, _ := ctx.Value(ctxKey{}).(string)
	return appID
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError is a validation failure scoped to one input field.
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
