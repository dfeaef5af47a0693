// Package receiver implements OTLP HTTP and gRPC endpoints for logs.
package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/apilens/apilens/pkg/models"
)

// AppIDHeader names the tenant header. gRPC metadata uses the lowercase
// form.
const AppIDHeader = "X-App-ID"

const maxBodyBytes = 32 << 20

// LogsIngester writes log batches for one tenant.
type LogsIngester interface {
	IngestLogs(ctx context.Context, appID string, records []models.LogRecord) (int, error)
}

// HTTPReceiver handles OTLP HTTP requests.
type HTTPReceiver struct {
	ingester LogsIngester
	logger   *slog.Logger
	now      func() time.Time
	server   *http.Server
}

// NewHTTPReceiver creates a new HTTP receiver.
func NewHTTPReceiver(addr string, ingester LogsIngester, logger *slog.Logger) *HTTPReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &HTTPReceiver{
		ingester: ingester,
		logger:   logger,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs", r.handleLogs)

	r.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r
}

// Handler returns the receiver's HTTP handler.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *HTTPReceiver) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// handleLogs handles OTLP logs export requests.
func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer req.Body.Close()

	appID := req.Header.Get(AppIDHeader)
	if appID == "" {
		http.Error(w, "missing "+AppIDHeader+" header", http.StatusBadRequest)
		return
	}

	reader := io.Reader(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to decompress: %v", err), http.StatusBadRequest)
			return
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	// Protobuf is the OTLP default; JSON is the fallback.
	var exportReq collogspb.ExportLogsServiceRequest
	if err := proto.Unmarshal(body, &exportReq); err != nil {
		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if jsonErr := unmarshaler.Unmarshal(body, &exportReq); jsonErr != nil {
			r.logger.Debug("failed to parse OTLP logs", "protobuf_error", err, "json_error", jsonErr)
			http.Error(w, fmt.Sprintf("Failed to parse request: protobuf error: %v, json error: %v", err, jsonErr), http.StatusBadRequest)
			return
		}
	}

	records := ConvertLogs(&exportReq, r.now())
	if err := checkBatchSize(records); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := r.ingester.IngestLogs(req.Context(), appID, records)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.logger.Error("OTLP logs ingest failed", "app_id", appID, "error", err)
		http.Error(w, "analytical store unavailable", http.StatusServiceUnavailable)
		return
	}
	r.logger.Debug("OTLP logs ingested", "app_id", appID, "records", n)

	r.writeResponse(w, &collogspb.ExportLogsServiceResponse{})
}

// writeResponse writes a protobuf response.
func (r *HTTPReceiver) writeResponse(w http.ResponseWriter, resp proto.Message) {
	respBytes, err := proto.Marshal(resp)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(respBytes))
}
