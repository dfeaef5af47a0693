package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/apilens/apilens/pkg/models"
)

// GRPCReceiver handles OTLP gRPC log exports.
type GRPCReceiver struct {
	collogspb.UnimplementedLogsServiceServer
	ingester LogsIngester
	logger   *slog.Logger
	now      func() time.Time
	server   *grpc.Server
	addr     string
}

// NewGRPCReceiver creates a new gRPC receiver.
func NewGRPCReceiver(addr string, ingester LogsIngester, logger *slog.Logger) *GRPCReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &GRPCReceiver{
		ingester: ingester,
		logger:   logger,
		now:      time.Now,
		addr:     addr,
		server:   grpc.NewServer(),
	}
	collogspb.RegisterLogsServiceServer(r.server, r)
	reflection.Register(r.server)
	return r
}

// Start starts the gRPC server.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	r.logger.Info("OTLP gRPC receiver listening", "address", r.addr)
	return r.server.Serve(lis)
}

// Shutdown gracefully shuts down the gRPC server.
func (r *GRPCReceiver) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.server.Stop()
		return ctx.Err()
	}
}

// Export implements the LogsService Export RPC.
func (r *GRPCReceiver) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	appID := appIDFromMetadata(ctx)
	if appID == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s metadata", strings.ToLower(AppIDHeader))
	}

	records := ConvertLogs(req, r.now())
	if err := checkBatchSize(records); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, err := r.ingester.IngestLogs(ctx, appID, records); err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		r.logger.Error("OTLP logs ingest failed", "app_id", appID, "error", err)
		return nil, status.Error(codes.Unavailable, "analytical store unavailable")
	}

	return &collogspb.ExportLogsServiceResponse{}, nil
}

func appIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(strings.ToLower(AppIDHeader)) {
		if v != "" {
			return v
		}
	}
	return ""
}
