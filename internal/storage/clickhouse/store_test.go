package clickhouse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/pkg/models"
)

func TestStoreUnavailable(t *testing.T) {
	dials := 0
	dialer := func(ctx context.Context, cfg *ConnectionConfig) (driver.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}
	store := NewStoreWithDialer(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewUnregistered(), dialer)
	ctx := context.Background()

	if _, err := store.Query(ctx, "SELECT 1", nil); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from Query, got %v", err)
	}
	err := store.InsertRequests(ctx, []models.RequestRow{{AppID: "app"}})
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from InsertRequests, got %v", err)
	}

	// Not an error, only logged.
	store.EnsureSchema(ctx)

	if dials != 3 {
		t.Errorf("expected a dial attempt per call, got %d", dials)
	}
	if err := store.Close(); err != nil {
		t.Errorf("closing an unconnected store failed: %v", err)
	}
}

func TestConcurrentCallersShareDial(t *testing.T) {
	const delay = 200 * time.Millisecond
	var dials atomic.Int32
	dialer := func(ctx context.Context, cfg *ConnectionConfig) (driver.Conn, error) {
		dials.Add(1)
		time.Sleep(delay)
		return nil, errors.New("connection refused")
	}
	store := NewStoreWithDialer(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewUnregistered(), dialer)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	start := time.Now()
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Query(context.Background(), "SELECT 1", nil)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, err := range errs {
		if !errors.Is(err, models.ErrStoreUnavailable) {
			t.Errorf("caller %d: expected ErrStoreUnavailable, got %v", i, err)
		}
	}
	if elapsed > 3*delay {
		t.Errorf("concurrent callers took %v, expected about one dial (%v)", elapsed, delay)
	}
	if n := dials.Load(); n > 2 {
		t.Errorf("expected callers to share the in-flight dial, got %d dials", n)
	}
}

func TestCanceledCallerStopsWaiting(t *testing.T) {
	release := make(chan struct{})
	dialer := func(ctx context.Context, cfg *ConnectionConfig) (driver.Conn, error) {
		<-release
		return nil, errors.New("connection refused")
	}
	store := NewStoreWithDialer(DefaultConfig(), nil, nil, dialer)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := store.Query(ctx, "SELECT 1", nil); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestEmptyInsertsSkipConnection(t *testing.T) {
	dialer := func(ctx context.Context, cfg *ConnectionConfig) (driver.Conn, error) {
		t.Fatal("dial must not happen for empty inserts")
		return nil, nil
	}
	store := NewStoreWithDialer(DefaultConfig(), nil, nil, dialer)

	if err := store.InsertRequests(context.Background(), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := store.InsertLogs(context.Background(), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNamedArgsSorted(t *testing.T) {
	args := namedArgs(map[string]any{"b": 2, "a": 1})
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	first, ok := args[0].(driver.NamedValue)
	if !ok {
		t.Fatalf("expected driver.NamedValue, got %T", args[0])
	}
	if first.Name != "a" || first.Value != 1 {
		t.Errorf("expected a=1 first, got %s=%v", first.Name, first.Value)
	}
}

func TestClampHelpers(t *testing.T) {
	if clampStatus(-1) != 0 || clampStatus(404) != 404 || clampStatus(70000) != 65535 {
		t.Error("clampStatus out of range handling is wrong")
	}
	if clampSize(-5) != 0 || clampSize(10) != 10 {
		t.Error("clampSize out of range handling is wrong")
	}
}

func TestConnectionOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "ch-1:9000"
	cfg.Database = "analytics"
	cfg.Password = "secret"

	opts := cfg.options()
	if len(opts.Addr) != 1 || opts.Addr[0] != "ch-1:9000" {
		t.Errorf("unexpected addr: %v", opts.Addr)
	}
	if opts.Auth.Database != "analytics" || opts.Auth.Username != "default" || opts.Auth.Password != "secret" {
		t.Errorf("unexpected auth: %+v", opts.Auth)
	}
	if opts.Compression == nil || opts.Compression.Method != clickhouse.CompressionLZ4 {
		t.Errorf("expected LZ4 compression, got %+v", opts.Compression)
	}
	if opts.DialTimeout != defaultDialTimeout {
		t.Errorf("expected default dial timeout, got %v", opts.DialTimeout)
	}
}
