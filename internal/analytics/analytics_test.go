package analytics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/apilens/apilens/internal/ingest"
	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/internal/storage/memory"
	"github.com/apilens/apilens/internal/storage/storagetest"
	"github.com/apilens/apilens/pkg/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store *storagetest.AnalyticsStore, endpoints *memory.Store) (*Service, *metrics.Metrics) {
	m := metrics.NewUnregistered()
	opts := Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
		Now:     func() time.Time { return testNow },
	}
	if endpoints == nil {
		return NewService(store, nil, opts), m
	}
	return NewService(store, endpoints, opts), m
}

// endpointRow builds a row in the column order of the endpoint stats query.
func endpointRow(method, path string, total, errs int64) []any {
	return []any{method, path, total, errs, 12.5, 40.0, int64(100), int64(200), testNow.Add(-time.Minute)}
}

func TestEndpointStatsPagination(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.NewRows(
				endpointRow("GET", "/a", 50, 0),
				endpointRow("GET", "/b", 40, 1),
				endpointRow("GET", "/c", 30, 2),
				endpointRow("GET", "/d", 20, 3),
				endpointRow("GET", "/e", 10, 4),
			), nil
		},
	}
	svc, _ := newTestService(store, nil)
	f := query.Filter{AppID: "app"}
	order := ParseSort("", "")

	first := svc.EndpointStats(context.Background(), f, order, 1, 2)
	if len(first.Items) != 2 || first.TotalCount != 5 {
		t.Fatalf("expected 2 items and total 5, got %d and %d", len(first.Items), first.TotalCount)
	}
	if first.Items[0].Path != "/a" || first.Items[1].Path != "/b" {
		t.Errorf("expected /a, /b on page 1, got %s, %s", first.Items[0].Path, first.Items[1].Path)
	}

	third := svc.EndpointStats(context.Background(), f, order, 3, 2)
	if len(third.Items) != 1 || third.Items[0].Path != "/e" {
		t.Fatalf("expected only /e on page 3, got %+v", third.Items)
	}
	if third.Page != 3 || third.PageSize != 2 {
		t.Errorf("unexpected envelope: page=%d page_size=%d", third.Page, third.PageSize)
	}

	past := svc.EndpointStats(context.Background(), f, order, 9, 2)
	if len(past.Items) != 0 || past.TotalCount != 5 {
		t.Errorf("expected an empty page past the end, got %d items", len(past.Items))
	}

	huge := svc.EndpointStats(context.Background(), f, order, math.MaxInt64/2+2, 2)
	if len(huge.Items) != 0 || huge.TotalCount != 5 {
		t.Errorf("expected an empty page for a huge page number, got %d items, total %d", len(huge.Items), huge.TotalCount)
	}
}

func TestPaginateLargePage(t *testing.T) {
	items := []int{1, 2, 3}
	for _, page := range []int{math.MaxInt64, math.MaxInt64/2 + 2, math.MaxInt64 / MaxPageSize} {
		got := Paginate(items, page, MaxPageSize)
		if len(got.Items) != 0 || got.TotalCount != 3 || got.Page != page {
			t.Errorf("page %d: expected empty items with total 3, got %+v", page, got)
		}
	}

	last := Paginate([]int{1, 2, 3, 4, 5}, 3, 2)
	if len(last.Items) != 1 || last.Items[0] != 5 {
		t.Errorf("expected the partial last page, got %v", last.Items)
	}
}

func TestLogsPastLastPage(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.NewRows([]any{int64(5)}), nil
		},
	}
	svc, _ := newTestService(store, nil)
	f := query.Filter{AppID: "app"}

	for _, p := range []int{4, math.MaxInt64/2 + 2} {
		store.Calls = nil
		page := svc.Logs(context.Background(), f, p, 2)
		if len(page.Items) != 0 || page.TotalCount != 5 {
			t.Errorf("page %d: expected no items with total 5, got %d items, total %d", p, len(page.Items), page.TotalCount)
		}
		if len(store.Calls) != 1 {
			t.Errorf("page %d: expected only the count query, got %d queries", p, len(store.Calls))
		}
	}

	store.Calls = nil
	svc.Logs(context.Background(), f, 3, 2)
	var offset any
	for k, v := range store.LastCall().Args {
		if strings.HasPrefix(k, "offset_") {
			offset = v
		}
	}
	if offset != 4 {
		t.Errorf("expected offset 4 for page 3, got %v", offset)
	}
}

func TestViewsProvisionSchema(t *testing.T) {
	store := &storagetest.AnalyticsStore{}
	svc, _ := newTestService(store, nil)

	svc.Summary(context.Background(), query.Filter{AppID: "app"})
	if store.EnsureCalls == 0 {
		t.Error("expected schema provisioning before the view query")
	}
	if store.EnsureCalls != len(store.Calls) {
		t.Errorf("expected one provisioning pass per query, got %d for %d queries", store.EnsureCalls, len(store.Calls))
	}
}

func TestEndpointStatsMergesRegisteredEndpoints(t *testing.T) {
	endpoints := memory.New()
	seen := testNow.Add(-48 * time.Hour)
	_ = endpoints.InsertEndpointsIgnoreConflicts(context.Background(), []*models.Endpoint{
		{ID: "ep-users", AppID: "app", Method: "GET", Path: "/users", IsActive: true},
		{ID: "ep-idle", AppID: "app", Method: "POST", Path: "/idle", IsActive: true, LastSeenAt: &seen},
	})

	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.NewRows(
				endpointRow("GET", "/users", 10, 5),
				endpointRow("PUT", "/unregistered", 3, 0),
			), nil
		},
	}
	svc, _ := newTestService(store, endpoints)

	page := svc.EndpointStats(context.Background(), query.Filter{AppID: "app"}, Sort{Key: SortEndpoint}, 1, 50)
	if page.TotalCount != 3 {
		t.Fatalf("expected 3 merged rows, got %d: %+v", page.TotalCount, page.Items)
	}

	byPath := map[string]models.EndpointStat{}
	for _, st := range page.Items {
		byPath[st.Path] = st
	}

	users := byPath["/users"]
	if users.EndpointID == nil || *users.EndpointID != "ep-users" || users.TotalRequests != 10 {
		t.Errorf("expected registered /users with traffic, got %+v", users)
	}
	if users.ErrorRate != 50 {
		t.Errorf("expected error rate 50, got %v", users.ErrorRate)
	}

	idle := byPath["/idle"]
	if idle.EndpointID == nil || idle.TotalRequests != 0 || idle.ErrorRate != 0 {
		t.Errorf("expected zero-traffic registered endpoint, got %+v", idle)
	}
	if idle.LastSeenAt == nil || !idle.LastSeenAt.Equal(seen) {
		t.Errorf("expected registry last_seen_at for idle endpoint, got %v", idle.LastSeenAt)
	}

	unregistered := byPath["/unregistered"]
	if unregistered.EndpointID != nil || unregistered.TotalRequests != 3 {
		t.Errorf("expected traffic-only row with nil endpoint id, got %+v", unregistered)
	}

	if page.Items[0].Method != "GET" || page.Items[1].Method != "POST" || page.Items[2].Method != "PUT" {
		t.Errorf("expected endpoint ascending order, got %s %s %s",
			page.Items[0].Method, page.Items[1].Method, page.Items[2].Method)
	}
}

func TestMergeRespectsFilter(t *testing.T) {
	registered := []*models.Endpoint{
		{ID: "1", Method: "GET", Path: "/users"},
		{ID: "2", Method: "POST", Path: "/orders"},
	}

	merged := MergeEndpointStats(nil, registered, query.Filter{Methods: []string{"post"}})
	if len(merged) != 1 || merged[0].Path != "/orders" {
		t.Errorf("method filter: expected only /orders, got %+v", merged)
	}

	merged = MergeEndpointStats(nil, registered, query.Filter{Search: "USER"})
	if len(merged) != 1 || merged[0].Path != "/users" {
		t.Errorf("search filter: expected only /users, got %+v", merged)
	}
}

func TestSortEndpointStats(t *testing.T) {
	stats := []models.EndpointStat{
		{Path: "/a", TrafficMetrics: models.TrafficMetrics{ErrorRate: 10}},
		{Path: "/b", TrafficMetrics: models.TrafficMetrics{ErrorRate: 30}},
		{Path: "/c", TrafficMetrics: models.TrafficMetrics{ErrorRate: 10}},
	}
	SortEndpointStats(stats, Sort{Key: SortErrorRate, Desc: true})

	got := []string{stats[0].Path, stats[1].Path, stats[2].Path}
	want := []string{"/b", "/a", "/c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if s := ParseSort("bogus", "asc"); s.Key != SortTotalRequests || s.Desc {
		t.Errorf("expected total_requests ascending, got %+v", s)
	}
}

func TestStoreUnavailableReturnsEmptyShapes(t *testing.T) {
	svc, m := newTestService(storagetest.Unavailable(), nil)
	ctx := context.Background()
	f := query.Filter{AppID: "app"}

	page := svc.EndpointStats(ctx, f, Sort{}, 2, 20)
	if page.Items == nil || len(page.Items) != 0 || page.TotalCount != 0 || page.Page != 2 || page.PageSize != 20 {
		t.Errorf("endpoint stats: unexpected %+v", page)
	}
	if got := svc.ConsumerStats(ctx, f, 10); got == nil || len(got) != 0 {
		t.Errorf("consumer stats: expected empty slice, got %v", got)
	}
	if got := svc.ConsumerActivity(ctx, f, "acme", 10); got == nil || len(got) != 0 {
		t.Errorf("consumer activity: expected empty slice, got %v", got)
	}
	if got := svc.ConsumerRequestStats(ctx, f, "acme", 10); got == nil || len(got) != 0 {
		t.Errorf("consumer request stats: expected empty slice, got %v", got)
	}
	if logs := svc.Logs(ctx, f, 1, 50); logs.Items == nil || logs.TotalCount != 0 {
		t.Errorf("logs: unexpected %+v", logs)
	}
	if got := svc.LogsSummary(ctx, f); got != (models.LogsSummary{}) {
		t.Errorf("logs summary: expected zero value, got %+v", got)
	}
	if got := svc.LogsTimeseries(ctx, f, 60); got == nil || len(got) != 0 {
		t.Errorf("logs timeseries: expected empty slice, got %v", got)
	}
	if got := svc.LogsSearchOptions(ctx, f, "region", "", 10); got.Keys == nil || got.Values == nil || len(got.Keys) != 0 {
		t.Errorf("search options: unexpected %+v", got)
	}
	if got := svc.Summary(ctx, f); got != (models.Summary{}) {
		t.Errorf("summary: expected zero value, got %+v", got)
	}
	if got := svc.Timeseries(ctx, f); got == nil || len(got) != 0 {
		t.Errorf("timeseries: expected empty slice, got %v", got)
	}
	if got := svc.RelatedAPIs(ctx, f); got == nil || len(got) != 0 {
		t.Errorf("related: expected empty slice, got %v", got)
	}
	detail := svc.EndpointDetail(ctx, f, "get", "/users")
	if detail.Method != "GET" || detail.Path != "/users" || detail.TotalRequests != 0 || detail.LastSeenAt != nil {
		t.Errorf("endpoint detail: unexpected %+v", detail)
	}
	if got := svc.EndpointTimeseries(ctx, f, "GET", "/users"); got == nil || len(got) != 0 {
		t.Errorf("endpoint timeseries: expected empty slice, got %v", got)
	}
	if got := svc.EndpointConsumers(ctx, f, "GET", "/users", 10); got == nil || len(got) != 0 {
		t.Errorf("endpoint consumers: expected empty slice, got %v", got)
	}
	if got := svc.EndpointStatusCodes(ctx, f, "GET", "/users"); got == nil || len(got) != 0 {
		t.Errorf("endpoint status codes: expected empty slice, got %v", got)
	}
	if got := svc.EndpointPayloads(ctx, f, "GET", "/users", 10); got == nil || len(got) != 0 {
		t.Errorf("endpoint payloads: expected empty slice, got %v", got)
	}

	if got := testutil.ToFloat64(m.Analytics.Degraded.WithLabelValues("summary")); got != 1 {
		t.Errorf("expected summary to be counted as degraded once, got %v", got)
	}
}

func TestQueryFailureMidIteration(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.FailingRows(fmt.Errorf("read timeout")), nil
		},
	}
	svc, _ := newTestService(store, nil)

	if got := svc.Timeseries(context.Background(), query.Filter{AppID: "app"}); len(got) != 0 {
		t.Errorf("expected empty result on iteration error, got %v", got)
	}
}

func TestConsumerActivityUsesFallbackIdentity(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.NewRows(
				[]any{testNow, "prod", "GET", "/a", int64(200), 5.0, int64(0), int64(0), "10.0.0.1", "curl/8", "c-1", "", ""},
				[]any{testNow, "prod", "GET", "/a", int64(200), 5.0, int64(0), int64(0), "", "", "", "", ""},
			), nil
		},
	}
	svc, _ := newTestService(store, nil)

	entries := svc.ConsumerActivity(context.Background(), query.Filter{AppID: "app"}, "c-1", 1000)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Consumer != "c-1" {
		t.Errorf("expected consumer_id fallback, got %q", entries[0].Consumer)
	}
	if entries[1].Consumer != "unknown" {
		t.Errorf("expected unknown fallback, got %q", entries[1].Consumer)
	}

	call := store.LastCall()
	if !strings.Contains(call.Query, query.ConsumerExpr+" = @consumer_0") {
		t.Errorf("expected the consumer predicate to use the fallback chain:\n%s", call.Query)
	}
	if call.Args["limit_1"] != MaxActivityLimit {
		t.Errorf("expected limit clamped to %d, got %v", MaxActivityLimit, call.Args["limit_1"])
	}
}

func TestConsumerActivityBlankConsumer(t *testing.T) {
	store := &storagetest.AnalyticsStore{}
	svc, _ := newTestService(store, nil)

	if got := svc.ConsumerActivity(context.Background(), query.Filter{AppID: "app"}, "  ", 10); len(got) != 0 {
		t.Errorf("expected no entries, got %v", got)
	}
	if len(store.Calls) != 0 {
		t.Errorf("expected no query for a blank consumer, got %d", len(store.Calls))
	}
}

func TestConsumerStatsGroupsByDerivedIdentity(t *testing.T) {
	store := &storagetest.AnalyticsStore{}
	svc, _ := newTestService(store, nil)

	svc.ConsumerStats(context.Background(), query.Filter{AppID: "app"}, 0)
	call := store.LastCall()
	if !strings.Contains(call.Query, query.ConsumerExpr+" AS consumer") || !strings.Contains(call.Query, "GROUP BY consumer") {
		t.Errorf("unexpected consumer stats query:\n%s", call.Query)
	}
	if call.Args["limit_0"] != 1 {
		t.Errorf("expected limit clamped to 1, got %v", call.Args["limit_0"])
	}
}

func TestLogsRoundTripAttributes(t *testing.T) {
	store := &storagetest.AnalyticsStore{}
	pipeline := ingest.NewPipeline(store, nil, nil, nil)

	var attrs models.Attributes
	if err := attrs.UnmarshalJSON([]byte(`{"a":"1","b":2}`)); err != nil {
		t.Fatalf("decoding attributes: %v", err)
	}
	_, err := pipeline.IngestLogs(context.Background(), "app", []models.LogRecord{{
		Timestamp: testNow, Environment: "prod", Level: "error", Message: "boom", Attributes: attrs,
	}})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	store.OnQuery = func(q string, args map[string]any) (driver.Rows, error) {
		if strings.HasPrefix(q, "SELECT toInt64(count())") {
			return storagetest.NewRows([]any{int64(len(store.Logs))}), nil
		}
		var data [][]any
		for _, r := range store.Logs {
			data = append(data, []any{r.Timestamp, r.Environment, r.Level, r.Message, r.LoggerName,
				r.EndpointMethod, r.EndpointPath, int64(r.StatusCode), r.ConsumerID, r.ConsumerName,
				r.ConsumerGroup, r.TraceID, r.SpanID, r.Payload, r.Attributes})
		}
		return storagetest.NewRows(data...), nil
	}

	svc, _ := newTestService(store, nil)
	page := svc.Logs(context.Background(), query.Filter{AppID: "app"}, 1, 10)
	if page.TotalCount != 1 || len(page.Items) != 1 {
		t.Fatalf("expected 1 log, got total=%d items=%d", page.TotalCount, len(page.Items))
	}
	got := page.Items[0].Attributes
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Errorf("expected {a:1 b:2}, got %v", got)
	}
	if page.Items[0].Level != models.LevelError {
		t.Errorf("expected ERROR level, got %s", page.Items[0].Level)
	}
}

func TestDecodeAttributes(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{`{"a":"x","n":1.5,"ok":true}`, map[string]string{"a": "x", "n": "1.5", "ok": "true"}},
		{`not json`, map[string]string{}},
		{`[1,2]`, map[string]string{}},
		{``, map[string]string{}},
	}
	for _, tt := range tests {
		got := DecodeAttributes(tt.raw)
		if len(got) != len(tt.want) {
			t.Errorf("DecodeAttributes(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("DecodeAttributes(%q)[%q] = %q, want %q", tt.raw, k, got[k], v)
			}
		}
	}
}

func TestLogsTimeseriesBucketFallback(t *testing.T) {
	store := &storagetest.AnalyticsStore{}
	svc, _ := newTestService(store, nil)

	svc.LogsTimeseries(context.Background(), query.Filter{AppID: "app"}, 7)
	if got := store.LastCall().Args["bucket_minutes_0"]; got != DefaultBucketMinutes {
		t.Errorf("expected fallback to %d, got %v", DefaultBucketMinutes, got)
	}

	svc.LogsTimeseries(context.Background(), query.Filter{AppID: "app"}, 720)
	if got := store.LastCall().Args["bucket_minutes_0"]; got != 720 {
		t.Errorf("expected 720, got %v", got)
	}
}

func TestLogsSearchOptionsGuard(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.NewRows([]any{"value"}), nil
		},
	}
	svc, _ := newTestService(store, nil)
	ctx := context.Background()
	f := query.Filter{AppID: "app"}

	opts := svc.LogsSearchOptions(ctx, f, "trace_id", "abc", 10)
	if !opts.ValuesSkipped || len(opts.Values) != 0 {
		t.Errorf("expected values withheld for a short prefix, got %+v", opts)
	}
	if len(store.Calls) != 2 {
		t.Errorf("expected keys and logger queries only, got %d", len(store.Calls))
	}

	opts = svc.LogsSearchOptions(ctx, f, "trace_id", "abcd", 10)
	if opts.ValuesSkipped || len(opts.Values) != 1 {
		t.Errorf("expected values with a long prefix, got %+v", opts)
	}

	opts = svc.LogsSearchOptions(ctx, f, "region", "", 10)
	if opts.ValuesSkipped || len(opts.Values) != 1 {
		t.Errorf("expected values for an unguarded key, got %+v", opts)
	}
}

func TestLogsSearchOptionsGuardKeysCaseInsensitive(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			return storagetest.NewRows([]any{"value"}), nil
		},
	}
	svc := NewService(store, nil, Options{
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		HighCardinalityKeys: []string{" Trace_ID "},
		Now:                 func() time.Time { return testNow },
	})

	for _, key := range []string{"trace_id", "TRACE_ID"} {
		opts := svc.LogsSearchOptions(context.Background(), query.Filter{AppID: "app"}, key, "ab", 10)
		if !opts.ValuesSkipped || len(opts.Values) != 0 {
			t.Errorf("key %q: expected values withheld for a short prefix, got %+v", key, opts)
		}
	}
}

func TestEndpointDetailWithoutTraffic(t *testing.T) {
	store := &storagetest.AnalyticsStore{
		OnQuery: func(q string, args map[string]any) (driver.Rows, error) {
			epoch := time.Unix(0, 0).UTC()
			return storagetest.NewRows([]any{int64(0), int64(0), 0.0, 0.0, int64(0), int64(0), int64(0), epoch, epoch}), nil
		},
	}
	svc, _ := newTestService(store, nil)

	detail := svc.EndpointDetail(context.Background(), query.Filter{AppID: "app"}, "delete", "/x")
	if detail.Method != "DELETE" || detail.FirstSeenAt != nil || detail.LastSeenAt != nil {
		t.Errorf("unexpected detail: %+v", detail)
	}
	if !strings.Contains(store.LastCall().Query, "method = @pair_method_0 AND path = @pair_path_1") {
		t.Errorf("expected detail to be scoped to the endpoint:\n%s", store.LastCall().Query)
	}
}

func TestPaginateClamps(t *testing.T) {
	items := make([]int, 300)
	page := Paginate(items, 0, 1000)
	if page.Page != 1 || page.PageSize != MaxPageSize || len(page.Items) != MaxPageSize {
		t.Errorf("expected clamped first page, got page=%d size=%d items=%d", page.Page, page.PageSize, len(page.Items))
	}
}
