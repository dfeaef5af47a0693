package query

import (
	"strings"
	"testing"
	"time"

	"github.com/apilens/apilens/pkg/models"
)

var testNow = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func TestDefaultWindow(t *testing.T) {
	since, until := Filter{AppID: "app"}.Window(testNow)
	if !until.Equal(testNow) {
		t.Errorf("expected until=%v, got %v", testNow, until)
	}
	if !since.Equal(testNow.Add(-24 * time.Hour)) {
		t.Errorf("expected a 24h window, got since=%v", since)
	}

	explicit := Filter{Until: testNow.Add(-time.Hour)}
	since, _ = explicit.Window(testNow)
	if !since.Equal(testNow.Add(-25 * time.Hour)) {
		t.Errorf("since should default relative to until, got %v", since)
	}
}

func TestStatusClassRange(t *testing.T) {
	lo, hi, ok := StatusClassRange("4xx")
	if !ok || lo != 400 || hi != 500 {
		t.Fatalf("expected [400,500), got [%d,%d) ok=%v", lo, hi, ok)
	}

	tests := []struct {
		code int
		want bool
	}{
		{399, false},
		{400, true},
		{499, true},
		{500, false},
	}
	for _, tt := range tests {
		got := tt.code >= lo && tt.code < hi
		if got != tt.want {
			t.Errorf("status %d: expected included=%v, got %v", tt.code, tt.want, got)
		}
	}

	for _, bad := range []string{"1xx", "6xx", "4x", "abc", ""} {
		if _, _, ok := StatusClassRange(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestBuilderStatusClassBindsRange(t *testing.T) {
	b := NewBuilder(Filter{AppID: "app", StatusClasses: []string{"4XX"}}, Requests, testNow)
	where := b.Where()
	args := b.Args()

	if !strings.Contains(where, "status_code >= @status_lo_0 AND status_code < @status_hi_1") {
		t.Fatalf("unexpected where clause:\n%s", where)
	}
	if args["status_lo_0"] != 400 || args["status_hi_1"] != 500 {
		t.Errorf("expected bounds 400/500, got %v/%v", args["status_lo_0"], args["status_hi_1"])
	}
}

func TestBuilderNeverInterpolatesValues(t *testing.T) {
	evil := "x' OR 1=1 --"
	f := Filter{
		AppID:         evil,
		Environment:   evil,
		Methods:       []string{evil},
		Paths:         []string{evil},
		Pairs:         []models.EndpointKey{{Method: evil, Path: evil}},
		StatusCodes:   []int{500},
		StatusClasses: []string{"5xx"},
		Search:        evil,
		Levels:        []string{evil},
		LoggerNames:   []string{evil},
		Attributes:    []AttributeFilter{{Key: evil, Value: evil}},
	}

	for _, table := range []Table{Requests, Logs} {
		b := NewBuilder(f, table, testNow)
		sql := b.Select("count()", "LIMIT "+b.Bind("limit", 10))
		if strings.Contains(strings.ToLower(sql), "or 1=1") {
			t.Errorf("value leaked into statement for %s:\n%s", table.Name(), sql)
		}
		for name := range b.Args() {
			if !strings.Contains(sql, "@"+name) {
				t.Errorf("argument %s is bound but not referenced", name)
			}
		}
	}
}

func TestBuilderScopesByTenantAndTable(t *testing.T) {
	f := Filter{
		AppID:       "app",
		Methods:     []string{"get"},
		Paths:       []string{"/users"},
		Search:      "user",
		Levels:      []string{"warn"},
		LoggerNames: []string{"api"},
		Attributes:  []AttributeFilter{{Key: "region", Value: "eu"}},
	}

	req := NewBuilder(f, Requests, testNow)
	where := req.Where()
	for _, want := range []string{"app_id = @app_id", "has(@methods_0, method)", "has(@paths_1, path)",
		"positionCaseInsensitive(path, @search_2) > 0"} {
		if !strings.Contains(where, want) {
			t.Errorf("requests: expected %q in\n%s", want, where)
		}
	}
	if strings.Contains(where, "level") || strings.Contains(where, "JSONExtractString") {
		t.Errorf("log-only filters must not apply to requests:\n%s", where)
	}
	if got := req.Args()["methods_0"].([]string); got[0] != "GET" {
		t.Errorf("expected uppercased methods, got %v", got)
	}

	logs := NewBuilder(f, Logs, testNow)
	where = logs.Where()
	for _, want := range []string{"has(@methods_0, endpoint_method)", "positionCaseInsensitive(attributes, @search_2) > 0",
		"has(@levels_3, level)", "has(@loggers_4, logger_name)", "JSONExtractString(attributes, @attr_key_5) = @attr_value_6"} {
		if !strings.Contains(where, want) {
			t.Errorf("logs: expected %q in\n%s", want, where)
		}
	}
	if got := logs.Args()["levels_3"].([]string); got[0] != models.LevelWarning {
		t.Errorf("expected levels to be normalized, got %v", got)
	}
}

func TestForEndpointReplacesPathFilters(t *testing.T) {
	f := Filter{AppID: "app", Methods: []string{"POST"}, Paths: []string{"/a", "/b"}}
	scoped := f.ForEndpoint("get", "/users")

	if scoped.Methods != nil || scoped.Paths != nil {
		t.Error("expected method and path sets to be cleared")
	}
	if len(scoped.Pairs) != 1 || scoped.Pairs[0].Method != "GET" {
		t.Errorf("unexpected pairs: %+v", scoped.Pairs)
	}
	if len(f.Paths) != 2 {
		t.Error("original filter must not be modified")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-04-01T10:00:00Z", time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-04-01T12:00:00+02:00", time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-04-01T10:00:00.250Z", time.Date(2024, 4, 1, 10, 0, 0, 250000000, time.UTC)},
		{"2024-04-01T10:00", time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-04-01", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		if err != nil {
			t.Errorf("ParseTime(%q) failed: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got, err := ParseTime(""); err != nil || !got.IsZero() {
		t.Errorf("empty input should give zero time, got %v, %v", got, err)
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected an error for garbage input")
	}
}

func TestConsumerFallbackChain(t *testing.T) {
	tests := []struct {
		name, id, ua, ip string
		want             string
	}{
		{"acme", "c-1", "curl/8", "10.0.0.1", "acme"},
		{"", "c-1", "curl/8", "10.0.0.1", "c-1"},
		{"", "", "curl/8", "10.0.0.1", "curl/8"},
		{"", "", "", "10.0.0.1", "10.0.0.1"},
		{"", "", "", "", "unknown"},
	}
	for _, tt := range tests {
		if got := ConsumerOf(tt.name, tt.id, tt.ua, tt.ip); got != tt.want {
			t.Errorf("ConsumerOf(%q, %q, %q, %q) = %q, want %q", tt.name, tt.id, tt.ua, tt.ip, got, tt.want)
		}
	}

	// The SQL expression must walk the same fields in the same order.
	order := []string{"consumer_name", "consumer_id", "user_agent", "ip_address", "'unknown'"}
	last := -1
	for _, col := range order {
		i := strings.Index(ConsumerExpr, col)
		if i <= last {
			t.Fatalf("%s is out of order in %s", col, ConsumerExpr)
		}
		last = i
	}
}
