// Package query composes parameterized ClickHouse statements from a
// declarative filter. Values are always bound as named parameters.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/apilens/apilens/pkg/models"
)

// DefaultWindow is the lookback used when a filter has no Since.
const DefaultWindow = 24 * time.Hour

// AttributeFilter matches log rows whose attribute Key equals Value.
type AttributeFilter struct {
	Key   string
	Value string
}

// Filter is the filter vocabulary shared by every analytics view. All
// fields but AppID are optional and combine with AND.
type Filter struct {
	AppID         string
	Since         time.Time
	Until         time.Time
	Environment   string
	Methods       []string
	Paths         []string
	Pairs         []models.EndpointKey
	StatusCodes   []int
	StatusClasses []string
	Search        string
	Levels        []string
	LoggerNames   []string
	Attributes    []AttributeFilter
}

// Window returns the effective [since, until) range. Until defaults to now
// and Since to DefaultWindow before Until.
func (f Filter) Window(now time.Time) (since, until time.Time) {
	until = f.Until
	if until.IsZero() {
		until = now
	}
	since = f.Since
	if since.IsZero() {
		since = until.Add(-DefaultWindow)
	}
	return since.UTC(), until.UTC()
}

// ForEndpoint returns a copy of f scoped to one (method, path).
func (f Filter) ForEndpoint(method, path string) Filter {
	f.Methods = nil
	f.Paths = nil
	f.Pairs = []models.EndpointKey{{Method: strings.ToUpper(method), Path: path}}
	return f
}

// StatusClassRange maps "2xx".."5xx" to its [lo, hi) range.
func StatusClassRange(class string) (lo, hi int, ok bool) {
	c := strings.ToLower(strings.TrimSpace(class))
	if len(c) != 3 || c[1:] != "xx" || c[0] < '2' || c[0] > '5' {
		return 0, 0, false
	}
	lo = int(c[0]-'0') * 100
	return lo, lo + 100, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp with a 'Z' or offset suffix.
// Values without a zone are taken as UTC. An empty string yields the zero
// time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", models.ErrInvalidInput, s)
}
