package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/apilens/apilens/internal/query"
	"github.com/apilens/apilens/pkg/models"
)

// Defaults for size parameters left out of the query string.
const (
	defaultPageSize     = 50
	defaultLimit        = 20
	defaultActivityRows = 100
)

// badRequest marks a query-string parsing failure.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func badParam(name, value, reason string) error {
	return badRequest{msg: fmt.Sprintf("invalid %s %q: %s", name, value, reason)}
}

// list collects a repeatable parameter. Each occurrence may also hold a
// comma-separated list.
func list(q url.Values, name string) []string {
	var out []string
	for _, raw := range q[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam(name, raw, "not an integer")
	}
	return v, nil
}

// parseFilter reads the shared filter vocabulary:
//
//	since, until              ISO-8601 timestamps
//	environment               exact match
//	method, path              repeatable, comma-separated
//	endpoint                  repeatable "METHOD /path" pairs
//	status_code               repeatable integers
//	status_class              repeatable 2xx..5xx
//	search                    case-insensitive substring
//	level, logger             repeatable
//	attr                      repeatable key=value
func parseFilter(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	f := query.Filter{
		AppID:       appIDFrom(r.Context()),
		Environment: strings.TrimSpace(q.Get("environment")),
		Paths:       list(q, "path"),
		Search:      strings.TrimSpace(q.Get("search")),
		LoggerNames: list(q, "logger"),
	}

	var err error
	if f.Since, err = query.ParseTime(q.Get("since")); err != nil {
		return f, badParam("since", q.Get("since"), "expected an ISO-8601 timestamp")
	}
	if f.Until, err = query.ParseTime(q.Get("until")); err != nil {
		return f, badParam("until", q.Get("until"), "expected an ISO-8601 timestamp")
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return f, badRequest{msg: "until is before since"}
	}

	for _, m := range list(q, "method") {
		f.Methods = append(f.Methods, strings.ToUpper(m))
	}
	for _, l := range list(q, "level") {
		f.Levels = append(f.Levels, strings.ToUpper(l))
	}

	for _, raw := range q["endpoint"] {
		method, path, ok := strings.Cut(strings.TrimSpace(raw), " ")
		path = strings.TrimSpace(path)
		if !ok || method == "" || path == "" {
			return f, badParam("endpoint", raw, `expected "METHOD /path"`)
		}
		f.Pairs = append(f.Pairs, models.EndpointKey{Method: strings.ToUpper(method), Path: path})
	}

	for _, raw := range list(q, "status_code") {
		code, err := strconv.Atoi(raw)
		if err != nil || code < 0 || code > 999 {
			return f, badParam("status_code", raw, "expected an integer between 0 and 999")
		}
		f.StatusCodes = append(f.StatusCodes, code)
	}
	for _, raw := range list(q, "status_class") {
		if _, _, ok := query.StatusClassRange(raw); !ok {
			return f, badParam("status_class", raw, "expected one of 2xx, 3xx, 4xx, 5xx")
		}
		f.StatusClasses = append(f.StatusClasses, strings.ToLower(raw))
	}

	for _, raw := range q["attr"] {
		k, v, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return f, badParam("attr", raw, "expected key=value")
		}
		f.Attributes = append(f.Attributes, query.AttributeFilter{Key: strings.TrimSpace(k), Value: v})
	}

	return f, nil
}

// endpointParams reads the required method and path of endpoint-scoped
// views.
func endpointParams(q url.Values) (method, path string, err error) {
	method = strings.ToUpper(strings.TrimSpace(q.Get("method")))
	path = strings.TrimSpace(q.Get("path"))
	if method == "" || path == "" {
		return "", "", badRequest{msg: "method and path are required"}
	}
	return method, path, nil
}

// filterParams is a parsed filter plus the raw query for view-specific
// parameters.
type filterParams struct {
	query.Filter
	q url.Values
}

func (p filterParams) consumer() (string, error) {
	c := strings.TrimSpace(p.q.Get("consumer"))
	if c == "" {
		return "", badRequest{msg: "consumer is required"}
	}
	return c, nil
}
