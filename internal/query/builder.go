package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/apilens/apilens/internal/normalize"
	"github.com/apilens/apilens/pkg/models"
)

// Table selects the columns a filter applies to.
type Table int

const (
	Requests Table = iota
	Logs
)

// Name returns the store table.
func (t Table) Name() string {
	if t == Logs {
		return models.LogsTable
	}
	return models.RequestsTable
}

func (t Table) methodColumn() string {
	if t == Logs {
		return "endpoint_method"
	}
	return "method"
}

func (t Table) pathColumn() string {
	if t == Logs {
		return "endpoint_path"
	}
	return "path"
}

// ConsumerExpr derives the consumer identity of a request row. Every view
// grouping by consumer uses it.
const ConsumerExpr = "coalesce(nullIf(consumer_name, ''), nullIf(consumer_id, ''), " +
	"nullIf(user_agent, ''), nullIf(ip_address, ''), 'unknown')"

// Builder accumulates WHERE conditions and their named arguments.
type Builder struct {
	table Table
	conds []string
	args  map[string]any
	seq   int
}

// NewBuilder starts a builder with every condition implied by f. now is
// used for the default time window.
func NewBuilder(f Filter, table Table, now time.Time) *Builder {
	b := &Builder{table: table, args: make(map[string]any)}

	since, until := f.Window(now)
	b.args["app_id"] = f.AppID
	b.args["since"] = since
	b.args["until"] = until
	b.conds = append(b.conds,
		"app_id = @app_id",
		"timestamp >= @since",
		"timestamp < @until",
	)

	if f.Environment != "" {
		b.And("environment = " + b.Bind("environment", f.Environment))
	}
	if methods := upper(f.Methods); len(methods) > 0 {
		b.And(fmt.Sprintf("has(%s, %s)", b.Bind("methods", methods), table.methodColumn()))
	}
	if paths := nonEmpty(f.Paths); len(paths) > 0 {
		b.And(fmt.Sprintf("has(%s, %s)", b.Bind("paths", paths), table.pathColumn()))
	}
	if len(f.Pairs) > 0 {
		var clauses []string
		for _, p := range f.Pairs {
			clauses = append(clauses, fmt.Sprintf("(%s = %s AND %s = %s)",
				table.methodColumn(), b.Bind("pair_method", strings.ToUpper(p.Method)),
				table.pathColumn(), b.Bind("pair_path", p.Path)))
		}
		b.And(or(clauses))
	}
	if len(f.StatusCodes) > 0 {
		b.And(fmt.Sprintf("has(%s, status_code)", b.Bind("status_codes", f.StatusCodes)))
	}
	if len(f.StatusClasses) > 0 {
		var clauses []string
		for _, class := range f.StatusClasses {
			lo, hi, ok := StatusClassRange(class)
			if !ok {
				continue
			}
			clauses = append(clauses, fmt.Sprintf("(status_code >= %s AND status_code < %s)",
				b.Bind("status_lo", lo), b.Bind("status_hi", hi)))
		}
		if len(clauses) > 0 {
			b.And(or(clauses))
		}
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		param := b.Bind("search", search)
		var cols []string
		if table == Logs {
			cols = []string{"message", "logger_name", "attributes"}
		} else {
			cols = []string{"method", "path"}
		}
		var clauses []string
		for _, c := range cols {
			clauses = append(clauses, fmt.Sprintf("positionCaseInsensitive(%s, %s) > 0", c, param))
		}
		b.And(or(clauses))
	}

	if table == Logs {
		if len(f.Levels) > 0 {
			levels := make([]string, 0, len(f.Levels))
			for _, l := range f.Levels {
				levels = append(levels, normalize.Level(l))
			}
			b.And(fmt.Sprintf("has(%s, level)", b.Bind("levels", levels)))
		}
		if loggers := nonEmpty(f.LoggerNames); len(loggers) > 0 {
			b.And(fmt.Sprintf("has(%s, logger_name)", b.Bind("loggers", loggers)))
		}
		for _, a := range f.Attributes {
			if a.Key == "" {
				continue
			}
			b.And(fmt.Sprintf("JSONExtractString(attributes, %s) = %s",
				b.Bind("attr_key", a.Key), b.Bind("attr_value", a.Value)))
		}
	}

	return b
}

// Bind registers value under a fresh name derived from prefix and returns
// the placeholder to embed in the statement.
func (b *Builder) Bind(prefix string, value any) string {
	name := fmt.Sprintf("%s_%d", prefix, b.seq)
	b.seq++
	b.args[name] = value
	return "@" + name
}

// And adds a condition.
func (b *Builder) And(cond string) {
	b.conds = append(b.conds, cond)
}

// Where returns the conditions joined with AND.
func (b *Builder) Where() string {
	return strings.Join(b.conds, "\n  AND ")
}

// Table returns the table name the builder targets.
func (b *Builder) Table() string {
	return b.table.Name()
}

// Args returns a copy of the bound arguments.
func (b *Builder) Args() map[string]any {
	out := make(map[string]any, len(b.args))
	for k, v := range b.args {
		out[k] = v
	}
	return out
}

// Select renders "SELECT <columns> FROM <table> WHERE <conds> <tail>".
func (b *Builder) Select(columns, tail string) string {
	q := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s", columns, b.table.Name(), b.Where())
	if tail != "" {
		q += "\n" + tail
	}
	return q
}

func or(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func upper(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ConsumerOf applies the ConsumerExpr fallback chain to raw field values.
func ConsumerOf(name, id, userAgent, ip string) string {
	for _, v := range []string{name, id, userAgent, ip} {
		if v != "" {
			return v
		}
	}
	return "unknown"
}
