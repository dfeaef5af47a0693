// Package storagetest provides in-process fakes of the storage interfaces.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/apilens/apilens/pkg/models"
)

// QueryFunc answers a query with rows.
type QueryFunc func(query string, args map[string]any) (driver.Rows, error)

// Call is one recorded query.
type Call struct {
	Query string
	Args  map[string]any
}

// AnalyticsStore is a scriptable storage.AnalyticsStore.
type AnalyticsStore struct {
	mu sync.Mutex

	// OnQuery answers Query. When nil, Query returns no rows.
	OnQuery QueryFunc
	// Err, when set, fails every Query and Insert call.
	Err error

	Requests      []models.RequestRow
	Logs          []models.LogRow
	Calls         []Call
	EnsureCalls   int
	InsertBatches int
}

// Unavailable returns a store whose every call fails like an unreachable
// server.
func Unavailable() *AnalyticsStore {
	return &AnalyticsStore{Err: fmt.Errorf("%w: dial tcp: connection refused", models.ErrStoreUnavailable)}
}

func (s *AnalyticsStore) EnsureSchema(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EnsureCalls++
}

func (s *AnalyticsStore) Query(ctx context.Context, query string, args map[string]any) (driver.Rows, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, Call{Query: query, Args: args})
	onQuery, err := s.OnQuery, s.Err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if onQuery == nil {
		return NewRows(), nil
	}
	return onQuery(query, args)
}

func (s *AnalyticsStore) InsertRequests(ctx context.Context, rows []models.RequestRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.InsertBatches++
	s.Requests = append(s.Requests, rows...)
	return nil
}

func (s *AnalyticsStore) InsertLogs(ctx context.Context, rows []models.LogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.InsertBatches++
	s.Logs = append(s.Logs, rows...)
	return nil
}

func (s *AnalyticsStore) Close() error { return nil }

// LastCall returns the most recent query.
func (s *AnalyticsStore) LastCall() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return Call{}
	}
	return s.Calls[len(s.Calls)-1]
}

// Rows is an in-memory driver.Rows. Scan assigns values by reflection,
// converting between numeric kinds where needed.
type Rows struct {
	data [][]any
	pos  int
	err  error
}

// NewRows creates rows from data.
func NewRows(data ...[]any) *Rows {
	return &Rows{data: data, pos: -1}
}

// FailingRows returns rows whose Err reports err after iteration.
func FailingRows(err error) *Rows {
	return &Rows{pos: -1, err: err}
}

func (r *Rows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.data) {
		return errors.New("scan called without a current row")
	}
	row := r.data[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

func (r *Rows) ScanStruct(dest any) error         { return errors.New("ScanStruct not supported") }
func (r *Rows) ColumnTypes() []driver.ColumnType { return nil }
func (r *Rows) Totals(dest ...any) error         { return nil }
func (r *Rows) Columns() []string                { return nil }
func (r *Rows) Close() error                     { return nil }
func (r *Rows) Err() error                       { return r.err }

func assign(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dest)
	}
	target := dv.Elem()
	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	v := reflect.ValueOf(value)
	if target.Kind() == reflect.Pointer && v.Type() != target.Type() {
		inner := reflect.New(target.Type().Elem())
		if err := assign(inner.Interface(), value); err != nil {
			return err
		}
		target.Set(inner)
		return nil
	}

	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case v.Type().ConvertibleTo(target.Type()):
		target.Set(v.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", value, target.Type())
	}
	return nil
}
