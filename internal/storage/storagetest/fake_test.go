package storagetest

import (
	"testing"
	"time"
)

func TestRowsScanConverts(t *testing.T) {
	now := time.Now()
	rows := NewRows([]any{uint64(3), 1.5, "x", now, nil})

	if !rows.Next() {
		t.Fatal("expected a row")
	}
	var (
		count int64
		avg   float64
		name  string
		ts    time.Time
		ptr   *time.Time
	)
	if err := rows.Scan(&count, &avg, &name, &ts, &ptr); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if count != 3 || avg != 1.5 || name != "x" || !ts.Equal(now) || ptr != nil {
		t.Errorf("unexpected values: %d %v %q %v %v", count, avg, name, ts, ptr)
	}
	if rows.Next() {
		t.Error("expected a single row")
	}
}

func TestRowsScanIntoPointer(t *testing.T) {
	now := time.Now()
	rows := NewRows([]any{now})
	rows.Next()

	var ptr *time.Time
	if err := rows.Scan(&ptr); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if ptr == nil || !ptr.Equal(now) {
		t.Errorf("expected %v, got %v", now, ptr)
	}
}
