package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apilens/apilens/pkg/models"
)

// setupTestStore creates a temporary SQLite database for testing
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := New(DefaultConfig(dbPath))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestInsertAndFind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{
		{ID: "e1", AppID: "app", Method: "GET", Path: "/users", IsActive: true, LastSeenAt: &seen},
		{ID: "e2", AppID: "app", Method: "POST", Path: "/users", IsActive: true, LastSeenAt: &seen},
		{ID: "e3", AppID: "app", Method: "GET", Path: "/orders", IsActive: true, LastSeenAt: &seen},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	found, err := store.FindEndpoints(ctx, "app", []string{"GET"}, []string{"/users", "/orders"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(found))
	}
	if found[0].Path != "/orders" || found[1].Path != "/users" {
		t.Errorf("unexpected order: %s, %s", found[0].Path, found[1].Path)
	}
	if found[0].LastSeenAt == nil || !found[0].LastSeenAt.Equal(seen) {
		t.Errorf("expected last_seen_at %v, got %v", seen, found[0].LastSeenAt)
	}
}

func TestInsertConflictKeepsExistingRow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{
		{ID: "first", AppID: "app", Method: "GET", Path: "/x", IsActive: true},
	})
	if err := store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{
		{ID: "second", AppID: "app", Method: "GET", Path: "/x", IsActive: true},
	}); err != nil {
		t.Fatalf("conflicting insert should be ignored, got %v", err)
	}

	found, _ := store.FindEndpoints(ctx, "app", []string{"GET"}, []string{"/x"})
	if len(found) != 1 || found[0].ID != "first" {
		t.Fatalf("expected the original row, got %+v", found)
	}
}

func TestConcurrentInsertsProduceOneRow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if err := store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{
				{ID: id, AppID: "app", Method: "PUT", Path: "/race", IsActive: true},
			}); err != nil {
				t.Errorf("insert %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	found, _ := store.FindEndpoints(ctx, "app", []string{"PUT"}, []string{"/race"})
	if len(found) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(found))
	}
}

func TestUpdateEndpointsAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{
		{ID: "e1", AppID: "app", Method: "GET", Path: "/a", IsActive: false},
		{ID: "e2", AppID: "app", Method: "GET", Path: "/b", IsActive: true},
		{ID: "e3", AppID: "other", Method: "GET", Path: "/a", IsActive: true},
	})

	list, err := store.ListEndpoints(ctx, "app")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 active endpoint, got %d", len(list))
	}

	seen := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := store.UpdateEndpoints(ctx, []models.EndpointUpdate{{ID: "e1", IsActive: true, LastSeenAt: &seen}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	list, _ = store.ListEndpoints(ctx, "app")
	if len(list) != 2 {
		t.Fatalf("expected 2 active endpoints after reactivation, got %d", len(list))
	}
	if list[0].ID != "e1" || list[0].LastSeenAt == nil || !list[0].LastSeenAt.Equal(seen) {
		t.Errorf("expected e1 reactivated with last_seen_at %v, got %+v", seen, list[0])
	}

	if err := store.SetActive(ctx, "missing", false); err != models.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
