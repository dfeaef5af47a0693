//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/apilens/apilens/pkg/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("APILENS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("APILENS_TEST_POSTGRES_URL not set")
	}

	store, err := New(context.Background(), url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	appID := "test-" + uuid.NewString()
	seen := time.Now().UTC().Truncate(time.Microsecond)
	ep := &models.Endpoint{ID: uuid.NewString(), AppID: appID, Method: "GET", Path: "/it", IsActive: true, LastSeenAt: &seen}

	if err := store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{ep}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	dup := *ep
	dup.ID = uuid.NewString()
	if err := store.InsertEndpointsIgnoreConflicts(ctx, []*models.Endpoint{&dup}); err != nil {
		t.Fatalf("conflicting insert failed: %v", err)
	}

	found, err := store.FindEndpoints(ctx, appID, []string{"GET"}, []string{"/it"})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != ep.ID {
		t.Fatalf("expected original endpoint, got %+v", found)
	}

	later := seen.Add(time.Hour)
	if err := store.UpdateEndpoints(ctx, []models.EndpointUpdate{{ID: ep.ID, IsActive: false, LastSeenAt: &later}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	list, _ := store.ListEndpoints(ctx, appID)
	if len(list) != 0 {
		t.Errorf("expected inactive endpoint to be hidden, got %d", len(list))
	}
}
