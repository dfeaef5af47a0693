// Package registry keeps the relational endpoint table in step with the
// traffic seen by ingestion.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apilens/apilens/internal/metrics"
	"github.com/apilens/apilens/internal/storage"
	"github.com/apilens/apilens/pkg/models"
)

// Observation is one (method, path) occurrence in a batch.
type Observation struct {
	Method    string
	Path      string
	Timestamp time.Time
}

// Syncer reconciles observed pairs with the endpoint store.
//
// Concurrent syncers for the same app race only on inserts, which the
// store resolves through its unique (app_id, method, path) constraint.
type Syncer struct {
	store   storage.EndpointStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(store storage.EndpointStore, logger *slog.Logger, m *metrics.Metrics) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Syncer{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Sync creates missing endpoints, reactivates inactive ones and advances
// last_seen_at. It returns the endpoint id for every resolved pair.
func (s *Syncer) Sync(ctx context.Context, appID string, observations []Observation) (map[models.EndpointKey]string, error) {
	latest := LatestByKey(observations)
	if len(latest) == 0 {
		return map[models.EndpointKey]string{}, nil
	}

	methods, paths := splitKeys(latest)

	existing, err := s.fetch(ctx, appID, methods, paths, latest)
	if err != nil {
		return nil, err
	}

	var missing []*models.Endpoint
	for key, ts := range latest {
		if _, ok := existing[key]; ok {
			continue
		}
		seen := ts
		missing = append(missing, &models.Endpoint{
			ID:         uuid.NewString(),
			AppID:      appID,
			Method:     key.Method,
			Path:       key.Path,
			IsActive:   true,
			LastSeenAt: &seen,
			CreatedAt:  s.now().UTC(),
		})
	}

	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool {
			return missing[i].Key().String() < missing[j].Key().String()
		})
		if err := s.store.InsertEndpointsIgnoreConflicts(ctx, missing); err != nil {
			return nil, fmt.Errorf("inserting endpoints: %w", err)
		}
		s.metrics.Registry.EndpointsCreated.Add(float64(len(missing)))
		s.logger.Debug("discovered endpoints", "app_id", appID, "count", len(missing))

		existing, err = s.fetch(ctx, appID, methods, paths, latest)
		if err != nil {
			return nil, err
		}
	}

	updates := PlanUpdates(existing, latest)
	if len(updates) > 0 {
		if err := s.store.UpdateEndpoints(ctx, updates); err != nil {
			return nil, fmt.Errorf("updating endpoints: %w", err)
		}
	}

	ids := make(map[models.EndpointKey]string, len(existing))
	for key, ep := range existing {
		ids[key] = ep.ID
	}
	return ids, nil
}

// fetch loads endpoints and keeps only the exact pairs in latest.
func (s *Syncer) fetch(ctx context.Context, appID string, methods, paths []string, latest map[models.EndpointKey]time.Time) (map[models.EndpointKey]*models.Endpoint, error) {
	found, err := s.store.FindEndpoints(ctx, appID, methods, paths)
	if err != nil {
		return nil, fmt.Errorf("fetching endpoints: %w", err)
	}
	out := make(map[models.EndpointKey]*models.Endpoint, len(found))
	for _, ep := range found {
		key := ep.Key()
		if _, ok := latest[key]; ok {
			out[key] = ep
		}
	}
	return out, nil
}

// LatestByKey reduces observations to the max timestamp per supported
// (method, path) pair. Methods are uppercased.
func LatestByKey(observations []Observation) map[models.EndpointKey]time.Time {
	latest := make(map[models.EndpointKey]time.Time)
	for _, o := range observations {
		method := strings.ToUpper(strings.TrimSpace(o.Method))
		if !models.IsSupportedMethod(method) || o.Path == "" {
			continue
		}
		key := models.EndpointKey{Method: method, Path: o.Path}
		if cur, ok := latest[key]; !ok || o.Timestamp.After(cur) {
			latest[key] = o.Timestamp
		}
	}
	return latest
}

// PlanUpdates returns the updates needed to activate every endpoint and move
// last_seen_at forward. Endpoints already active with a newer or equal
// last_seen_at are left out.
func PlanUpdates(existing map[models.EndpointKey]*models.Endpoint, latest map[models.EndpointKey]time.Time) []models.EndpointUpdate {
	var updates []models.EndpointUpdate
	for key, ep := range existing {
		ts, ok := latest[key]
		if !ok {
			continue
		}
		advance := ep.LastSeenAt == nil || ts.After(*ep.LastSeenAt)
		if ep.IsActive && !advance {
			continue
		}
		u := models.EndpointUpdate{ID: ep.ID, IsActive: true}
		if advance {
			seen := ts
			u.LastSeenAt = &seen
		}
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })
	return updates
}

func splitKeys(latest map[models.EndpointKey]time.Time) (methods, paths []string) {
	methodSet := make(map[string]struct{})
	pathSet := make(map[string]struct{})
	for key := range latest {
		methodSet[key.Method] = struct{}{}
		pathSet[key.Path] = struct{}{}
	}
	for m := range methodSet {
		methods = append(methods, m)
	}
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(methods)
	sort.Strings(paths)
	return methods, paths
}
