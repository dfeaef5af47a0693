// Package memory provides an in-memory endpoint store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/apilens/apilens/pkg/models"
)

type endpointKey struct {
	appID  string
	method string
	path   string
}

// Store is an in-memory endpoint registry. It enforces the same
// (app_id, method, path) uniqueness as the SQL backends.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*models.Endpoint
	byKey     map[endpointKey]string
	closed    bool
	updateOps int
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		byID:  make(map[string]*models.Endpoint),
		byKey: make(map[endpointKey]string),
	}
}

// FindEndpoints returns copies of the matching endpoints.
func (s *Store) FindEndpoints(ctx context.Context, appID string, methods, paths []string) ([]*models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}

	methodSet := toSet(methods)
	pathSet := toSet(paths)

	var out []*models.Endpoint
	for _, ep := range s.byID {
		if ep.AppID != appID {
			continue
		}
		if _, ok := methodSet[ep.Method]; !ok {
			continue
		}
		if _, ok := pathSet[ep.Path]; !ok {
			continue
		}
		out = append(out, clone(ep))
	}
	sortEndpoints(out)
	return out, nil
}

// InsertEndpointsIgnoreConflicts stores endpoints whose key is not taken yet.
func (s *Store) InsertEndpointsIgnoreConflicts(ctx context.Context, endpoints []*models.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store is closed")
	}

	for _, ep := range endpoints {
		key := endpointKey{appID: ep.AppID, method: ep.Method, path: ep.Path}
		if _, exists := s.byKey[key]; exists {
			continue
		}
		if _, exists := s.byID[ep.ID]; exists {
			continue
		}
		stored := clone(ep)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		s.byID[stored.ID] = stored
		s.byKey[key] = stored.ID
	}
	return nil
}

// UpdateEndpoints applies the updates atomically. last_seen_at only moves
// forward.
func (s *Store) UpdateEndpoints(ctx context.Context, updates []models.EndpointUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store is closed")
	}

	s.updateOps++
	for _, u := range updates {
		ep, ok := s.byID[u.ID]
		if !ok {
			continue
		}
		ep.IsActive = u.IsActive
		if u.LastSeenAt != nil && (ep.LastSeenAt == nil || u.LastSeenAt.After(*ep.LastSeenAt)) {
			ts := *u.LastSeenAt
			ep.LastSeenAt = &ts
		}
	}
	return nil
}

// ListEndpoints returns the active endpoints of appID.
func (s *Store) ListEndpoints(ctx context.Context, appID string) ([]*models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}

	var out []*models.Endpoint
	for _, ep := range s.byID {
		if ep.AppID == appID && ep.IsActive {
			out = append(out, clone(ep))
		}
	}
	sortEndpoints(out)
	return out, nil
}

// SetActive flips an endpoint's active flag. It stands in for the
// management API's soft delete.
func (s *Store) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	ep.IsActive = active
	return nil
}

// UpdateCalls returns how many UpdateEndpoints calls were made.
func (s *Store) UpdateCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateOps
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(ep *models.Endpoint) *models.Endpoint {
	c := *ep
	if ep.LastSeenAt != nil {
		ts := *ep.LastSeenAt
		c.LastSeenAt = &ts
	}
	return &c
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortEndpoints(eps []*models.Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Method != eps[j].Method {
			return eps[i].Method < eps[j].Method
		}
		return eps[i].Path < eps[j].Path
	})
}
