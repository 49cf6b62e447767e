// Package store keeps session views for reads that outlive, or run on a
// different replica than, the orchestrator that produced them.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lofivibes/api/internal/model"
)

// DefaultTTL is how long a stored view survives without updates.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Store persists session views.
type Store interface {
	Save(ctx context.Context, view *model.SessionView) error
	Get(ctx context.Context, id string) (*model.SessionView, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is used when Redis is not available.
type MemoryStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	views map[string]memoryEntry
}

type memoryEntry struct {
	view    model.SessionView
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, views: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(_ context.Context, view *model.SessionView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[view.ID] = memoryEntry{view: *view, expires: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.SessionView, error) {
	s.mu.RLock()
	e, ok := s.views[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, ErrNotFound
	}
	v := e.view
	return &v, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.views, id)
	s.mu.Unlock()
	return nil
}
