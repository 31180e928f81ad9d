package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fixpointlabs/healerd/internal/healing"
)

// MemoryStore keeps sessions in a mutex-guarded map. Suitable for tests and
// ephemeral runs; state is lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*healing.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*healing.Session)}
}

// Create stores a new session.
func (m *MemoryStore) Create(_ context.Context, s *healing.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (*healing.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Update applies mutate under the write lock and stamps UpdatedAt.
func (m *MemoryStore) Update(_ context.Context, id string, mutate func(*healing.Session) error) (*healing.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	m.sessions[id] = next

	return next.Clone(), nil
}

// List returns matching sessions, newest first.
func (m *MemoryStore) List(_ context.Context, f Filter) ([]*healing.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*healing.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
