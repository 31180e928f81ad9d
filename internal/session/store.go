// Package session persists healing session records. Two backends implement
// the Store interface: an in-memory map for tests and single-run tooling,
// and an embedded Badger database for durable daemon state. A Janitor sweeps
// the store and administratively fails sessions that stopped making progress.
package session

import (
	"context"
	"errors"

	"github.com/fixpointlabs/healerd/internal/healing"
)

var (
	// ErrNotFound indicates no session exists with the requested id.
	ErrNotFound = errors.New("session not found")

	// ErrExists indicates a session with the same id is already stored.
	ErrExists = errors.New("session already exists")
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status healing.Status
	UserID string
	Limit  int
}

// Store is the durable session record. Implementations hand out deep copies:
// mutating a returned session never changes stored state, and writes go
// through Update so UpdatedAt always reflects the last transition.
type Store interface {
	// Create stores a new session. Returns ErrExists on id collision.
	Create(ctx context.Context, s *healing.Session) error

	// Get returns a copy of the session, or ErrNotFound.
	Get(ctx context.Context, id string) (*healing.Session, error)

	// Update applies mutate to the stored session, stamps UpdatedAt, and
	// persists the result, returning a copy. A mutate error aborts the
	// write and is returned unchanged.
	Update(ctx context.Context, id string, mutate func(*healing.Session) error) (*healing.Session, error)

	// List returns sessions matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*healing.Session, error)

	// Close releases backend resources.
	Close() error
}

// matches reports whether a session passes the filter.
func (f Filter) matches(s *healing.Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	return true
}
