package session

import (
	"context"
	"sync"
)

// InMemoryRepo is an in-memory implementation of Repo. It is the default
// backing store when no durable repository is configured.
type InMemoryRepo struct {
	mu     sync.RWMutex
	record *Snapshot
}

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

// Save stores a copy of the snapshot
func (r *InMemoryRepo) Save(_ context.Context, snapshot Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy so later mutations by the caller cannot leak into the record
	stored := snapshot.clone()
	r.record = &stored
	return nil
}

// Load retrieves the stored snapshot, or an empty one if nothing was saved
func (r *InMemoryRepo) Load(_ context.Context) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.record == nil {
		return Snapshot{}, nil
	}
	return r.record.clone(), nil
}

// Clear removes the stored snapshot
func (r *InMemoryRepo) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record = nil
	return nil
}
