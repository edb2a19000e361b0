package sessionrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/session"
)

var _ session.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is an in-memory session.Repo that counts calls and can be
// told to fail, for exercising persistence behaviour in tests.
type FakeSessionRepo struct {
	lock   sync.RWMutex
	record *session.Snapshot

	saves  int
	loads  int
	clears int

	saveErr  error
	loadErr  error
	clearErr error
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{}
}

func (r *FakeSessionRepo) Save(_ context.Context, snapshot session.Snapshot) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	stored := snapshot
	r.record = &stored
	return nil
}

func (r *FakeSessionRepo) Load(_ context.Context) (session.Snapshot, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.loads++
	if r.loadErr != nil {
		return session.Snapshot{}, r.loadErr
	}
	if r.record == nil {
		return session.Snapshot{}, nil
	}
	return *r.record, nil
}

func (r *FakeSessionRepo) Clear(_ context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.clears++
	if r.clearErr != nil {
		return r.clearErr
	}
	r.record = nil
	return nil
}

// Seed installs a record directly, bypassing call counting.
func (r *FakeSessionRepo) Seed(snapshot session.Snapshot) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.record = &snapshot
}

// FailSaves makes subsequent Save calls return the given error.
func (r *FakeSessionRepo) FailSaves(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.saveErr = err
}

// FailLoads makes subsequent Load calls return the given error.
func (r *FakeSessionRepo) FailLoads(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.loadErr = err
}

// FailClears makes subsequent Clear calls return the given error.
func (r *FakeSessionRepo) FailClears(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.clearErr = err
}

// Stored returns the current record, or nil when none is stored.
func (r *FakeSessionRepo) Stored() *session.Snapshot {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.record == nil {
		return nil
	}
	stored := *r.record
	return &stored
}

// SaveCalls returns how many times Save was invoked.
func (r *FakeSessionRepo) SaveCalls() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.saves
}

// LoadCalls returns how many times Load was invoked.
func (r *FakeSessionRepo) LoadCalls() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.loads
}

// ClearCalls returns how many times Clear was invoked.
func (r *FakeSessionRepo) ClearCalls() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.clears
}
