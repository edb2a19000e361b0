package session

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Store is the single source of truth for the current authentication state.
// It hydrates from a Repo at construction, keeps memory and persistence
// consistent on every mutation, and notifies subscribers synchronously in
// mutation order. All methods are safe for concurrent use.
//
// Mutators do not return errors: a failing repository is self-healed by
// treating the session as empty, so callers only ever observe state through
// Current and their subscriptions.
type Store struct {
	repo  Repo
	clock clockwork.Clock

	mu        sync.Mutex
	current   Snapshot
	subs      map[int]*subscriber
	nextSubID int
	seq       uint64
	pending   []notification
	notifying bool
}

// subscriber tracks one registered listener. since is the sequence number of
// the first broadcast the listener should receive; earlier changes are
// covered by the replay queued at subscription time.
type subscriber struct {
	fn    func(Snapshot)
	since uint64
}

// notification is one queued delivery. target is zero for a broadcast, or a
// subscriber ID for the initial replay delivered only to that subscriber.
type notification struct {
	snapshot Snapshot
	seq      uint64
	target   int
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp snapshots (primarily for testing).
func WithClock(clock clockwork.Clock) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// New initialises a Store hydrated from the given repository. A nil repo
// falls back to a fresh in-memory repository. Hydration never fails: a
// missing, corrupt or unreadable record starts an empty session.
func New(ctx context.Context, repo Repo, options ...StoreOption) *Store {
	if repo == nil {
		repo = NewInMemoryRepo()
	}

	store := &Store{
		repo:  repo,
		clock: clockwork.NewRealClock(),
		subs:  make(map[int]*subscriber),
	}
	for _, option := range options {
		option(store)
	}

	snapshot, err := repo.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Session hydration failed, starting empty")
		return store
	}
	if snapshot.Complete() {
		store.current = snapshot
	}
	return store
}

// Current returns a copy of the latest snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Subscribe registers a listener invoked synchronously on every state
// transition, starting immediately with the current value so late
// subscribers never miss the present state. The returned function removes
// the listener. Listeners may call back into the Store: mutations made
// during delivery are deferred and delivered in order once the current
// round completes.
func (s *Store) Subscribe(listener func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = &subscriber{fn: listener, since: s.seq + 1}
	s.pending = append(s.pending, notification{snapshot: s.current, seq: s.seq, target: id})
	s.mu.Unlock()

	s.deliver()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Login installs a fully populated snapshot, persists it and notifies
// subscribers. An incomplete triple is ignored: a partial snapshot must
// never become observable.
func (s *Store) Login(ctx context.Context, user *User, accessToken, refreshToken string) {
	if user == nil || accessToken == "" || refreshToken == "" {
		log.Warn().Msg("Ignoring login with incomplete session data")
		return
	}
	u := *user
	s.apply(ctx, func(Snapshot) (Snapshot, bool) {
		return Snapshot{User: &u, AccessToken: accessToken, RefreshToken: refreshToken}, true
	})
}

// UpdateAccessToken replaces the access token after a successful refresh,
// re-persists and notifies. A silent no-op when no session is active: a late
// refresh result must not resurrect a logged-out session.
func (s *Store) UpdateAccessToken(ctx context.Context, accessToken string) {
	s.apply(ctx, func(current Snapshot) (Snapshot, bool) {
		if !current.Authenticated() || accessToken == "" {
			return Snapshot{}, false
		}
		current.AccessToken = accessToken
		return current, true
	})
}

// UpdateTokens replaces both tokens when the issuance endpoint rotates the
// refresh token alongside the access token. Same no-op contract as
// UpdateAccessToken.
func (s *Store) UpdateTokens(ctx context.Context, accessToken, refreshToken string) {
	s.apply(ctx, func(current Snapshot) (Snapshot, bool) {
		if !current.Authenticated() || accessToken == "" || refreshToken == "" {
			return Snapshot{}, false
		}
		current.AccessToken = accessToken
		current.RefreshToken = refreshToken
		return current, true
	})
}

// Logout resets the snapshot to empty, clears persistence and notifies
// subscribers. Logging out never fails; a persistence error is logged and
// the in-memory session is cleared regardless.
func (s *Store) Logout(ctx context.Context) {
	s.apply(ctx, func(Snapshot) (Snapshot, bool) {
		return Snapshot{}, true
	})
}

// apply runs a state transition: compute the next snapshot, persist it (or
// clear persistence when the next state is empty), commit it to memory and
// queue the notification. Persistence happens inside the critical section so
// the stored record always settles in the same order as memory.
func (s *Store) apply(ctx context.Context, transition func(Snapshot) (Snapshot, bool)) {
	s.mu.Lock()
	next, ok := transition(s.current.clone())
	if !ok {
		s.mu.Unlock()
		return
	}

	if next.Authenticated() {
		next.SavedAt = s.clock.Now()
		if err := s.repo.Save(ctx, next); err != nil {
			// An unpersistable session is treated as no session at all
			log.Warn().Err(err).Msg("Session persistence failed, clearing session")
			next = Snapshot{}
			if clearErr := s.repo.Clear(ctx); clearErr != nil {
				log.Warn().Err(clearErr).Msg("Session clear after failed save also failed")
			}
		}
	} else if err := s.repo.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("Session persistence clear failed")
	}

	s.current = next
	s.seq++
	s.pending = append(s.pending, notification{snapshot: next, seq: s.seq})
	s.mu.Unlock()

	s.deliver()
}

// deliver drains the pending notification queue. Only one goroutine drains
// at a time; anyone else queueing an event while a drain is running hands it
// to the active drainer. Reentrant mutations from inside a listener land on
// the queue and are picked up after the current round, which keeps delivery
// ordered and deadlock-free.
func (s *Store) deliver() {
	s.mu.Lock()
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	s.mu.Unlock()

	drained := false
	defer func() {
		// A panicking listener must not leave the queue without a drainer
		if !drained {
			s.mu.Lock()
			s.notifying = false
			s.mu.Unlock()
		}
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.notifying = false
			drained = true
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		listeners := s.recipientsLocked(next)
		s.mu.Unlock()

		for _, listener := range listeners {
			listener(next.snapshot.clone())
		}
	}
}

// recipientsLocked resolves which listeners receive a queued notification.
// Replays go only to their target subscriber; broadcasts go to every
// subscriber registered before the change was queued.
func (s *Store) recipientsLocked(n notification) []func(Snapshot) {
	if n.target != 0 {
		if sub, ok := s.subs[n.target]; ok {
			return []func(Snapshot){sub.fn}
		}
		return nil
	}

	listeners := make([]func(Snapshot), 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.since <= n.seq {
			listeners = append(listeners, sub.fn)
		}
	}
	return listeners
}
