package session

import "context"

// Repo is the persistence contract for the session snapshot: one record under
// a fixed key, surviving process restarts. Load never fails on a missing or
// corrupt record; corrupt data is cleared as a side effect (self-healing) and
// reported as empty. Errors are reserved for transport-level failures such as
// I/O or network problems. No component other than the Store touches the
// storage medium directly.
type Repo interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Clear(ctx context.Context) error
}
