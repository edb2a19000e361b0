package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/session"
)

const defaultKey = "authclient:session"

var _ session.Repo = (*Repo)(nil)

// Repo stores the session snapshot as a single JSON value in Redis, for
// clients that share a session across processes or hosts. An unparseable or
// partial value is deleted and reported as empty (self-healing).
type Repo struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

// Option defines a function type to modify the Repo instance.
type Option func(*Repo)

// WithKey overrides the Redis key the snapshot is stored under.
func WithKey(key string) Option {
	return func(r *Repo) {
		r.key = key
	}
}

// WithTTL expires the stored record after the given duration. Zero keeps the
// record until it is cleared. A sensible value is the refresh token lifetime,
// after which the record could no longer start a session anyway.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repo) {
		r.ttl = ttl
	}
}

// New creates a Redis-backed session repository on the given client.
func New(rdb *goredis.Client, options ...Option) *Repo {
	repo := &Repo{rdb: rdb, key: defaultKey}
	for _, option := range options {
		option(repo)
	}
	return repo
}

// NewClient creates a go-redis client from a URL (e.g. "redis://localhost:6379")
// and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "[redisrepo.NewClient] parse redis URL")
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "[redisrepo.NewClient] ping redis")
	}
	return rdb, nil
}

// Save stores the snapshot, replacing any previous record.
func (r *Repo) Save(ctx context.Context, snapshot session.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "[Repo.Save] marshal snapshot")
	}
	if err := r.rdb.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "[Repo.Save] set session record")
	}
	return nil
}

// Load retrieves the stored snapshot. A missing key means no session.
func (r *Repo) Load(ctx context.Context) (session.Snapshot, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return session.Snapshot{}, nil
	}
	if err != nil {
		return session.Snapshot{}, errors.Wrap(err, "[Repo.Load] get session record")
	}

	var snapshot session.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return r.selfHeal(ctx, "unparseable session record", err), nil
	}
	if !snapshot.Complete() && !snapshot.Empty() {
		return r.selfHeal(ctx, "partial session record", nil), nil
	}
	return snapshot, nil
}

// Clear removes the stored record. Clearing an absent record is not an error.
func (r *Repo) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(err, "[Repo.Clear] delete session record")
	}
	return nil
}

func (r *Repo) selfHeal(ctx context.Context, reason string, err error) session.Snapshot {
	log.Warn().Err(err).Str("key", r.key).Msg("Clearing corrupt session record: " + reason)
	if delErr := r.rdb.Del(ctx, r.key).Err(); delErr != nil {
		log.Warn().Err(delErr).Str("key", r.key).Msg("Failed to delete corrupt session record")
	}
	return session.Snapshot{}
}
