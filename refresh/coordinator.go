package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
)

const defaultTimeout = 10 * time.Second

// Exchanger performs the network half of a refresh: trading a refresh token
// for a new pair. *token.Client satisfies it.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
}

var _ Exchanger = (*token.Client)(nil)

// call is one in-flight refresh that concurrent callers attach to. done is
// closed once accessToken and err are settled.
type call struct {
	done        chan struct{}
	accessToken string
	err         error
}

// Coordinator exchanges the stored refresh token for a new access token and
// applies the outcome to the session store. At any instant at most one
// exchange is in flight: callers arriving while one runs attach to its
// outcome instead of starting another, and the memo is cleared once the call
// settles so a later 401 can trigger a fresh exchange. A failed exchange
// logs the session out; the coordinator never retries internally.
type Coordinator struct {
	store     *session.Store
	exchanger Exchanger
	timeout   time.Duration

	mu       sync.Mutex
	inflight *call
}

// CoordinatorOption defines a function type to modify the Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithTimeout bounds each refresh exchange (default 10s). A hung exchange
// settles as rejected instead of blocking attached callers forever.
func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// New creates a refresh coordinator over the given store and exchanger.
func New(store *session.Store, exchanger Exchanger, options ...CoordinatorOption) *Coordinator {
	coordinator := &Coordinator{
		store:     store,
		exchanger: exchanger,
		timeout:   defaultTimeout,
	}
	for _, option := range options {
		option(coordinator)
	}
	return coordinator
}

// Refresh returns a fresh access token, performing at most one network
// exchange no matter how many callers arrive while it runs. Every caller
// waiting on a shared exchange may abandon early through its own ctx without
// affecting the others; the exchange itself runs detached, bounded by the
// coordinator timeout.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	snapshot := c.store.Current()
	if snapshot.RefreshToken == "" {
		metrics.RefreshTotal.WithLabelValues("no_session").Inc()
		return "", NoSessionErr
	}

	c.mu.Lock()
	active := c.inflight
	if active == nil {
		active = &call{done: make(chan struct{})}
		c.inflight = active
		go c.exchange(active, snapshot.RefreshToken)
	} else {
		metrics.RefreshDeduplicated.Inc()
	}
	c.mu.Unlock()

	select {
	case <-active.done:
		return active.accessToken, active.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// exchange performs the network call and settles the shared outcome. It runs
// on a context detached from any single caller: one caller cancelling must
// not poison the result every attached caller shares.
func (c *Coordinator) exchange(active *call, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	pair, err := c.exchanger.Refresh(ctx, refreshToken)
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	// The exchange deadline must not reach the store: a timed-out exchange
	// still has to clear (or save) the persisted record
	settleCtx := context.WithoutCancel(ctx)

	switch {
	case err != nil:
		// A rejected refresh token is unrecoverable: force logout
		log.Warn().Err(err).Msg("Refresh rejected, logging out")
		c.store.Logout(settleCtx)
		active.err = RefreshRejectedErr
		metrics.RefreshTotal.WithLabelValues("rejected").Inc()
	case pair.RefreshToken != "":
		// Server rotated the refresh token alongside the access token
		c.store.UpdateTokens(settleCtx, pair.AccessToken, pair.RefreshToken)
		active.accessToken = pair.AccessToken
		metrics.RefreshTotal.WithLabelValues("success").Inc()
	default:
		c.store.UpdateAccessToken(settleCtx, pair.AccessToken)
		active.accessToken = pair.AccessToken
		metrics.RefreshTotal.WithLabelValues("success").Inc()
	}

	// Clear the memo before waking waiters so a caller arriving after
	// settlement starts a fresh exchange instead of reading a stale one
	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(active.done)
}
