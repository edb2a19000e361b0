package refresh_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
)

const (
	testUserID       = "user-1"
	testUsername     = "alice"
	testAccessToken  = "A1"
	testRefreshToken = "R1"
	newAccessToken   = "A2"
	newRefreshToken  = "R2"
	laterAccessToken = "A3"
)

// fakeExchanger stands in for the issuance client. When block is set, Refresh
// parks until the channel closes or the exchange context expires, which lets
// tests hold a call in flight while more callers pile on.
type fakeExchanger struct {
	block chan struct{}

	mu        sync.Mutex
	calls     int
	lastToken string
	pair      *token.Pair
	err       error
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	f.mu.Lock()
	f.calls++
	f.lastToken = refreshToken
	pair, err := f.pair, f.err
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExchanger) lastRefreshToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastToken
}

func (f *fakeExchanger) returns(pair *token.Pair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pair = pair
	f.err = nil
}

type testFixture struct {
	store       *session.Store
	exchanger   *fakeExchanger
	coordinator *refresh.Coordinator
}

func setupTestFixture(t *testing.T, options ...refresh.CoordinatorOption) *testFixture {
	t.Helper()
	store := session.New(context.Background(), nil)
	exchanger := &fakeExchanger{}
	return &testFixture{
		store:       store,
		exchanger:   exchanger,
		coordinator: refresh.New(store, exchanger, options...),
	}
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	user := &session.User{ID: testUserID, Username: testUsername}
	f.store.Login(context.Background(), user, testAccessToken, testRefreshToken)
}

// TestCoordinator_NoSessionShortCircuits tests that refreshing without a
// stored refresh token fails locally without touching the network.
func TestCoordinator_NoSessionShortCircuits(t *testing.T) {
	f := setupTestFixture(t)

	accessToken, err := f.coordinator.Refresh(context.Background())
	require.ErrorIs(t, err, refresh.NoSessionErr)
	require.Empty(t, accessToken)
	require.Zero(t, f.exchanger.callCount())
}

// TestCoordinator_SuccessUpdatesAccessToken tests that a successful exchange
// returns the new access token and commits it to the store, leaving the
// refresh token untouched when the server did not rotate it.
func TestCoordinator_SuccessUpdatesAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.exchanger.returns(&token.Pair{AccessToken: newAccessToken})

	accessToken, err := f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)
	require.Equal(t, testRefreshToken, f.exchanger.lastRefreshToken())

	snapshot := f.store.Current()
	require.Equal(t, newAccessToken, snapshot.AccessToken)
	require.Equal(t, testRefreshToken, snapshot.RefreshToken)
}

// TestCoordinator_SuccessRotatesBothTokens tests that a rotated refresh token
// in the reply replaces the stored one alongside the access token.
func TestCoordinator_SuccessRotatesBothTokens(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.exchanger.returns(&token.Pair{AccessToken: newAccessToken, RefreshToken: newRefreshToken})

	accessToken, err := f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)

	snapshot := f.store.Current()
	require.Equal(t, newAccessToken, snapshot.AccessToken)
	require.Equal(t, newRefreshToken, snapshot.RefreshToken)
}

// TestCoordinator_FailureLogsOutAndRejects tests that a rejected exchange
// clears the session and surfaces RefreshRejectedErr rather than the raw
// transport error.
func TestCoordinator_FailureLogsOutAndRejects(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.exchanger.err = errors.New("invalid_grant")

	accessToken, err := f.coordinator.Refresh(context.Background())
	require.ErrorIs(t, err, refresh.RefreshRejectedErr)
	require.Empty(t, accessToken)
	require.True(t, f.store.Current().Empty())
}

// TestCoordinator_ConcurrentCallersShareOneExchange tests the storm guard:
// callers arriving while an exchange is in flight attach to it, everyone
// receives the same outcome, and exactly one network call is made.
func TestCoordinator_ConcurrentCallersShareOneExchange(t *testing.T) {
	const attachedCallers = 8

	f := setupTestFixture(t)
	f.login(t)
	release := make(chan struct{})
	f.exchanger.block = release
	f.exchanger.returns(&token.Pair{AccessToken: newAccessToken})

	dedupedBefore := testutil.ToFloat64(metrics.RefreshDeduplicated)

	type outcome struct {
		accessToken string
		err         error
	}
	outcomes := make(chan outcome, attachedCallers+1)
	call := func() {
		accessToken, err := f.coordinator.Refresh(context.Background())
		outcomes <- outcome{accessToken: accessToken, err: err}
	}

	go call()
	require.Eventually(t, func() bool { return f.exchanger.callCount() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < attachedCallers; i++ {
		go call()
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.RefreshDeduplicated) == dedupedBefore+attachedCallers
	}, time.Second, time.Millisecond)

	close(release)

	for i := 0; i < attachedCallers+1; i++ {
		result := <-outcomes
		require.NoError(t, result.err)
		require.Equal(t, newAccessToken, result.accessToken)
	}
	require.Equal(t, 1, f.exchanger.callCount())
}

// TestCoordinator_MemoClearedAfterSettle tests that the shared outcome is not
// reused once it settles: the next caller triggers a fresh exchange.
func TestCoordinator_MemoClearedAfterSettle(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.exchanger.returns(&token.Pair{AccessToken: newAccessToken})

	accessToken, err := f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)

	f.exchanger.returns(&token.Pair{AccessToken: laterAccessToken})

	accessToken, err = f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, laterAccessToken, accessToken)
	require.Equal(t, 2, f.exchanger.callCount())
}

// TestCoordinator_WaiterCanAbandonViaContext tests that a caller waiting on a
// shared exchange can bail out through its own context without disturbing the
// exchange or the callers still attached to it.
func TestCoordinator_WaiterCanAbandonViaContext(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	release := make(chan struct{})
	f.exchanger.block = release
	f.exchanger.returns(&token.Pair{AccessToken: newAccessToken})

	dedupedBefore := testutil.ToFloat64(metrics.RefreshDeduplicated)

	initiator := make(chan error, 1)
	go func() {
		accessToken, err := f.coordinator.Refresh(context.Background())
		if err == nil && accessToken != newAccessToken {
			err = errors.New("initiator received wrong token")
		}
		initiator <- err
	}()
	require.Eventually(t, func() bool { return f.exchanger.callCount() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Refresh(ctx)
		abandoned <- err
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.RefreshDeduplicated) == dedupedBefore+1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-abandoned:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	close(release)
	select {
	case err := <-initiator:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("initiator never settled")
	}
	require.Equal(t, newAccessToken, f.store.Current().AccessToken)
}

// TestCoordinator_TimeoutRejectsAndLogsOut tests that an exchange exceeding
// the coordinator timeout settles as a rejection for every waiter and clears
// the session.
func TestCoordinator_TimeoutRejectsAndLogsOut(t *testing.T) {
	f := setupTestFixture(t, refresh.WithTimeout(50*time.Millisecond))
	f.login(t)
	f.exchanger.block = make(chan struct{})

	accessToken, err := f.coordinator.Refresh(context.Background())
	require.ErrorIs(t, err, refresh.RefreshRejectedErr)
	require.Empty(t, accessToken)
	require.True(t, f.store.Current().Empty())
}

// networkRepo is an in-memory session.Repo that behaves like a remote one:
// calls fail once their context is dead. The context state seen by the last
// Save and Clear is kept for assertions.
type networkRepo struct {
	mu          sync.Mutex
	record      *session.Snapshot
	saveCtxErr  error
	clearCtxErr error
}

func (r *networkRepo) Save(ctx context.Context, snapshot session.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCtxErr = ctx.Err()
	if r.saveCtxErr != nil {
		return r.saveCtxErr
	}
	stored := snapshot
	r.record = &stored
	return nil
}

func (r *networkRepo) Load(ctx context.Context) (session.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return session.Snapshot{}, err
	}
	if r.record == nil {
		return session.Snapshot{}, nil
	}
	return *r.record, nil
}

func (r *networkRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearCtxErr = ctx.Err()
	if r.clearCtxErr != nil {
		return r.clearCtxErr
	}
	r.record = nil
	return nil
}

func (r *networkRepo) stored() *session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return nil
	}
	stored := *r.record
	return &stored
}

func (r *networkRepo) lastSaveCtxErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveCtxErr
}

func (r *networkRepo) lastClearCtxErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearCtxErr
}

// lateExchanger replies successfully only after the exchange context has
// already expired, modelling a reply that lands at the deadline boundary.
type lateExchanger struct {
	pair *token.Pair
}

func (l *lateExchanger) Refresh(ctx context.Context, _ string) (*token.Pair, error) {
	<-ctx.Done()
	return l.pair, nil
}

// TestCoordinator_TimeoutLogoutClearsPersistence tests that the forced logout
// after a timed-out exchange reaches persistence with a live context: a repo
// honouring context cancellation must still be able to clear the stored
// record.
func TestCoordinator_TimeoutLogoutClearsPersistence(t *testing.T) {
	repo := &networkRepo{}
	store := session.New(context.Background(), repo)
	exchanger := &fakeExchanger{block: make(chan struct{})}
	coordinator := refresh.New(store, exchanger, refresh.WithTimeout(50*time.Millisecond))

	user := &session.User{ID: testUserID, Username: testUsername}
	store.Login(context.Background(), user, testAccessToken, testRefreshToken)

	_, err := coordinator.Refresh(context.Background())
	require.ErrorIs(t, err, refresh.RefreshRejectedErr)

	require.NoError(t, repo.lastClearCtxErr())
	require.Nil(t, repo.stored(), "stored record must not survive the forced logout")
	require.True(t, store.Current().Empty())
}

// TestCoordinator_LateReplyStillCommits tests that a successful reply landing
// at the exchange deadline is still persisted rather than degrading into a
// self-healed logout.
func TestCoordinator_LateReplyStillCommits(t *testing.T) {
	repo := &networkRepo{}
	store := session.New(context.Background(), repo)
	exchanger := &lateExchanger{pair: &token.Pair{AccessToken: newAccessToken}}
	coordinator := refresh.New(store, exchanger, refresh.WithTimeout(50*time.Millisecond))

	user := &session.User{ID: testUserID, Username: testUsername}
	store.Login(context.Background(), user, testAccessToken, testRefreshToken)

	accessToken, err := coordinator.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)

	require.NoError(t, repo.lastSaveCtxErr())
	stored := repo.stored()
	require.NotNil(t, stored)
	require.Equal(t, newAccessToken, stored.AccessToken)
	require.Equal(t, newAccessToken, store.Current().AccessToken)
}
