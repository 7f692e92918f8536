package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/retry"
)

type fixedCalendar struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedCalendar) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedCalendar) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fixedCalendar) Phase(at time.Time) core.MarketPhase { return core.PhaseNormal }
func (c *fixedCalendar) MinutesToClose(at time.Time) int     { return 120 }
func (c *fixedCalendar) TokenExpiry(at time.Time) time.Time {
	return at.Add(20 * time.Hour)
}

type stubAuth struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	sess  *Session
	err   error
}

func (a *stubAuth) Login(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	a.calls++
	delay, sess, err := a.delay, a.sess, a.err
	a.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	cp := *sess
	return &cp, nil
}

func (a *stubAuth) loginCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newCoordinatorFixture(t *testing.T, auth *stubAuth) (*Coordinator, *SQLiteStore, *fixedCalendar) {
	t.Helper()
	store := newTestStore(t)
	cal := &fixedCalendar{now: time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)}
	c := NewCoordinator(store, auth, cal, testPolicy(), mock.NewLogger())
	return c, store, cal
}

func TestStartRestoresValidSession(t *testing.T) {
	auth := &stubAuth{sess: &Session{AccessToken: "fresh"}}
	c, store, cal := newCoordinatorFixture(t, auth)

	require.NoError(t, store.Save(context.Background(), &Session{
		AccessToken: "stored-tok",
		UserID:      "AB1234",
		ExpiresAt:   cal.Now().Add(4 * time.Hour),
	}))

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsAuthenticated())

	tok, err := c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-tok", tok)
	assert.Equal(t, 0, auth.loginCount(), "no broker login when the restore is valid")
}

func TestEnsureSessionLogsInOnceAndPersists(t *testing.T) {
	auth := &stubAuth{sess: &Session{AccessToken: "tok-1", UserID: "AB1234"}}
	c, store, cal := newCoordinatorFixture(t, auth)

	tok, err := c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Zero-value expiry and login time are filled in from the calendar.
	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.ExpiresAt.Equal(cal.Now().Add(20*time.Hour)))
	assert.True(t, stored.LoginAt.Equal(cal.Now()))

	// Warm session: no second login.
	_, err = c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.loginCount())
}

func TestEnsureSessionSingleFlight(t *testing.T) {
	auth := &stubAuth{
		delay: 50 * time.Millisecond,
		sess:  &Session{AccessToken: "tok-1"},
	}
	c, _, _ := newCoordinatorFixture(t, auth)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.EnsureSession(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, auth.loginCount(), "waiters reuse the in-flight login's result")
}

func TestEnsureSessionReauthenticatesAfterExpiry(t *testing.T) {
	auth := &stubAuth{sess: &Session{AccessToken: "tok-1"}}
	c, _, cal := newCoordinatorFixture(t, auth)

	_, err := c.EnsureSession(context.Background())
	require.NoError(t, err)

	cal.Advance(21 * time.Hour)
	_, err = c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, auth.loginCount())
}

func TestDegradedModeAfterExhaustedRetries(t *testing.T) {
	auth := &stubAuth{err: errors.New("broker rejects login")}
	c, _, _ := newCoordinatorFixture(t, auth)

	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, err := c.EnsureSession(context.Background())
		return errors.Is(err, apperrors.ErrSessionExpired)
	}, 5*time.Second, 10*time.Millisecond, "coordinator should fail fast once degraded")
}

func TestManualLoginClearsDegraded(t *testing.T) {
	auth := &stubAuth{err: errors.New("broker rejects login")}
	c, _, _ := newCoordinatorFixture(t, auth)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, err := c.EnsureSession(context.Background())
		return errors.Is(err, apperrors.ErrSessionExpired)
	}, 5*time.Second, 10*time.Millisecond)

	auth.mu.Lock()
	auth.err = nil
	auth.sess = &Session{AccessToken: "recovered"}
	auth.mu.Unlock()

	require.NoError(t, c.ManualLogin(context.Background()))

	tok, err := c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", tok)
}

func TestInvalidateForcesRelogin(t *testing.T) {
	auth := &stubAuth{sess: &Session{AccessToken: "tok-1"}}
	c, store, _ := newCoordinatorFixture(t, auth)

	_, err := c.EnsureSession(context.Background())
	require.NoError(t, err)

	c.Invalidate()
	assert.False(t, c.IsAuthenticated())

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored, "durable copy removed")

	_, err = c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, auth.loginCount())
}
