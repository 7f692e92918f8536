// Package session guards the broker access token: startup acquisition,
// durable restore, and single-flight re-authentication.
package session

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/retry"
)

// Authenticator performs the interactive or sidecar-assisted broker login.
type Authenticator interface {
	Login(ctx context.Context) (*Session, error)
}

// Coordinator owns the session lifecycle. Re-authentication is single
// flight: one mutex-protected critical section; a concurrent caller blocks
// until the in-flight login finishes and then returns its result without a
// second login.
type Coordinator struct {
	store    *SQLiteStore
	auth     Authenticator
	calendar core.ICalendar
	logger   core.ILogger
	policy   retry.Policy

	mu       sync.Mutex
	current  *Session
	degraded bool
}

// NewCoordinator creates the coordinator. policy drives the startup retry
// schedule.
func NewCoordinator(store *SQLiteStore, auth Authenticator, calendar core.ICalendar, policy retry.Policy, logger core.ILogger) *Coordinator {
	return &Coordinator{
		store:    store,
		auth:     auth,
		calendar: calendar,
		logger:   logger.WithField("component", "session_coordinator"),
		policy:   policy,
	}
}

// Start restores a durable session if one is still valid, otherwise kicks
// off acquisition on a background worker so application readiness is never
// blocked on the broker.
func (c *Coordinator) Start(ctx context.Context) error {
	restored, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("Session restore failed", "error", err.Error())
	}
	if restored.Valid(c.calendar.Now()) {
		c.mu.Lock()
		c.current = restored
		c.mu.Unlock()
		c.logger.Info("Session restored from store",
			"user_id", restored.UserID,
			"expires_at", restored.ExpiresAt.Format(time.RFC3339))
		return nil
	}

	go c.acquireWithBackoff(ctx)
	return nil
}

func (c *Coordinator) acquireWithBackoff(ctx context.Context) {
	err := retry.DoNotify(ctx, c.policy,
		func(err error) bool { return true },
		func(attempt int, err error, backoff time.Duration) {
			c.logger.Warn("Session acquisition failed, retrying",
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", err.Error())
		},
		func() error {
			_, err := c.EnsureSession(ctx)
			return err
		})
	if err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.logger.Error("Session acquisition exhausted retries, entering degraded mode",
			"error", err.Error())
	}
}

// EnsureSession returns a valid access token, performing a single-flight
// login when the current session is missing or expired. In degraded mode it
// fails fast until ManualLogin succeeds.
func (c *Coordinator) EnsureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A waiter that blocked on the mutex during a login lands here and sees
	// the fresh session.
	if c.current.Valid(c.calendar.Now()) {
		return c.current.AccessToken, nil
	}
	if c.degraded {
		return "", apperrors.ErrSessionExpired
	}
	return c.loginLocked(ctx)
}

func (c *Coordinator) loginLocked(ctx context.Context) (string, error) {
	c.logger.Info("Authenticating with broker")
	sess, err := c.auth.Login(ctx)
	if err != nil {
		return "", apperrors.Unavailable(err)
	}

	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = c.calendar.TokenExpiry(c.calendar.Now())
	}
	if sess.LoginAt.IsZero() {
		sess.LoginAt = c.calendar.Now()
	}
	c.current = sess
	c.degraded = false

	if err := c.store.Save(ctx, sess); err != nil {
		// The in-memory session still works for this run.
		c.logger.Warn("Session persist failed", "error", err.Error())
	}
	c.logger.Info("Session established",
		"user_id", sess.UserID,
		"expires_at", sess.ExpiresAt.Format(time.RFC3339))
	return sess.AccessToken, nil
}

// ManualLogin forces a fresh login, clearing degraded mode on success.
func (c *Coordinator) ManualLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = false
	_, err := c.loginLocked(ctx)
	return err
}

// Invalidate discards the current session. The next EnsureSession call
// re-authenticates.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Delete(ctx); err != nil {
		c.logger.Warn("Session delete failed", "error", err.Error())
	}
	c.logger.Info("Session invalidated")
}

// IsAuthenticated reports whether a valid session is held right now.
func (c *Coordinator) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Valid(c.calendar.Now())
}
