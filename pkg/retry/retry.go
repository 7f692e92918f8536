package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// OnRetryFunc is invoked before each retry sleep with the attempt number
// (1-based) and the error that caused it.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do executes a function with retries according to the policy
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	return DoNotify(ctx, policy, isTransient, nil, fn)
}

// DoNotify is Do with a per-retry callback for logging.
func DoNotify(ctx context.Context, policy Policy, isTransient IsTransientFunc, onRetry OnRetryFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if isTransient != nil && !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// Jittered backoff: backoff + random(0, 50% of backoff)
		jitter := time.Duration(0)
		if backoff > 1 {
			jitter = time.Duration(rand.Int63n(int64(backoff / 2)))
		}
		sleepTime := backoff + jitter

		if onRetry != nil {
			onRetry(attempt+1, err, sleepTime)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
