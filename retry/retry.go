// Package retry runs an operation under a bounded retry policy.
//
// A Policy decides which failures are worth another attempt and how long to
// wait between attempts. Waits are scheduled on a timer and abandoned as soon as
// the context is cancelled, so a shutting down caller never sits in a backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Policy is a bounded retry policy.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// IsRetryable reports whether err is transient. Nil means nothing is retried.
	IsRetryable func(err error) bool
	// Wait blocks for d or until ctx is done. Defaults to a timer select.
	Wait func(ctx context.Context, d time.Duration) error
}

// Linear returns a backoff of attempt × step.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	wait := p.Wait
	if wait == nil {
		wait = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if p.IsRetryable == nil || !p.IsRetryable(lastErr) || attempt == maxAttempts {
			return attempt, lastErr
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if err := wait(ctx, delay); err != nil {
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

// Sleep waits for d, returning ctx.Err() if ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransientNetworkError reports whether err is a connection reset or a timeout.
func IsTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
