package httputil

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (network timeouts, connection resets, 5xx responses)
// with this type so that [Backoff.Do] knows to attempt the operation again.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a [RetryableError]. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a [RetryableError].
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Backoff describes an exponential retry policy.
type Backoff struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Base is the wait before the second attempt.
	Base time.Duration
	// Factor multiplies the wait after every failed attempt. Values below 1 are treated as 1.
	Factor float64
	// OnRetry, if set, is called before each wait with the 1-based attempt
	// that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Clock times the waits. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultBackoff returns 3 attempts starting at 1 second and doubling.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Base: time.Second, Factor: 2}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn receives the 1-based attempt number.
// Returns the last error if all attempts fail, or ctx.Err() if cancelled
// while waiting.
func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(b.Attempts, 1)
	factor := max(b.Factor, 1)
	delay := b.Base
	var lastErr error

	for i := range attempts {
		if err := fn(i + 1); err == nil {
			return nil
		} else if lastErr = err; !IsRetryable(err) {
			return err
		}

		if i < attempts-1 {
			if b.OnRetry != nil {
				b.OnRetry(i+1, lastErr, delay)
			}
			clk := b.Clock
			if clk == nil {
				clk = clock.New()
			}
			timer := clk.Timer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				delay = time.Duration(float64(delay) * factor)
			}
		}
	}
	return lastErr
}

// Retry executes fn up to attempts times, doubling delay after each
// retryable failure.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	b := Backoff{Attempts: attempts, Base: delay, Factor: 2}
	return b.Do(ctx, func(int) error { return fn() })
}

// RetryWithBackoff runs fn under [DefaultBackoff].
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return DefaultBackoff().Do(ctx, func(int) error { return fn() })
}
