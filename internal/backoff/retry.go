package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is wrapped by the error returned when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Retrier runs an operation up to Attempts times.
type Retrier struct {
	Policy   Policy
	Attempts int
	// ShouldRetry decides whether an error is transient. Nil retries everything.
	ShouldRetry func(error) bool
	// OnRetry is invoked before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// sleep is swapped in tests.
	sleep func(context.Context, time.Duration) error
}

// Do executes fn. A non-retryable error is returned unchanged; exhausting
// attempts wraps the last error with ErrAttemptsExhausted.
func Do[T any](ctx context.Context, r Retrier, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if r.ShouldRetry != nil && !r.ShouldRetry(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := r.Policy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}
