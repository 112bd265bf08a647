package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt failed with a
// retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Sleep waits for the given duration, respecting context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// SleepAttempt computes the policy delay for attempt and sleeps it.
func (p Policy) SleepAttempt(ctx context.Context, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Retry runs op up to maxAttempts times, sleeping the policy delay between
// attempts. Errors for which retryable returns false stop the loop
// immediately; a nil retryable treats every error as retryable. The returned
// error is the last op error, or ErrAttemptsExhausted-wrapped when the
// attempt budget ran out on a retryable failure.
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, op func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt < maxAttempts {
			if err := policy.SleepAttempt(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return errors.Join(ErrAttemptsExhausted, lastErr)
}
