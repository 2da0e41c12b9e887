package supervisor

import (
	"context"
	"time"
)

// Attempt runs fn up to policy.MaxAttempts times, sleeping the backoff curve
// between attempts. Terminal-, payload- and parse-class errors abort
// immediately; benign signals are returned as-is for the caller to absorb.
// Used for bounded per-upload retries in the chunked backend, where a failed
// upload must not consume the session-level budget.
func Attempt(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ClassOf(err) != ClassRetryable {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(policy, attempt)):
		}
	}
	return lastErr
}
