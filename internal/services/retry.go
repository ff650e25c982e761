package services

import (
	"context"
	"time"
)

// RetryPolicy bounds repeated attempts of a phase operation. Backoff doubles
// after every failed attempt, capped at MaxBackoff.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as a single attempt.
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The context cancels the wait between attempts.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !Retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return err
}
