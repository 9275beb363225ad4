package mappings

import (
	"context"
	"errors"
	"time"
)

// Default bounded-retry lookup policy. Organization creation is webhook-driven
// and asynchronous relative to membership events, so a lookup may legitimately
// miss for a short window after the triggering event arrives.
const (
	DefaultMaxRetries = 20
	DefaultRetryDelay = time.Second
)

// RetryPolicy describes a bounded-retry lookup: one initial attempt plus up to
// MaxRetries more, separated by Delay.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration

	// OnRetry, when set, is invoked before each retry sleep with the retry
	// number (1-based). Used for logging and metrics.
	OnRetry func(attempt int)
}

// DefaultRetryPolicy returns the production lookup policy (~20s worst case)
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultRetryDelay,
	}
}

// ResolveWithRetry runs lookup under the policy. Only ErrNotFound is retried;
// any other error is returned immediately. The retry sleep respects context
// cancellation imposed by the hosting request, but the policy itself enforces
// no deadline shorter than MaxRetries x Delay.
func ResolveWithRetry[T any](ctx context.Context, policy RetryPolicy, lookup func(context.Context) (T, error)) (T, error) {
	result, err := lookup(ctx)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return result, err
	}

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if policy.OnRetry != nil {
			policy.OnRetry(attempt)
		}
		if err := sleep(ctx, policy.Delay); err != nil {
			var zero T
			return zero, err
		}

		result, err = lookup(ctx)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return result, err
		}
	}

	var zero T
	return zero, ErrNotFound
}

// sleep waits for d or until the context is cancelled
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
