package mappings

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, Delay: time.Microsecond}
}

func TestResolveWithRetry_ImmediateHit(t *testing.T) {
	calls := 0
	result, err := ResolveWithRetry(context.Background(), testPolicy(20), func(ctx context.Context) (string, error) {
		calls++
		return "found", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result != "found" {
		t.Errorf("Expected result 'found', got %q", result)
	}
	if calls != 1 {
		t.Errorf("Expected 1 lookup, got %d", calls)
	}
}

func TestResolveWithRetry_EventualHit(t *testing.T) {
	calls := 0
	result, err := ResolveWithRetry(context.Background(), testPolicy(20), func(ctx context.Context) (string, error) {
		calls++
		if calls < 4 {
			return "", ErrNotFound
		}
		return "found", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result != "found" {
		t.Errorf("Expected result 'found', got %q", result)
	}
	if calls != 4 {
		t.Errorf("Expected 4 lookups, got %d", calls)
	}
}

func TestResolveWithRetry_Exhaustion(t *testing.T) {
	calls := 0
	_, err := ResolveWithRetry(context.Background(), testPolicy(20), func(ctx context.Context) (string, error) {
		calls++
		return "", ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	// One initial attempt plus MaxRetries retries
	if calls != 21 {
		t.Errorf("Expected 21 lookups, got %d", calls)
	}
}

func TestResolveWithRetry_OtherErrorsNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	_, err := ResolveWithRetry(context.Background(), testPolicy(20), func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected lookup error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 lookup, got %d", calls)
	}
}

func TestResolveWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxRetries: 20, Delay: time.Minute}
	_, err := ResolveWithRetry(ctx, policy, func(ctx context.Context) (string, error) {
		return "", ErrNotFound
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestResolveWithRetry_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := testPolicy(3)
	policy.OnRetry = func(attempt int) {
		attempts = append(attempts, attempt)
	}

	_, err := ResolveWithRetry(context.Background(), policy, func(ctx context.Context) (string, error) {
		return "", ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("Expected retry callbacks 1..3, got %v", attempts)
	}
}

func TestResolveWithRetry_ZeroRetries(t *testing.T) {
	calls := 0
	_, err := ResolveWithRetry(context.Background(), testPolicy(0), func(ctx context.Context) (string, error) {
		calls++
		return "", ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 lookup, got %d", calls)
	}
}
