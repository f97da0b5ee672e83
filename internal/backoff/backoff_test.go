package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1", calls, result.Attempts)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	wantErr := errors.New("always fails")
	calls := 0
	result := Do(context.Background(), fastPolicy(2), func() error {
		calls++
		return wantErr
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !errors.Is(result.Err, wantErr) {
		t.Errorf("result.Err = %v, want %v", result.Err, wantErr)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	policy := fastPolicy(5)
	policy.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	result := Do(context.Background(), policy, func() error {
		calls++
		return permanent
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry of permanent errors)", calls)
	}
	if !errors.Is(result.Err, permanent) {
		t.Errorf("result.Err = %v", result.Err)
	}
}

func TestDoOnRetryCallback(t *testing.T) {
	var retries []int
	policy := fastPolicy(3)
	policy.OnRetry = func(nextAttempt int, err error) {
		retries = append(retries, nextAttempt)
	}

	Do(context.Background(), policy, func() error {
		return errors.New("transient")
	})
	if len(retries) != 2 {
		t.Fatalf("got %d retry callbacks, want 2", len(retries))
	}
	if retries[0] != 2 || retries[1] != 3 {
		t.Errorf("retry attempts = %v, want [2 3]", retries)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := Do(ctx, fastPolicy(3), func() error {
		calls++
		return errors.New("transient")
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0 for pre-cancelled context", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("result.Err = %v, want context.Canceled", result.Err)
	}
}

func TestDoExponentialGrowthStaysCapped(t *testing.T) {
	policy := Policy{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Growth:       GrowthExponential,
	}

	start := time.Now()
	result := Do(context.Background(), policy, func() error {
		return errors.New("transient")
	})
	if result.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4", result.Attempts)
	}
	// Delays are 1ms, 2ms, then capped at 2ms. Allow generous slack for
	// slow CI; the check only guards against runaway growth.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("elapsed = %v, delays apparently uncapped", elapsed)
	}
}

func TestDefaultPolicyBudget(t *testing.T) {
	policy := DefaultPolicy()
	if policy.MaxAttempts != 2 {
		t.Errorf("default budget = %d attempts, want 2", policy.MaxAttempts)
	}
}
