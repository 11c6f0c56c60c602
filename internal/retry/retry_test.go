package retry

import (
	"context"
	"testing"
	"time"

	"github.com/starpig1129/pigpig-core/internal/coreerrors"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	c := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond, Jitter: 0, TimeoutCeiling: 10 * time.Millisecond})
	attempts := 0
	result, err := Do(context.Background(), c, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", coreerrors.New(coreerrors.CodeServerOverload, "anthropic", 529, "t1", nil)
		}
		return "ok", nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %q", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsAtMaxRetries(t *testing.T) {
	c := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond, Jitter: 0})
	attempts := 0
	_, err := Do(context.Background(), c, func() (string, error) {
		attempts++
		return "", coreerrors.New(coreerrors.CodeRateLimited, "openai", 429, "t2", nil)
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 initial + 2 retries), got %d", attempts)
	}
}

func TestDoDoesNotRetryNonRetryableCode(t *testing.T) {
	c := New(Config{MaxRetries: 5, BaseDelay: time.Millisecond})
	attempts := 0
	_, err := Do(context.Background(), c, func() (string, error) {
		attempts++
		return "", coreerrors.New(coreerrors.CodeAuthFailed, "openai", 401, "t3", nil)
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable code, got %d", attempts)
	}
}

func TestDelayBoundedByJitterAndCeiling(t *testing.T) {
	c := New(Config{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, Jitter: 0.5, TimeoutCeiling: 250 * time.Millisecond})
	for attempt := 1; attempt <= 6; attempt++ {
		d := c.delay(attempt)
		if d > c.cfg.TimeoutCeiling {
			t.Fatalf("attempt %d: delay %v exceeds ceiling %v", attempt, d, c.cfg.TimeoutCeiling)
		}
		if d < c.cfg.BaseDelay && attempt == 1 {
			t.Fatalf("attempt 1: delay %v below base %v", d, c.cfg.BaseDelay)
		}
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	c := New(Config{MaxRetries: 5, BaseDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, c, func() (string, error) {
		return "", coreerrors.New(coreerrors.CodeNetworkTimeout, "anthropic", 0, "t4", nil)
	}, nil, nil)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
