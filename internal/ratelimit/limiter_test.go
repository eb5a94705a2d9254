package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"clipforge/internal/ratelimit"
	"clipforge/internal/testsupport"
)

func newLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	limiter, err := ratelimit.Open(cfg)
	if err != nil {
		t.Fatalf("open limiter: %v", err)
	}
	t.Cleanup(func() {
		if err := limiter.Close(); err != nil {
			t.Errorf("close limiter: %v", err)
		}
	})
	return limiter
}

func TestEvaluateFixedWindow(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		decision, err := limiter.Evaluate(ctx, "provider:egress", 5, time.Minute, base)
		if err != nil {
			t.Fatalf("Evaluate %d failed: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if decision.Remaining != 4-i {
			t.Fatalf("call %d: expected remaining %d, got %d", i, 4-i, decision.Remaining)
		}
	}

	decision, err := limiter.Evaluate(ctx, "provider:egress", 5, time.Minute, base)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("sixth call in the window should be rejected")
	}
	if decision.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", decision.Remaining)
	}
	if decision.Reset <= 0 || decision.Reset > time.Minute {
		t.Fatalf("unexpected reset %s", decision.Reset)
	}
}

func TestEvaluateWindowReset(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		if _, err := limiter.Evaluate(ctx, "publish:egress", 5, time.Minute, base); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}

	decision, err := limiter.Evaluate(ctx, "publish:egress", 5, time.Minute, base.Add(61*time.Second))
	if err != nil {
		t.Fatalf("Evaluate after reset failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected fresh window after reset")
	}
	if decision.Remaining != 4 {
		t.Fatalf("expected fresh counter remaining 4, got %d", decision.Remaining)
	}
}

func TestEvaluateKeysAreIndependent(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := limiter.Evaluate(ctx, "provider:egress", 3, time.Minute, base); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}
	decision, err := limiter.Evaluate(ctx, "publish:egress", 3, time.Minute, base)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("expected untouched counter for second key, got %#v", decision)
	}
}

func TestEvaluateConcurrentCallersNoLostUpdates(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	const callers = 20
	const limit = 10
	var wg sync.WaitGroup
	allowed := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Evaluate(ctx, "provider:egress", limit, time.Minute, base)
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
				return
			}
			allowed <- decision.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	admitted := 0
	for ok := range allowed {
		if ok {
			admitted++
		}
	}
	if admitted != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	limiter := newLimiter(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := limiter.Evaluate(ctx, "", 5, time.Minute, now); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := limiter.Evaluate(ctx, "k", 0, time.Minute, now); err == nil {
		t.Fatal("expected error for non-positive limit")
	}
	if _, err := limiter.Evaluate(ctx, "k", 5, 0, now); err == nil {
		t.Fatal("expected error for non-positive window")
	}
}
