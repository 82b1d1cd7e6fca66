package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	clock := newFakeClock()
	lim := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()
	window := 1000 * time.Millisecond

	first := lim.Check(ctx, "submit:k", 3, window)
	for i := 1; i < 3; i++ {
		res := lim.Check(ctx, "submit:k", 3, window)
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, 3-(i+1), res.Remaining)
		}
	}
	if !first.Allowed || first.Remaining != 2 {
		t.Fatalf("first call: %+v", first)
	}

	clock.Advance(500 * time.Millisecond)
	denied := lim.Check(ctx, "submit:k", 3, window)
	if denied.Allowed {
		t.Fatalf("4th call inside the window must be rejected")
	}
	if denied.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", denied.Remaining)
	}
	if !denied.ResetTime.Equal(first.ResetTime) {
		t.Errorf("rejection must report the original reset time: %v vs %v", denied.ResetTime, first.ResetTime)
	}
	if got := denied.RetryAfter(clock.Now()); got != time.Second {
		t.Errorf("expected retry after 1s, got %v", got)
	}

	clock.Advance(501 * time.Millisecond)
	fresh := lim.Check(ctx, "submit:k", 3, window)
	if !fresh.Allowed {
		t.Fatalf("call after the window must be allowed")
	}
	if fresh.Remaining != 2 {
		t.Errorf("fresh window should start at count 1, remaining %d", fresh.Remaining)
	}
	if !fresh.ResetTime.After(first.ResetTime) {
		t.Errorf("fresh window must move the reset time")
	}
}

func TestMemoryLimiterRejectDoesNotIncrement(t *testing.T) {
	clock := newFakeClock()
	lim := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()

	lim.Check(ctx, "vote:a", 1, time.Minute)
	for i := 0; i < 5; i++ {
		if lim.Check(ctx, "vote:a", 1, time.Minute).Allowed {
			t.Fatalf("over-limit call %d allowed", i)
		}
	}
	clock.Advance(time.Minute + time.Millisecond)
	if !lim.Check(ctx, "vote:a", 1, time.Minute).Allowed {
		t.Fatalf("rejections must not extend the window")
	}
}

func TestMemoryLimiterResetBoundary(t *testing.T) {
	clock := newFakeClock()
	lim := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()

	first := lim.Check(ctx, "submit:edge", 1, time.Second)
	clock.Advance(time.Second)
	at := lim.Check(ctx, "submit:edge", 1, time.Second)
	if at.Allowed {
		t.Fatalf("call exactly at the reset time must still count against the old window")
	}
	if !at.ResetTime.Equal(first.ResetTime) {
		t.Errorf("reset time moved: %v vs %v", at.ResetTime, first.ResetTime)
	}
	if lim.Sweep() != 0 {
		t.Errorf("entry swept at its reset time")
	}

	clock.Advance(time.Nanosecond)
	if !lim.Check(ctx, "submit:edge", 1, time.Second).Allowed {
		t.Fatalf("call after the reset time must open a fresh window")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	lim := NewMemoryLimiter()
	ctx := context.Background()
	submit := Rule{Prefix: "submit:", Limit: 1, Window: time.Hour}
	vote := Rule{Prefix: "vote:", Limit: 1, Window: time.Hour}

	if !submit.Check(ctx, lim, "u1").Allowed {
		t.Fatalf("first submit denied")
	}
	if !vote.Check(ctx, lim, "u1").Allowed {
		t.Fatalf("vote namespace must not share the submit counter")
	}
	if !submit.Check(ctx, lim, "u2").Allowed {
		t.Fatalf("other identity must not share the counter")
	}
	if submit.Check(ctx, lim, "u1").Allowed {
		t.Fatalf("second submit for u1 should be denied")
	}
}

func TestMemoryLimiterSweep(t *testing.T) {
	clock := newFakeClock()
	lim := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()

	lim.Check(ctx, "a", 5, time.Second)
	lim.Check(ctx, "b", 5, time.Minute)
	clock.Advance(2 * time.Second)

	if removed := lim.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if lim.Len() != 1 {
		t.Errorf("expected 1 remaining entry, got %d", lim.Len())
	}
}

func TestMemoryLimiterStartStop(t *testing.T) {
	lim := NewMemoryLimiter()
	lim.Check(context.Background(), "short", 1, time.Millisecond)

	lim.Start(5 * time.Millisecond)
	lim.Start(5 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for lim.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	lim.Stop()
	lim.Stop()

	if lim.Len() != 0 {
		t.Fatalf("background sweep did not purge expired entry")
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	lim := NewMemoryLimiter()
	ctx := context.Background()
	const limit = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lim.Check(ctx, "burst", limit, time.Hour).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, allowed)
	}
}
