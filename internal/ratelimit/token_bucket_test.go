package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("expected one token after 200ms at 5/s")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty again")
	}
}

func TestTokenBucket_ClampsToCapacity(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_ClockGoingBackwards(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)
	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("expected no refill when the clock moves backwards")
	}
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill measured from the new reference point")
	}
}

func TestPerSecond(t *testing.T) {
	t.Parallel()

	if b := PerSecond(0); b != nil {
		t.Fatalf("PerSecond(0)=%v, want nil", b)
	}
	var unlimited *TokenBucket
	for i := 0; i < 100; i++ {
		if !unlimited.Allow(1) {
			t.Fatalf("nil bucket rejected a request")
		}
	}

	b := PerSecond(2)
	if !b.Allow(1) || !b.Allow(1) {
		t.Fatalf("expected burst of 2")
	}
	if b.Allow(1) {
		t.Fatalf("expected third immediate request to be rejected")
	}
}
