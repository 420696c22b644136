// Package ratelimit throttles offer acceptance with a token bucket.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a refill rate of N tokens/sec adds N
// nano-tokens per elapsed nanosecond and no float rounding is needed.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket allows bursts of up to Capacity tokens and refills at Rate
// tokens per second. A nil *TokenBucket allows everything.
type TokenBucket struct {
	clock    Clock
	capacity int64 // nano-tokens
	rate     int64 // tokens/sec

	mu        sync.Mutex
	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses the wall clock.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacityNano := toNano(capacity)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacityNano,
		rate:      max(rate, 0),
		available: capacityNano,
		last:      clock.Now(),
	}
}

// PerSecond returns a bucket admitting n events per second with a burst of
// n, or nil when n <= 0.
func PerSecond(n int) *TokenBucket {
	if n <= 0 {
		return nil
	}
	return NewTokenBucket(nil, int64(n), int64(n))
}

// Allow takes tokens from the bucket if enough are available. tokens <= 0
// always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

// caller must hold b.mu.
func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.available >= b.capacity {
		return
	}

	missing := b.capacity - b.available
	// elapsed*rate would overflow long after the bucket is full.
	if elapsed >= missing/b.rate {
		b.available = b.capacity
		return
	}
	b.available = min(b.available+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
