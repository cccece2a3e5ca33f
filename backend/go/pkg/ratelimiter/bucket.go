package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket refills rate tokens per second up to capacity. It starts full,
// so a burst of capacity requests is admitted at once.
type TokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      Clock
	mu       sync.Mutex
}

// NewTokenBucket creates a new TokenBucket.
func NewTokenBucket(rate float64, capacity int, opts ...Option) *TokenBucket {
	o := build(opts)
	return &TokenBucket{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		last:     o.now(),
		now:      o.now,
	}
}

// Allow implements RateLimiter.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed.Seconds()*b.rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// LeakyBucket admits requests while the bucket, draining at rate per second, has room.
type LeakyBucket struct {
	rate     float64
	capacity float64
	level    float64
	last     time.Time
	now      Clock
	mu       sync.Mutex
}

// NewLeakyBucket creates a new LeakyBucket.
func NewLeakyBucket(rate float64, capacity int, opts ...Option) *LeakyBucket {
	o := build(opts)
	return &LeakyBucket{rate: rate, capacity: float64(capacity), last: o.now(), now: o.now}
}

// Allow implements RateLimiter.
func (b *LeakyBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.level = max(0, b.level-elapsed.Seconds()*b.rate)
		b.last = now
	}
	if b.level+1 > b.capacity {
		return false
	}
	b.level++
	return true
}
