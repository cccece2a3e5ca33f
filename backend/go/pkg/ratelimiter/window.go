package ratelimiter

import (
	"container/list"
	"sync"
	"time"
)

// FixedWindowCounter admits up to limit requests per window, counted from the
// first request of the window.
type FixedWindowCounter struct {
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	now         Clock
	mu          sync.Mutex
}

// NewFixedWindowCounter creates a new FixedWindowCounter.
func NewFixedWindowCounter(limit int, window time.Duration, opts ...Option) *FixedWindowCounter {
	o := build(opts)
	return &FixedWindowCounter{limit: limit, window: window, windowStart: o.now(), now: o.now}
}

// Allow implements RateLimiter.
func (c *FixedWindowCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !now.Before(c.windowStart.Add(c.window)) {
		c.windowStart = now
		c.count = 0
	}
	if c.count >= c.limit {
		return false
	}
	c.count++
	return true
}

// SlidingWindowLog remembers the time of every admitted request within the window.
type SlidingWindowLog struct {
	limit  int
	window time.Duration
	log    *list.List
	now    Clock
	mu     sync.Mutex
}

// NewSlidingWindowLog creates a new SlidingWindowLog.
func NewSlidingWindowLog(limit int, window time.Duration, opts ...Option) *SlidingWindowLog {
	return &SlidingWindowLog{limit: limit, window: window, log: list.New(), now: build(opts).now}
}

// Allow implements RateLimiter.
func (l *SlidingWindowLog) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	boundary := now.Add(-l.window)
	// entries are in admission order
	for e := l.log.Front(); e != nil && !e.Value.(time.Time).After(boundary); e = l.log.Front() {
		l.log.Remove(e)
	}

	if l.log.Len() >= l.limit {
		return false
	}
	l.log.PushBack(now)
	return true
}

// SlidingWindowCounter approximates a sliding window with numBuckets fixed sub-windows.
type SlidingWindowCounter struct {
	limit      int
	bucketSize time.Duration
	buckets    []int
	current    int
	lastSlide  time.Time
	now        Clock
	mu         sync.Mutex
}

// NewSlidingWindowCounter creates a new SlidingWindowCounter. numBuckets defaults to 10.
func NewSlidingWindowCounter(limit int, window time.Duration, numBuckets int, opts ...Option) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	o := build(opts)
	return &SlidingWindowCounter{
		limit:      limit,
		bucketSize: window / time.Duration(numBuckets),
		buckets:    make([]int, numBuckets),
		lastSlide:  o.now(),
		now:        o.now,
	}
}

func (c *SlidingWindowCounter) slide() {
	now := c.now()
	steps := int(now.Sub(c.lastSlide) / c.bucketSize)
	if steps <= 0 {
		return
	}
	if steps >= len(c.buckets) {
		clear(c.buckets)
	} else {
		for i := 1; i <= steps; i++ {
			c.buckets[(c.current+i)%len(c.buckets)] = 0
		}
	}
	c.current = (c.current + steps) % len(c.buckets)
	c.lastSlide = c.lastSlide.Add(time.Duration(steps) * c.bucketSize)
}

// Allow implements RateLimiter.
func (c *SlidingWindowCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slide()
	total := 0
	for _, n := range c.buckets {
		total += n
	}
	if total >= c.limit {
		return false
	}
	c.buckets[c.current]++
	return true
}
