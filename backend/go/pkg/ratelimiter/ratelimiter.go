// Package ratelimiter provides in-process request admission algorithms.
package ratelimiter

import (
	"fmt"
	"time"

	"ragdesk/backend/go/internal/config"
)

// RateLimiter decides whether one more request may proceed now.
type RateLimiter interface {
	Allow() bool
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Option configures a limiter.
type Option func(*options)

type options struct {
	now Clock
}

// WithClock replaces time.Now.
func WithClock(now Clock) Option {
	return func(o *options) { o.now = now }
}

func build(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the limiter selected by cfg.Algorithm, tokenBucket when unset.
// A disabled config yields nil.
func New(cfg config.RateLimiterConfig, opts ...Option) (RateLimiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "tokenBucket"
	}
	window := func(s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid %s window %q", cfg.Algorithm, s)
		}
		return d, nil
	}

	switch cfg.Algorithm {
	case "fixedWindow":
		d, err := window(cfg.FixedWindow.Window)
		if err != nil {
			return nil, err
		}
		return NewFixedWindowCounter(cfg.FixedWindow.Limit, d, opts...), nil
	case "slidingLog":
		d, err := window(cfg.SlidingLog.Window)
		if err != nil {
			return nil, err
		}
		return NewSlidingWindowLog(cfg.SlidingLog.Limit, d, opts...), nil
	case "slidingCounter":
		d, err := window(cfg.SlidingCounter.Window)
		if err != nil {
			return nil, err
		}
		return NewSlidingWindowCounter(cfg.SlidingCounter.Limit, d, cfg.SlidingCounter.NumBuckets, opts...), nil
	case "leakyBucket":
		return NewLeakyBucket(cfg.LeakyBucket.Rate, cfg.LeakyBucket.Capacity, opts...), nil
	case "tokenBucket":
		return NewTokenBucket(cfg.TokenBucket.Rate, cfg.TokenBucket.Capacity, opts...), nil
	default:
		return nil, fmt.Errorf("unknown rate limiting algorithm %q", cfg.Algorithm)
	}
}
