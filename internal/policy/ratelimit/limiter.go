// Package ratelimit spaces fetches per authority with token buckets, so the
// crawl harness stays polite to every site it visits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the fetch rate allowed per authority; zero or less disables
	// limiting.
	RPS   float64
	Burst int
}

// Limiter manages one token bucket per authority label. Buckets share the
// frontier's class keys, so politeness follows the same grouping as the
// work queues.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until uri's authority may be fetched again or ctx is done.
func (l *Limiter) Wait(ctx context.Context, uri string) error {
	if l.rate == rate.Inf {
		return nil
	}
	class := authority.ClassKey(uri)
	limiter := l.bucket(class)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(class, d)
	}
	return nil
}

// Authorities returns how many authorities have a bucket.
func (l *Limiter) Authorities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) bucket(class string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[class]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[class] = limiter
	}
	return limiter
}
