// Package ratelimit implements a token bucket rate limiter keyed by caller,
// used to throttle manuscript uploads per client.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-key token buckets. Keys are typically client
// addresses; an unseen key gets a fresh bucket with the default rate.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained requests per second per key; <= 0 disables
	// limiting.
	RPS float64
	// Burst is the bucket size; values <= 0 select 1.
	Burst int
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
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Allow reports whether a request for key may proceed now. Requests over
// the limit are rejected rather than queued so upload handlers can answer
// with a status code instead of stalling the client.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	return limiter
}
