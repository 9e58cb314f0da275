// Package ratelimit provides per-source token-bucket admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket for one source. Tokens refill continuously at
// requests_per_minute/60 per second; capacity is the burst size. A denied
// request is a skip for the current cycle, never an error.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time

	now func() time.Time
}

// New creates a limiter admitting requestsPerMinute requests per minute with
// the given burst capacity. A non-positive burst defaults to the rate.
func New(requestsPerMinute, burst float64) *Limiter {
	if burst <= 0 {
		burst = requestsPerMinute
	}
	now := time.Now
	return &Limiter{
		tokens:     burst,
		capacity:   burst,
		refillRate: requestsPerMinute / 60.0,
		last:       now(),
		now:        now,
	}
}

// Allow reports whether one request may proceed, consuming a token on success.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.refillRate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.last = now
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count, for inspection.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

// Registry holds one limiter per source.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register adds a limiter for the named source, replacing any existing one.
func (r *Registry) Register(sourceID string, requestsPerMinute, burst float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[sourceID] = New(requestsPerMinute, burst)
}

// Allow consumes a token for the named source. Unknown sources are admitted.
func (r *Registry) Allow(sourceID string) bool {
	r.mu.RLock()
	l, ok := r.limiters[sourceID]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return l.Allow()
}
