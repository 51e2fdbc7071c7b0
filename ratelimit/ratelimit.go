package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window admission limiter keyed by client identifier.
// Timestamps older than the window are evicted lazily on access. State is
// process-local and mutex-guarded; it does not survive restarts and is not
// shared across replicas. Identifier cardinality is unbounded, a known
// limitation inherited from the original design.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	windows map[string][]time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		max:     maxRequests,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow admits the identifier if it has made fewer than the configured
// maximum of requests within the trailing window, recording the admission.
func (l *Limiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.evict(identifier, now)
	if len(kept) >= l.max {
		l.windows[identifier] = kept
		return false
	}
	l.windows[identifier] = append(kept, now)
	return true
}

// Remaining reports how many admissions the identifier has left in the
// current window. It never returns a negative number.
func (l *Limiter) Remaining(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.evict(identifier, l.now())
	l.windows[identifier] = kept
	if remaining := l.max - len(kept); remaining > 0 {
		return remaining
	}
	return 0
}

// evict drops timestamps that fell out of the trailing window. Caller holds
// the lock.
func (l *Limiter) evict(identifier string, now time.Time) []time.Time {
	previous := l.windows[identifier]
	kept := previous[:0]
	cutoff := now.Add(-l.window)
	for _, ts := range previous {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
