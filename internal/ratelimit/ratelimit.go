package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a per-key sliding window: at most max events per key per
// window. Keys are caller-defined, typically a user id for the queue
// endpoints.
type Limiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter allowing max events per window for each key.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		hits:   make(map[string][]time.Time),
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow records one event for key if it is under the limit and reports
// whether it was admitted. Rejected events are not recorded, so a client
// hammering a full window does not push its own recovery further out.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.prune(key)
	if len(valid) >= l.max {
		l.hits[key] = valid
		return false
	}
	l.hits[key] = append(valid, l.now())
	return true
}

// Remaining reports how many events key may still spend in the current
// window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.prune(key)
	if len(valid) == 0 {
		delete(l.hits, key)
	} else {
		l.hits[key] = valid
	}
	return l.max - len(valid)
}

// Sweep drops keys whose every event has aged out of the window. Callers run
// it periodically so idle users do not accumulate forever.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.hits {
		if valid := l.prune(key); len(valid) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = valid
		}
	}
}

// prune returns key's events still inside the window. Caller holds the lock.
func (l *Limiter) prune(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	timestamps := l.hits[key]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
