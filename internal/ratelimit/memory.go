package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a per-process sliding window keyed by caller id.
type MemoryLimiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		history: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	attempts := l.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= l.limit {
		l.history[key] = fresh
		return &Result{
			Allowed:    false,
			RetryAfter: fresh[0].Add(l.window).Sub(now),
		}, nil
	}

	fresh = append(fresh, now)
	l.history[key] = fresh
	return &Result{Allowed: true, Remaining: l.limit - len(fresh)}, nil
}

// Sweep drops keys with no attempts inside the window.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.now().Add(-l.window)
	for key, attempts := range l.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(l.history, key)
		}
	}
}

func (l *MemoryLimiter) Close() error {
	return nil
}
