package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter admits requests per key. When a request is refused, retry is the delay until
// the key's window resets.
type rateLimiter interface {
	Allow(key string) (ok bool, retry time.Duration)
}

// windowLimiter is a fixed-window counter per key. Frame uploads are keyed by cart and
// mutations by operator, so the key space stays small; expired windows are swept whenever
// a new window opens.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]keyWindow
}

type keyWindow struct {
	used    int
	resetAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]keyWindow),
	}
}

func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.resetAt) {
		l.sweepLocked(now)
		l.windows[key] = keyWindow{used: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if current.used >= l.limit {
		return false, current.resetAt.Sub(now)
	}
	current.used++
	l.windows[key] = current
	return true, 0
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
