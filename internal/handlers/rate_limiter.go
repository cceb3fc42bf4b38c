package handlers

import (
	"strings"
	"sync"
	"time"
)

// attemptLimiter caps how often one key may hit an endpoint within a fixed window.
type attemptLimiter interface {
	Allow(key string) (bool, time.Duration)
}

type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]window
}

type window struct {
	count int
	reset time.Time
}

// newWindowLimiter returns nil when limit or window is not positive, which disables limiting.
func newWindowLimiter(limit int, span time.Duration, clock func() time.Time) attemptLimiter {
	if limit <= 0 || span <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: span,
		clock:  clock,
		store:  make(map[string]window),
	}
}

// Allow records an attempt and reports whether it is within the limit. When it is not, the
// duration until the window resets is returned.
func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.store[key] = window{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}
