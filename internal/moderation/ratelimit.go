package moderation

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window message counter keyed by viewer identity.
// State is process-local and never persisted: a best-effort abuse guard, not
// a security boundary.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[string]*window
	now     func() time.Time
}

type window struct {
	count int
	until time.Time
}

// NewRateLimiter creates a limiter allowing max events per window.
func NewRateLimiter(max int, windowLen time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  windowLen,
		buckets: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether the key may send now and counts the attempt. The
// window resets wholesale once it elapses; there is no sliding credit.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.until) || now.Equal(b.until) {
		l.buckets[key] = &window{count: 1, until: now.Add(l.window)}
		return true
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// Forget drops the key's window, freeing memory for departed viewers.
func (l *RateLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
