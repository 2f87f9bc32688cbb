package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a per-key cap on events within a rolling time
// window. Match creation keys on the owner id, so one noisy client cannot
// starve everyone else.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per
// key per window. Non-positive parameters disable limiting entirely.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if window <= 0 || limit <= 0 {
		return &SlidingWindowLimiter{window: window, limit: limit}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{
		window:  window,
		limit:   limit,
		now:     timeSource,
		buckets: make(map[string][]time.Time),
	}
}

// Allow reports whether the keyed caller may proceed under the current limits.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	//1.- Drop whole buckets whose newest event slid out of the window, so the
	// map stays bounded by recently active keys.
	for other, stamps := range l.buckets {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.buckets, other)
		}
	}

	//2.- Prune this key's bucket before counting.
	kept := l.buckets[key][:0]
	for _, ts := range l.buckets[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.buckets[key] = kept
		return false
	}
	l.buckets[key] = append(kept, now)
	return true
}
