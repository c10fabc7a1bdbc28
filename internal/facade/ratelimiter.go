package facade

import (
	"sync"
	"time"
)

// RateLimiter is a per-source-identifier window counter: each source
// gets maxRequests per window of windowSize, the window starting at
// that source's first request and reset atomically once it elapses. No rate-limiting library
// appears anywhere in the retrieved example pack, and the window
// itself is a handful of integer comparisons behind a mutex, so this
// stays on the standard library rather than inventing a dependency.
type RateLimiter struct {
	mu          sync.Mutex
	windowSize  time.Duration
	maxRequests int
	windows     map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter builds a limiter with the given per-window request cap.
func NewRateLimiter(windowSize time.Duration, maxRequests int) *RateLimiter {
	return &RateLimiter{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		windows:     make(map[string]*window),
	}
}

// Allow reports whether sourceID may proceed under the current window,
// incrementing its counter if so.
func (r *RateLimiter) Allow(sourceID string) bool {
	if r.maxRequests <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, found := r.windows[sourceID]
	if !found || now.Sub(w.start) >= r.windowSize {
		r.windows[sourceID] = &window{start: now, count: 1}
		return true
	}
	if w.count >= r.maxRequests {
		return false
	}
	w.count++
	return true
}
