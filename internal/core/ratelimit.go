package core

import (
	"sync"
	"time"
)

// RateLimiter caps per-user outbound messages with a fixed window counter.
// Windows are keyed by integer window boundaries; a request landing in a new
// window resets that user's count. State is process-local: under scale-out
// each process enforces the ceiling independently.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	states map[string]*rateState
}

type rateState struct {
	windowStart int64
	count       int
}

// NewRateLimiter builds a limiter allowing limit messages per window.
// A non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		window: window,
		limit:  limit,
		states: make(map[string]*rateState),
	}
}

// Allow reports whether userID may send at time now, counting the send if so.
// Rejected sends are not counted and never queued.
func (l *RateLimiter) Allow(userID string, now time.Time) bool {
	if l.limit <= 0 {
		return true
	}

	bucket := now.UnixNano() / int64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[userID]
	if !ok || st.windowStart != bucket {
		l.states[userID] = &rateState{windowStart: bucket, count: 1}
		return true
	}
	if st.count >= l.limit {
		return false
	}
	st.count++
	return true
}

// Forget drops a user's window state, typically when their last session ends.
func (l *RateLimiter) Forget(userID string) {
	l.mu.Lock()
	delete(l.states, userID)
	l.mu.Unlock()
}
