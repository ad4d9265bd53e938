package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter is a sliding-window limiter kept in process memory, used when
// no Redis address is configured. Keys that go idle are swept so the bucket
// map does not grow with every distinct client ever seen.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewMemoryLimiter returns an in-memory limiter allowing limit requests per
// window for each key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:   make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

// Allow records the request and reports whether it fits the window.
func (m *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.window {
		m.sweepLocked(windowStart)
		m.lastSweep = now
	}

	recent := keepRecent(m.buckets[key], windowStart)
	if len(recent) >= m.limit {
		m.buckets[key] = recent
		return false, ErrLimitExceeded
	}

	m.buckets[key] = append(recent, now)
	return true, nil
}

// sweepLocked drops buckets whose every stamp has left the window.
func (m *MemoryLimiter) sweepLocked(cutoff time.Time) {
	for key, stamps := range m.buckets {
		if recent := keepRecent(stamps, cutoff); len(recent) == 0 {
			delete(m.buckets, key)
		} else {
			m.buckets[key] = recent
		}
	}
}

func keepRecent(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}
