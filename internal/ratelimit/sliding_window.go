package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow is a per-client sliding-window rate limiter. Each client key
// owns a bucket of admission timestamps; a request is allowed while fewer
// than max timestamps fall inside the trailing window. Rejections never
// consume a slot.
type SlidingWindow struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[string][]time.Time
	now     func() time.Time
}

// NewSlidingWindow constructs a limiter allowing max admissions per window
// per client key.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     max,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether one more request from key is admitted right now, and
// records it if so. Prune-then-check-then-append runs atomically relative to
// concurrent callers.
func (l *SlidingWindow) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.prune(key, now)
	if len(bucket) >= l.max {
		return false
	}
	l.buckets[key] = append(bucket, now)
	return true
}

// Remaining reports how many admissions key has left in the current window.
func (l *SlidingWindow) Remaining(key string) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	left := l.max - len(l.prune(key, now))
	if left < 0 {
		left = 0
	}
	return left
}

// Sweep drops buckets whose newest entry already aged out of the window, so
// memory stays bounded by active clients rather than all clients ever seen.
// It returns how many buckets were reclaimed.
func (l *SlidingWindow) Sweep() int {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()

	reclaimed := 0
	for key, bucket := range l.buckets {
		if len(bucket) == 0 || bucket[len(bucket)-1].Before(cutoff) {
			delete(l.buckets, key)
			reclaimed++
		}
	}
	return reclaimed
}

// prune drops aged-out entries for key and returns the surviving bucket.
// Caller must hold l.mu. A bucket pruned to empty is dropped from the map so
// a touch doubles as passive reclamation.
func (l *SlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	bucket := l.buckets[key]
	keep := 0
	for keep < len(bucket) && !bucket[keep].After(cutoff) {
		keep++
	}
	if keep == 0 {
		return bucket
	}
	bucket = bucket[keep:]
	if len(bucket) == 0 {
		delete(l.buckets, key)
		return nil
	}
	l.buckets[key] = bucket
	return bucket
}
