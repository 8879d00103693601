// Package ratelimit implements per-client token bucket rate limiting.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration // 0 if allowed
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows requests per window for each key, with a burst of the
// same size. Idle buckets are evicted after a few windows.
func NewLimiter(requests int, window time.Duration) *Limiter {
	return newLimiter(requests, window, time.Now)
}

func newLimiter(requests int, window time.Duration, now func() time.Time) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		idleTTL: 3 * window,
		now:     now,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop(window)
	return l
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) Result {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Result{RetryAfter: time.Second}
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return Result{Allowed: true}
	}
	reservation.CancelAt(now)

	return Result{RetryAfter: max(delay.Round(time.Second), time.Second)}
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup removes buckets that have been idle longer than idleTTL
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(threshold) {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
