package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// writeLimiter hands out one token bucket per key. Idle buckets are dropped
// once they have refilled so the map does not grow without bound.
type writeLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newWriteLimiter(perSecond float64, burst int) *writeLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &writeLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token for key.
func (l *writeLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	if len(l.buckets) > 1024 {
		l.sweep(now)
	}
	return allowed
}

func (l *writeLimiter) sweep(now time.Time) {
	idle := time.Minute
	if l.limit != rate.Inf && l.limit > 0 {
		idle = time.Duration(float64(l.burst)/float64(l.limit)*float64(time.Second)) + time.Second
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(l.buckets, key)
		}
	}
}
