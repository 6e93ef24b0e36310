package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/instruqt/sandbox-broker/pkg/clock"
)

// Decision is the outcome of checking one request against a client's
// bucket, carrying enough information to set the X-RateLimit-* and
// Retry-After response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

type bucket struct {
	limiter    *rate.Limiter
	lastUsedAt time.Time
}

// Limiter holds one token bucket per client key (the caller's sandbox or
// track identity header, or its X-Forwarded-For address), mirroring the map-plus-mutex shape the broker's
// token bookkeeping has used elsewhere.
type Limiter struct {
	rps   float64
	burst int
	clock clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Limiter allowing rps requests per second sustained, with
// bursts up to burst.
func New(rps float64, burst int, clk clock.Clock) *Limiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Limiter{
		rps:     rps,
		burst:   burst,
		clock:   clk,
		buckets: make(map[string]*bucket),
	}
}

// Allow checks and consumes one token from key's bucket, creating the
// bucket on first use.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.buckets[key] = b
	}
	now := l.clock.Now()
	b.lastUsedAt = now
	limiter := b.limiter
	l.mu.Unlock()

	resetAfter := l.timeToFull(limiter.TokensAt(now))

	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, Limit: l.burst, ResetAfter: resetAfter}
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
		retryAfter := delay
		if retryAfter < time.Second {
			retryAfter = time.Duration(1/l.rps*float64(time.Second)) + time.Millisecond
		}
		return Decision{
			Allowed:    false,
			Limit:      l.burst,
			RetryAfter: retryAfter,
			ResetAfter: resetAfter,
		}
	}

	return Decision{
		Allowed:    true,
		Limit:      l.burst,
		Remaining:  int(limiter.TokensAt(now)),
		ResetAfter: resetAfter,
	}
}

// timeToFull estimates the time until the bucket refills to capacity,
// given its current token count, bucket capacity, and refill rate, for the
// X-RateLimit-Reset header (spec: "ceil seconds until full").
func (l *Limiter) timeToFull(tokens float64) time.Duration {
	missing := float64(l.burst) - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / l.rps * float64(time.Second))
}

// Sweep removes buckets that have been idle longer than maxIdle. Intended
// to run periodically from a background goroutine so a broker handling
// many distinct callers over its lifetime doesn't grow its bucket map
// without bound.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastUsedAt) > maxIdle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked buckets, for tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
