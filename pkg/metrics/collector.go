package metrics

import (
	"context"
	"sync"
	"time"
)

// StatusCounts is the per-status tally the Gauges refresher needs out of a
// store scan. Counting by status this way (rather than a dedicated count
// query) keeps the metrics package decoupled from the storage package's
// query surface; any Store satisfies this by scanning once and tallying.
type StatusCounts struct {
	Available       int
	Allocated       int
	PendingDeletion int
	Stale           int
	DeletionFailed  int
	Total           int
}

// CountFunc produces a fresh StatusCounts snapshot, typically by scanning
// the backing store. It is expected to be relatively expensive, which is
// exactly why Gauges caches its result behind a TTL.
type CountFunc func(ctx context.Context) (StatusCounts, error)

// Gauges refreshes the pool_* gauges from a CountFunc at most once per TTL.
// Concurrent scrapes between refreshes reuse the last snapshot instead of
// each triggering their own scan.
type Gauges struct {
	count CountFunc
	ttl   time.Duration

	mu      sync.Mutex
	lastAt  time.Time
	lastErr error
}

// NewGauges creates a refresher with the given TTL. A TTL of zero or less
// disables caching: every Refresh call re-counts.
func NewGauges(count CountFunc, ttl time.Duration) *Gauges {
	return &Gauges{count: count, ttl: ttl}
}

// Refresh updates the pool_* gauges if the TTL has elapsed since the last
// refresh attempt; a failed attempt also starts a TTL window, and its error
// is returned until that window ends. It is safe to call from multiple goroutines (e.g. one
// per /metrics scrape); only one call per TTL window actually hits the
// CountFunc, the rest are no-ops.
func (g *Gauges) Refresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.lastAt) < g.ttl {
		return g.lastErr
	}

	counts, err := g.count(ctx)
	g.lastAt = time.Now()
	g.lastErr = err

	if err != nil {
		return err
	}

	PoolAvailable.Set(float64(counts.Available))
	PoolAllocated.Set(float64(counts.Allocated))
	PoolPendingDeletion.Set(float64(counts.PendingDeletion))
	PoolStale.Set(float64(counts.Stale))
	PoolDeletionFailed.Set(float64(counts.DeletionFailed))
	PoolTotal.Set(float64(counts.Total))
	return nil
}
