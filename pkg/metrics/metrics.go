package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AllocateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocate_total",
			Help: "Total number of allocate requests by outcome",
		},
		[]string{"outcome"},
	)

	AllocateConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allocate_conflicts",
			Help: "Total number of conditional-claim conflicts across all attempts",
		},
	)

	AllocateIdempotentHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "allocate_idempotent_hits",
			Help: "Total number of allocate requests served by the idempotent fast path",
		},
	)

	DeletionMarkedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deletion_marked_total",
			Help: "Total number of mark-for-deletion requests by outcome",
		},
		[]string{"outcome"},
	)

	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_total",
			Help: "Total number of sync iterations by outcome",
		},
		[]string{"outcome"},
	)

	SyncSandboxesSyncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_sandboxes_synced_total",
			Help: "Total number of sandbox records upserted from CSP sync",
		},
	)

	SyncSandboxesStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_sandboxes_stale_total",
			Help: "Total number of sandbox records marked stale by sync",
		},
	)

	CleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_total",
			Help: "Total number of cleanup iterations by outcome",
		},
		[]string{"outcome"},
	)

	CleanupDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_deleted_total",
			Help: "Total number of sandbox records removed after successful CSP destroy",
		},
	)

	CleanupFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_failed_total",
			Help: "Total number of failed CSP destroy attempts",
		},
	)

	ExpiryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiry_total",
			Help: "Total number of auto-expiry iterations by outcome",
		},
		[]string{"outcome"},
	)

	ExpiryMarkedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expiry_marked_total",
			Help: "Total number of allocations auto-expired into pending_deletion",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, endpoint, and status",
		},
		[]string{"method", "endpoint", "status"},
	)

	PoolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_available", Help: "Number of sandboxes currently available",
	})
	PoolAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_allocated", Help: "Number of sandboxes currently allocated",
	})
	PoolPendingDeletion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_pending_deletion", Help: "Number of sandboxes pending deletion",
	})
	PoolStale = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_stale", Help: "Number of sandboxes marked stale",
	})
	PoolTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_total", Help: "Total number of sandbox records tracked",
	})
	PoolDeletionFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pool_deletion_failed", Help: "Number of sandboxes that exhausted deletion retries",
	})

	AllocationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocation_latency_seconds",
			Help:    "Latency of the claim algorithm by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	RequestLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "HTTP request latency by method and endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		AllocateTotal,
		AllocateConflicts,
		AllocateIdempotentHits,
		DeletionMarkedTotal,
		SyncTotal,
		SyncSandboxesSyncedTotal,
		SyncSandboxesStaleTotal,
		CleanupTotal,
		CleanupDeletedTotal,
		CleanupFailedTotal,
		ExpiryTotal,
		ExpiryMarkedTotal,
		HTTPRequestsTotal,
		PoolAvailable,
		PoolAllocated,
		PoolPendingDeletion,
		PoolStale,
		PoolTotal,
		PoolDeletionFailed,
		AllocationLatencySeconds,
		RequestLatencySeconds,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording the result to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with
// labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
