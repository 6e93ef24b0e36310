package alloc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog"

	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/log"
	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

var (
	// ErrPoolExhausted is returned when no claim candidate remains: the
	// by_status query returned no available sandbox, or none of the K it
	// returned matched name_prefix.
	ErrPoolExhausted = errors.New("alloc: no sandboxes available")

	// ErrAllCandidatesConflicted is returned when candidates existed but
	// every AtomicClaim attempt against them lost a race to another
	// caller.
	ErrAllCandidatesConflicted = errors.New("alloc: all candidates conflicted")

	// ErrNotOwner is returned when a release is attempted by a caller that
	// does not currently hold the sandbox.
	ErrNotOwner = errors.New("alloc: caller does not own sandbox")

	// ErrAllocationExpired is returned when a release is attempted by the
	// owning caller, but after its hold window already elapsed (it is
	// AutoExpiry's job to reclaim these, not a late release).
	ErrAllocationExpired = errors.New("alloc: hold window already expired")
)

// Request is the input to Allocate.
type Request struct {
	TrackName        string
	NamePrefix       string
	IdempotencyKey   string
	LabDurationHours int
	AllocatedTo      string
}

// Engine implements the claim/release/read algorithms on top of a Store.
type Engine struct {
	store       storage.Store
	clock       clock.Clock
	kCandidates int
	logger      zerolog.Logger
}

// New creates an Engine. kCandidates is the fan-out width K; the
// specification's recommended range is 10-20, default 15.
func New(store storage.Store, clk clock.Clock, kCandidates int) *Engine {
	if kCandidates <= 0 {
		kCandidates = 15
	}
	return &Engine{
		store:       store,
		clock:       clk,
		kCandidates: kCandidates,
		logger:      log.WithComponent("alloc"),
	}
}

// Allocate claims one sandbox for req.AllocatedTo, or returns the sandbox
// already claimed by a prior request carrying the same idempotency key.
func (e *Engine) Allocate(ctx context.Context, req Request) (*types.Sandbox, error) {
	timer := metrics.NewTimer()

	if req.IdempotencyKey != "" {
		existing, err := e.store.QueryByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			metrics.AllocateIdempotentHits.Inc()
			metrics.AllocateTotal.WithLabelValues("idempotent_hit").Inc()
			timer.ObserveDurationVec(metrics.AllocationLatencySeconds, "idempotent_hit")
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			metrics.AllocateTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("alloc: idempotency lookup: %w", err)
		}
	}

	// The fan-out is bounded at the query itself (limit=K), not by slicing
	// a larger result afterwards: this is what makes the worst case a
	// fixed K conditional writes, not K writes plus an unbounded scan.
	// One consequence, preserved deliberately (see the design ledger): if
	// name_prefix is set and none of these K candidates match it, the
	// request fails PoolExhausted even when a matching sandbox exists
	// further down the by_status index than the K we fetched.
	candidates, err := e.store.QueryByStatus(ctx, types.StatusAvailable, e.kCandidates)
	if err != nil {
		metrics.AllocateTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("alloc: list available: %w", err)
	}

	if req.NamePrefix != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if strings.HasPrefix(c.Name, req.NamePrefix) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		metrics.AllocateTotal.WithLabelValues("pool_exhausted").Inc()
		timer.ObserveDurationVec(metrics.AllocationLatencySeconds, "pool_exhausted")
		return nil, ErrPoolExhausted
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	now := e.clock.Now().Unix()
	for _, candidate := range candidates {
		claimed, err := e.store.AtomicClaim(ctx, candidate.SandboxID, storage.Claim{
			AllocatedTo:      req.AllocatedTo,
			TrackName:        req.TrackName,
			IdempotencyKey:   req.IdempotencyKey,
			LabDurationHours: req.LabDurationHours,
			Now:              now,
		})
		if err == nil {
			metrics.AllocateTotal.WithLabelValues("claimed").Inc()
			timer.ObserveDurationVec(metrics.AllocationLatencySeconds, "claimed")
			return claimed, nil
		}
		if errors.Is(err, storage.ErrConflict) {
			metrics.AllocateConflicts.Inc()
			continue
		}
		if errors.Is(err, storage.ErrNotFound) {
			// Raced with a concurrent delete; try the next candidate.
			continue
		}
		metrics.AllocateTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("alloc: claim %s: %w", candidate.SandboxID, err)
	}

	metrics.AllocateTotal.WithLabelValues("all_candidates_conflicted").Inc()
	timer.ObserveDurationVec(metrics.AllocationLatencySeconds, "all_candidates_conflicted")
	return nil, ErrAllCandidatesConflicted
}

// Release transitions the sandbox allocated to allocatedTo into
// pending_deletion. The worker's cleanup loop picks it up from there.
func (e *Engine) Release(ctx context.Context, sandboxID string, allocatedTo string) (*types.Sandbox, error) {
	now := e.clock.Now().Unix()
	released, err := e.store.AtomicRelease(ctx, sandboxID, allocatedTo, now)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.DeletionMarkedTotal.WithLabelValues("not_owner").Inc()
			return nil, ErrNotOwner
		}
		if errors.Is(err, storage.ErrExpired) {
			metrics.DeletionMarkedTotal.WithLabelValues("expired").Inc()
			return nil, ErrAllocationExpired
		}
		if errors.Is(err, storage.ErrNotFound) {
			metrics.DeletionMarkedTotal.WithLabelValues("not_found").Inc()
			return nil, storage.ErrNotFound
		}
		metrics.DeletionMarkedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("alloc: release %s: %w", sandboxID, err)
	}
	metrics.DeletionMarkedTotal.WithLabelValues("marked").Inc()
	return released, nil
}

// Get returns the sandbox identified by sandboxID if allocatedTo currently
// owns it.
func (e *Engine) Get(ctx context.Context, sandboxID string, allocatedTo string) (*types.Sandbox, error) {
	sb, err := e.store.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	if sb.AllocatedTo != allocatedTo {
		return nil, ErrNotOwner
	}
	return sb, nil
}
