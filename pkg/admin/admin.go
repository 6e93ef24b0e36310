package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/instruqt/sandbox-broker/pkg/log"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
	"github.com/instruqt/sandbox-broker/pkg/worker"
)

// Loops is the subset of *worker.Worker the admin service drives directly,
// named as an interface so tests can supply a double instead of a full
// Worker wired to a real Store and CSP client.
type Loops interface {
	RunSync(ctx context.Context) (worker.SyncResult, error)
	RunCleanup(ctx context.Context) (worker.CleanupResult, error)
	RunAutoExpiry(ctx context.Context) (worker.AutoExpiryResult, error)
	RunStaleDeleteWithGrace(ctx context.Context, grace time.Duration) (worker.StaleDeleteResult, error)
	Status() []worker.LoopStatus
}

// Service implements the admin-only operations.
type Service struct {
	store  storage.Store
	loops  Loops
	logger zerolog.Logger
}

// New creates a Service.
func New(store storage.Store, loops Loops) *Service {
	return &Service{store: store, loops: loops, logger: log.WithComponent("admin")}
}

// ListResult is the /admin/sandboxes response body.
type ListResult struct {
	Items      []*types.Sandbox `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// List returns sandbox records matching status, one page at a time. A zero
// limit falls back to a 100-record page. The cursor is the sandbox_id of
// the last item returned; each call re-scans the store and resumes after
// that id, so pages follow the order in which Store.Scan visits records.
// A cursor that matches no record restarts from the first page.
func (s *Service) List(ctx context.Context, status types.Status, limit int, cursor string) (ListResult, error) {
	if limit <= 0 {
		limit = 100
	}

	var matched []*types.Sandbox
	err := s.store.Scan(ctx, func(sb *types.Sandbox) bool {
		if status == "" || sb.Status == status {
			matched = append(matched, sb)
		}
		return true
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("admin: list: %w", err)
	}

	start := 0
	if cursor != "" {
		for i, sb := range matched {
			if sb.SandboxID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(matched) {
		return ListResult{Items: []*types.Sandbox{}}, nil
	}

	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	result := ListResult{Items: page}
	if end < len(matched) {
		result.NextCursor = page[len(page)-1].SandboxID
	}
	return result, nil
}

// Stats is the /admin/stats response body.
type Stats struct {
	Total           int `json:"total"`
	Available       int `json:"available"`
	Allocated       int `json:"allocated"`
	PendingDeletion int `json:"pending_deletion"`
	Stale           int `json:"stale"`
	DeletionFailed  int `json:"deletion_failed"`
}

// Stats scans the store for a fresh pool breakdown by status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.store.Scan(ctx, func(sb *types.Sandbox) bool {
		stats.Total++
		switch sb.Status {
		case types.StatusAvailable:
			stats.Available++
		case types.StatusAllocated:
			stats.Allocated++
		case types.StatusPendingDeletion:
			stats.PendingDeletion++
		case types.StatusStale:
			stats.Stale++
		case types.StatusDeletionFailed:
			stats.DeletionFailed++
		}
		return true
	})
	if err != nil {
		return Stats{}, fmt.Errorf("admin: stats: %w", err)
	}
	return stats, nil
}

// LoopStatus exposes the worker's last-run status for each reconciliation
// loop, separate from Stats since it isn't a store scan.
func (s *Service) LoopStatus() []worker.LoopStatus {
	if s.loops == nil {
		return nil
	}
	return s.loops.Status()
}

// TriggerSync runs one sync iteration immediately, out of band from its
// scheduled interval.
func (s *Service) TriggerSync(ctx context.Context) (worker.SyncResult, error) {
	return s.loops.RunSync(ctx)
}

// TriggerCleanup runs one cleanup iteration immediately.
func (s *Service) TriggerCleanup(ctx context.Context) (worker.CleanupResult, error) {
	return s.loops.RunCleanup(ctx)
}

// TriggerAutoExpire runs one auto-expiry iteration immediately.
func (s *Service) TriggerAutoExpire(ctx context.Context) (worker.AutoExpiryResult, error) {
	return s.loops.RunAutoExpiry(ctx)
}

// TriggerStaleDelete runs one stale-delete iteration immediately, honoring
// an operator-supplied grace period override when gracePeriodHours > 0.
func (s *Service) TriggerStaleDelete(ctx context.Context, gracePeriodHours int) (worker.StaleDeleteResult, error) {
	var grace time.Duration
	if gracePeriodHours > 0 {
		grace = time.Duration(gracePeriodHours) * time.Hour
	}
	return s.loops.RunStaleDeleteWithGrace(ctx, grace)
}

// BulkDeleteResult reports what BulkDelete did or, in dry-run mode, would
// have done.
type BulkDeleteResult struct {
	DryRun     bool  `json:"dry_run,omitempty"`
	Matched    int   `json:"matched,omitempty"`
	Deleted    int   `json:"deleted"`
	DurationMS int64 `json:"duration_ms"`
}

// BulkDelete removes every record in the given status. With dryRun true it
// only counts matches, touching nothing, so an operator can preview the
// blast radius of a mass deletion before committing to it.
func (s *Service) BulkDelete(ctx context.Context, status types.Status, dryRun bool) (BulkDeleteResult, error) {
	start := time.Now()

	targets, err := s.store.QueryByStatus(ctx, status, 0)
	if err != nil {
		return BulkDeleteResult{}, fmt.Errorf("admin: bulk-delete: query %s: %w", status, err)
	}

	if dryRun {
		return BulkDeleteResult{DryRun: true, Matched: len(targets), DurationMS: time.Since(start).Milliseconds()}, nil
	}

	deleted := 0
	for _, sb := range targets {
		if err := s.store.Delete(ctx, sb.SandboxID); err != nil {
			s.logger.Error().Err(err).Str("sandbox_id", sb.SandboxID).Msg("bulk-delete: failed to delete record")
			continue
		}
		deleted++
	}
	return BulkDeleteResult{Deleted: deleted, DurationMS: time.Since(start).Milliseconds()}, nil
}
