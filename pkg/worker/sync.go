package worker

import (
	"context"
	"fmt"

	"github.com/instruqt/sandbox-broker/pkg/cspclient"
	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

// SyncResult reports what one Sync iteration did, for the admin
// sync-trigger endpoint and for tests.
type SyncResult struct {
	Synced      int
	MarkedStale int
	DurationMS  int64
}

// RunSync reconciles the store against the CSP's reported active
// inventory: any sandbox_id the CSP reports that the store doesn't know
// about yet is inserted as available, and any store record the CSP no
// longer reports is marked stale (never deleted outright here; StaleDelete
// handles that after its own grace period).
func (w *Worker) RunSync(ctx context.Context) (SyncResult, error) {
	logger := loopLogger("sync")
	start := w.clock.Now()

	active, err := w.listActive(ctx)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("error").Inc()
		return SyncResult{}, fmt.Errorf("worker: sync: list active: %w", err)
	}

	activeBySandboxID := make(map[string]cspclient.ActiveSandbox, len(active))
	for _, sb := range active {
		activeBySandboxID[sb.SandboxID] = sb
	}

	known := make(map[string]*types.Sandbox)
	if err := w.store.Scan(ctx, func(sb *types.Sandbox) bool {
		known[sb.SandboxID] = sb
		return true
	}); err != nil {
		metrics.SyncTotal.WithLabelValues("error").Inc()
		return SyncResult{}, fmt.Errorf("worker: sync: scan store: %w", err)
	}

	now := w.clock.Now().Unix()
	synced := 0
	staled := 0

	for sandboxID, sb := range activeBySandboxID {
		if _, ok := known[sandboxID]; ok {
			continue
		}
		createdAt := now
		if sb.CreatedAt > 0 {
			createdAt = sb.CreatedAt
		}
		record := &types.Sandbox{
			SandboxID:  sb.SandboxID,
			Name:       sb.Name,
			ExternalID: sb.ExternalID,
			Status:     types.StatusAvailable,
			CreatedAt:  createdAt,
			UpdatedAt:  now,
			LastSynced: now,
		}
		if err := w.store.Put(ctx, record); err != nil {
			logger.Error().Err(err).Str("sandbox_id", sandboxID).Msg("failed to insert synced sandbox")
			continue
		}
		synced++
	}

	for sandboxID, sb := range known {
		if _, ok := activeBySandboxID[sandboxID]; ok {
			if sb.Status != types.StatusStale {
				sb.LastSynced = now
				sb.UpdatedAt = now
				if err := w.store.Put(ctx, sb); err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.SandboxID).Msg("failed to refresh last_synced")
				}
			}
			continue
		}
		if sb.Status == types.StatusStale {
			continue
		}
		sb.Status = types.StatusStale
		sb.UpdatedAt = now
		if err := w.store.Put(ctx, sb); err != nil {
			logger.Error().Err(err).Str("sandbox_id", sb.SandboxID).Msg("failed to mark sandbox stale")
			continue
		}
		staled++
	}

	metrics.SyncSandboxesSyncedTotal.Add(float64(synced))
	metrics.SyncSandboxesStaleTotal.Add(float64(staled))
	metrics.SyncTotal.WithLabelValues("ok").Inc()

	duration := w.clock.Now().Sub(start)
	logger.Info().Int("synced", synced).Int("staled", staled).Dur("duration", duration).Msg("sync iteration complete")
	return SyncResult{Synced: synced, MarkedStale: staled, DurationMS: duration.Milliseconds()}, nil
}

func (w *Worker) listActive(ctx context.Context) ([]cspclient.ActiveSandbox, error) {
	var result []cspclient.ActiveSandbox
	call := func(ctx context.Context) error {
		active, err := w.csp.ListActiveSandboxes(ctx)
		if err != nil {
			return err
		}
		result = active
		return nil
	}

	if w.breaker == nil {
		if err := call(ctx); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := w.breaker.Do(ctx, call); err != nil {
		return nil, err
	}
	return result, nil
}
