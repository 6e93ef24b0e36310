package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

// CleanupResult reports what one Cleanup iteration did.
type CleanupResult struct {
	Deleted    int
	Failed     int
	DurationMS int64
}

// RunCleanup destroys every sandbox in pending_deletion against the CSP,
// in batches of CleanupBatchSize with a CleanupBatchDelay pause between
// batches, so a large backlog (e.g. after an outage) doesn't slam the CSP
// with a burst of destroy calls all at once.
func (w *Worker) RunCleanup(ctx context.Context) (CleanupResult, error) {
	logger := loopLogger("cleanup")
	start := w.clock.Now()

	pending, err := w.store.QueryByStatus(ctx, types.StatusPendingDeletion, 0)
	if err != nil {
		metrics.CleanupTotal.WithLabelValues("error").Inc()
		return CleanupResult{}, fmt.Errorf("worker: cleanup: list pending_deletion: %w", err)
	}

	deleted := 0
	failed := 0

batches:
	for i := 0; i < len(pending); i += w.cfg.CleanupBatchSize {
		end := i + w.cfg.CleanupBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[i:end]

		for _, sb := range batch {
			if err := w.destroy(ctx, sb.ExternalID); err != nil {
				failed++
				sb.DeletionRetryCount++
				sb.UpdatedAt = w.clock.Now().Unix()
				if sb.DeletionRetryCount >= w.cfg.DeletionRetryMaxAttempts {
					sb.Status = types.StatusDeletionFailed
				}
				if putErr := w.store.Put(ctx, sb); putErr != nil {
					logger.Error().Err(putErr).Str("sandbox_id", sb.SandboxID).Msg("failed to record deletion failure")
				}
				logger.Warn().Err(err).Str("sandbox_id", sb.SandboxID).Int("retry_count", sb.DeletionRetryCount).Msg("destroy failed")
				continue
			}
			if err := w.store.Delete(ctx, sb.SandboxID); err != nil {
				logger.Error().Err(err).Str("sandbox_id", sb.SandboxID).Msg("destroyed upstream but failed to delete record")
				continue
			}
			deleted++
		}

		if end < len(pending) {
			select {
			case <-time.After(w.cfg.CleanupBatchDelay):
			case <-ctx.Done():
				break batches
			}
		}
	}

	metrics.CleanupDeletedTotal.Add(float64(deleted))
	metrics.CleanupFailedTotal.Add(float64(failed))
	metrics.CleanupTotal.WithLabelValues("ok").Inc()

	duration := w.clock.Now().Sub(start)
	logger.Info().Int("deleted", deleted).Int("failed", failed).Dur("duration", duration).Msg("cleanup iteration complete")
	return CleanupResult{Deleted: deleted, Failed: failed, DurationMS: duration.Milliseconds()}, nil
}

func (w *Worker) destroy(ctx context.Context, externalID string) error {
	call := func(ctx context.Context) error {
		return w.csp.Destroy(ctx, externalID)
	}
	if w.breaker == nil {
		return call(ctx)
	}
	return w.breaker.Do(ctx, call)
}
