package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/instruqt/sandbox-broker/pkg/types"
)

// StaleDeleteResult reports what one StaleDelete iteration did.
type StaleDeleteResult struct {
	Deleted int
}

// RunStaleDelete removes sandbox records that have sat in StatusStale
// longer than StaleGrace, on the assumption the CSP will never report
// them again. Unlike cleanup, there is no upstream destroy call here: by
// definition the CSP has already stopped reporting this external_id as
// active, so there is nothing left to destroy.
func (w *Worker) RunStaleDelete(ctx context.Context) (StaleDeleteResult, error) {
	return w.runStaleDelete(ctx, w.cfg.StaleGrace)
}

// RunStaleDeleteWithGrace is RunStaleDelete with an operator-supplied grace
// period override, for the admin auto-delete-stale trigger endpoint.
func (w *Worker) RunStaleDeleteWithGrace(ctx context.Context, grace time.Duration) (StaleDeleteResult, error) {
	if grace <= 0 {
		grace = w.cfg.StaleGrace
	}
	return w.runStaleDelete(ctx, grace)
}

func (w *Worker) runStaleDelete(ctx context.Context, grace time.Duration) (StaleDeleteResult, error) {
	logger := loopLogger("staledelete")

	stale, err := w.store.QueryByStatus(ctx, types.StatusStale, 0)
	if err != nil {
		return StaleDeleteResult{}, fmt.Errorf("worker: staledelete: list stale: %w", err)
	}

	now := w.clock.Now().Unix()
	graceSeconds := int64(grace.Seconds())
	removed := 0

	for _, sb := range stale {
		if now-sb.UpdatedAt < graceSeconds {
			continue
		}
		if err := w.store.Delete(ctx, sb.SandboxID); err != nil {
			logger.Error().Err(err).Str("sandbox_id", sb.SandboxID).Msg("failed to delete stale sandbox record")
			continue
		}
		removed++
	}

	logger.Info().Int("removed", removed).Msg("staledelete iteration complete")
	return StaleDeleteResult{Deleted: removed}, nil
}
