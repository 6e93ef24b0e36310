package worker

import (
	"context"
	"fmt"

	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

// AutoExpiryResult reports what one AutoExpiry iteration did.
type AutoExpiryResult struct {
	Marked int
}

// RunAutoExpiry marks any allocated sandbox whose MaxHold plus the
// configured grace period has elapsed for deletion, independent of
// whether the caller ever released it. This is the backstop against
// callers that crash or forget to release.
func (w *Worker) RunAutoExpiry(ctx context.Context) (AutoExpiryResult, error) {
	logger := loopLogger("autoexpiry")

	allocated, err := w.store.QueryByStatus(ctx, types.StatusAllocated, 0)
	if err != nil {
		metrics.ExpiryTotal.WithLabelValues("error").Inc()
		return AutoExpiryResult{}, fmt.Errorf("worker: autoexpiry: list allocated: %w", err)
	}

	now := w.clock.Now().Unix()
	graceSeconds := int64(w.cfg.GracePeriod.Seconds())
	marked := 0

	for _, sb := range allocated {
		expiresAt := sb.ExpiresAt()
		if expiresAt == 0 || now < expiresAt+graceSeconds {
			continue
		}
		// AtomicExpire, not AtomicRelease: this path exists precisely
		// because the hold window already elapsed, the opposite of the
		// precondition AtomicRelease enforces for a consumer-initiated
		// release. The equality check on allocated_at just guards
		// against a race with a concurrent caller release or reclaim.
		if _, err := w.store.AtomicExpire(ctx, sb.SandboxID, sb.AllocatedAt, now); err != nil {
			logger.Debug().Err(err).Str("sandbox_id", sb.SandboxID).Msg("expiry race lost, skipping")
			continue
		}
		marked++
	}

	metrics.ExpiryMarkedTotal.Add(float64(marked))
	metrics.ExpiryTotal.WithLabelValues("ok").Inc()

	logger.Info().Int("marked", marked).Msg("autoexpiry iteration complete")
	return AutoExpiryResult{Marked: marked}, nil
}
