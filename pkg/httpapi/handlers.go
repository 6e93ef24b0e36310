package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/instruqt/sandbox-broker/pkg/alloc"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

type handlers struct {
	deps Deps
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func handleReadyz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A minimal store round-trip proves the process can actually
		// serve traffic, not just that it started.
		if _, err := deps.Admin.Stats(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "store unreachable", 0)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// allocateResponse is the minimal consumer-facing claim result, not the
// full internal sandbox record.
type allocateResponse struct {
	SandboxID   string `json:"sandbox_id"`
	Name        string `json:"name"`
	ExternalID  string `json:"external_id"`
	AllocatedAt int64  `json:"allocated_at"`
	ExpiresAt   int64  `json:"expires_at"`
	TrackName   string `json:"track_name,omitempty"`
}

func newAllocateResponse(sb *types.Sandbox) allocateResponse {
	return allocateResponse{
		SandboxID:   sb.SandboxID,
		Name:        sb.Name,
		ExternalID:  sb.ExternalID,
		AllocatedAt: sb.AllocatedAt,
		ExpiresAt:   sb.ExpiresAt(),
		TrackName:   sb.TrackName,
	}
}

func (h *handlers) allocate(w http.ResponseWriter, r *http.Request) {
	identity := clientIdentity(r)
	if identity == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidIdentity, "one of X-Instruqt-Sandbox-ID or X-Track-ID is required", 0)
		return
	}

	labDurationHours := 0
	if v := r.Header.Get("X-Lab-Duration-Hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			labDurationHours = parsed
		}
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = identity
	}

	sb, err := h.deps.Engine.Allocate(r.Context(), alloc.Request{
		TrackName:        r.Header.Get("X-Instruqt-Track-ID"),
		NamePrefix:       r.Header.Get("X-Sandbox-Name-Prefix"),
		IdempotencyKey:   idempotencyKey,
		LabDurationHours: labDurationHours,
		AllocatedTo:      identity,
	})
	if err != nil {
		switch {
		case errors.Is(err, alloc.ErrPoolExhausted):
			writeError(w, r, http.StatusConflict, CodePoolExhausted, "no sandboxes available", 0)
		case errors.Is(err, alloc.ErrAllCandidatesConflicted):
			writeError(w, r, http.StatusConflict, CodeClaimConflict, "all candidates were claimed concurrently, retry", 0)
		default:
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "allocation failed", 0)
		}
		return
	}

	writeJSON(w, http.StatusOK, newAllocateResponse(sb))
}

type markForDeletionResponse struct {
	SandboxID           string `json:"sandbox_id"`
	Status              string `json:"status"`
	DeletionRequestedAt int64  `json:"deletion_requested_at"`
}

func (h *handlers) markForDeletion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity := clientIdentity(r)
	if identity == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidIdentity, "one of X-Instruqt-Sandbox-ID or X-Track-ID is required", 0)
		return
	}

	sb, err := h.deps.Engine.Release(r.Context(), id, identity)
	if err != nil {
		switch {
		case errors.Is(err, alloc.ErrNotOwner):
			writeError(w, r, http.StatusForbidden, CodeForbiddenNotOwner, "caller does not own this sandbox", 0)
		case errors.Is(err, alloc.ErrAllocationExpired):
			writeError(w, r, http.StatusForbidden, CodeAllocationExpired, "hold window already expired", 0)
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, r, http.StatusNotFound, CodeNotFound, "sandbox not found", 0)
		default:
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to mark sandbox for deletion", 0)
		}
		return
	}

	writeJSON(w, http.StatusOK, markForDeletionResponse{
		SandboxID:           sb.SandboxID,
		Status:              string(sb.Status),
		DeletionRequestedAt: sb.DeletionRequestedAt,
	})
}

func (h *handlers) getSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity := clientIdentity(r)
	if identity == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidIdentity, "one of X-Instruqt-Sandbox-ID or X-Track-ID is required", 0)
		return
	}

	sb, err := h.deps.Engine.Get(r.Context(), id, identity)
	if err != nil {
		switch {
		case errors.Is(err, alloc.ErrNotOwner):
			writeError(w, r, http.StatusForbidden, CodeForbiddenNotOwner, "caller does not own this sandbox", 0)
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, r, http.StatusNotFound, CodeNotFound, "sandbox not found", 0)
		default:
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to read sandbox", 0)
		}
		return
	}

	writeJSON(w, http.StatusOK, sb)
}

func (h *handlers) adminListSandboxes(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cursor := r.URL.Query().Get("cursor")

	got, err := h.deps.Admin.List(r.Context(), status, limit, cursor)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to list sandboxes", 0)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *handlers) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Admin.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to gather stats", 0)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) adminTriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Admin.TriggerSync(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "sync failed", 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"synced":       int64(result.Synced),
		"marked_stale": int64(result.MarkedStale),
		"duration_ms":  result.DurationMS,
	})
}

func (h *handlers) adminTriggerCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Admin.TriggerCleanup(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "cleanup failed", 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"deleted":     int64(result.Deleted),
		"failed":      int64(result.Failed),
		"duration_ms": result.DurationMS,
	})
}

func (h *handlers) adminTriggerAutoExpire(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Admin.TriggerAutoExpire(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "auto-expire failed", 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": result.Marked})
}

func (h *handlers) adminTriggerStaleDelete(w http.ResponseWriter, r *http.Request) {
	gracePeriodHours, _ := strconv.Atoi(r.URL.Query().Get("grace_period_hours"))
	result, err := h.deps.Admin.TriggerStaleDelete(r.Context(), gracePeriodHours)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "auto-delete-stale failed", 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": result.Deleted})
}

func (h *handlers) adminBulkDelete(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))
	if status == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidIdentity, "status query parameter is required", 0)
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	result, err := h.deps.Admin.BulkDelete(r.Context(), status, dryRun)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "bulk delete failed", 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
