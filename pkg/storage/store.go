package storage

import (
	"context"
	"errors"

	"github.com/instruqt/sandbox-broker/pkg/types"
)

var (
	// ErrNotFound is returned when a sandbox_id has no matching record.
	ErrNotFound = errors.New("storage: sandbox not found")

	// ErrConflict is returned when a conditional write's precondition did
	// not hold: another writer already changed the record since the
	// caller last observed it.
	ErrConflict = errors.New("storage: conditional write failed")

	// ErrExpired is returned by AtomicRelease when the caller still owns
	// the sandbox but its hold window (lab_duration_hours) has already
	// elapsed. Distinguished from ErrConflict so handlers can return a
	// different error kind (ALLOCATION_EXPIRED vs FORBIDDEN_NOT_OWNER).
	ErrExpired = errors.New("storage: hold window expired")
)

// Store is the persistence contract the rest of the broker is built on.
// All methods are safe for concurrent use.
type Store interface {
	// Get returns the current record for sandboxID, or ErrNotFound.
	Get(ctx context.Context, sandboxID string) (*types.Sandbox, error)

	// Put unconditionally upserts a record. Used by sync, which treats the
	// CSP's inventory as authoritative, and by cleanup to record a failed
	// destroy attempt.
	Put(ctx context.Context, sandbox *types.Sandbox) error

	// Delete unconditionally removes a record. Idempotent: deleting a
	// sandbox_id that does not exist is not an error.
	Delete(ctx context.Context, sandboxID string) error

	// AtomicClaim transitions sandboxID from StatusAvailable to
	// StatusAllocated in a single conditional write, setting AllocatedTo,
	// TrackName, AllocatedAt, IdempotencyKey and LabDurationHours. It
	// returns ErrConflict if the record's status was not StatusAvailable
	// at the time of the write, and ErrNotFound if sandboxID does not
	// exist.
	AtomicClaim(ctx context.Context, sandboxID string, claim Claim) (*types.Sandbox, error)

	// AtomicRelease transitions an allocated sandbox into
	// StatusPendingDeletion in a single conditional write, verifying the
	// caller still owns it and is still within its hold window. It
	// returns ErrConflict if allocatedTo does not match the record's
	// current AllocatedTo (or the record is not StatusAllocated),
	// ErrExpired if allocatedTo matches but the record's own
	// lab_duration_hours window has already elapsed, and ErrNotFound if
	// sandboxID does not exist.
	AtomicRelease(ctx context.Context, sandboxID string, allocatedTo string, now int64) (*types.Sandbox, error)

	// AtomicExpire is AutoExpiry's conditional write: it transitions
	// sandboxID into StatusPendingDeletion only if it is still
	// StatusAllocated with the same allocatedAt the worker observed when
	// it decided the hold window had lapsed. Unlike AtomicRelease, it does
	// not check ownership (the caller is the worker, not a consumer) and
	// its precondition is the opposite: the equality check on allocatedAt
	// exists only to detect that nothing changed since the worker's read,
	// not to enforce a window. It returns ErrConflict if the record
	// changed underneath the worker (e.g. the owner released or was
	// re-claimed), and ErrNotFound if sandboxID no longer exists.
	AtomicExpire(ctx context.Context, sandboxID string, expectedAllocatedAt int64, now int64) (*types.Sandbox, error)

	// QueryByStatus returns up to limit records in the given status via
	// the by_status index. limit <= 0 means no limit.
	QueryByStatus(ctx context.Context, status types.Status, limit int) ([]*types.Sandbox, error)

	// QueryByOwner returns the sandbox currently allocated to
	// allocatedToSandboxID, if any, via the by_owner index.
	QueryByOwner(ctx context.Context, allocatedToSandboxID string) (*types.Sandbox, error)

	// QueryByIdempotencyKey returns the sandbox created by a prior
	// allocate call carrying this idempotency key, if any, via the
	// by_idem index.
	QueryByIdempotencyKey(ctx context.Context, key string) (*types.Sandbox, error)

	// Scan invokes fn for every record in the table. fn returning false
	// stops the scan early. Used by admin listing and stats, the metrics
	// gauge refresher, and the sync loop; never used on the allocation hot
	// path.
	Scan(ctx context.Context, fn func(*types.Sandbox) bool) error

	// Close releases any resources held by the Store.
	Close() error
}

// Claim bundles AtomicClaim's inputs so the interface doesn't grow a long
// positional parameter list every time the allocate request gains a field.
type Claim struct {
	AllocatedTo      string
	TrackName        string
	IdempotencyKey   string
	LabDurationHours int
	Now              int64
}
