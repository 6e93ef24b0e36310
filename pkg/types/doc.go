/*
Package types defines the Sandbox record: the single entity the broker
persists, indexes, and mutates.

A Sandbox is a pre-provisioned, externally-managed compute account handed
out to one consumer at a time and destroyed after a single use. The fields
on Sandbox mirror the store's physical layout directly (see pkg/storage):
AllocatedAt doubles as a GSI sort key and is kept at zero while a record is
available so the by_status index can page oldest-claim-first.

# Invariants

  - At most one record exists per SandboxID.
  - If Status is StatusAllocated or StatusPendingDeletion, AllocatedTo is
    non-empty.
  - AllocatedAt is 0 when Status is StatusAvailable.
  - UpdatedAt advances on every mutation.
  - Status is always one of the five constants below; there is no zero
    value callers should treat as valid.

# See Also

  - pkg/storage for persistence and indexing
  - pkg/alloc for the claim/release state transitions
  - pkg/worker for the reconciliation loops that drive the rest of the
    lifecycle diagram
*/
package types
