/*
Package alloc implements the allocation engine: turning an allocate request
into exactly one claimed sandbox, and a release request into a safe
transition to pending_deletion.

# Claim algorithm

An allocate request first checks its idempotency key against the by_idem
index; a hit returns the previously claimed sandbox unchanged, so retried
requests never double-allocate. On a miss, the engine lists up to K
available candidates (by_status index, optionally filtered by name_prefix),
shuffles them, and attempts AtomicClaim against each in turn. Shuffling
before attempting spreads contention across concurrent callers instead of
every caller racing the same candidate first. The first successful claim
wins; ErrConflict on a candidate just means someone else claimed it first,
and the engine moves to the next one. Running out of candidates without a
successful claim returns ErrAllCandidatesConflicted if any candidate
existed, or ErrPoolExhausted if no candidate was left to try (the by_status
query returned none, or none of them matched name_prefix).

# See Also

  - pkg/storage for the conditional primitives this package is built on
  - pkg/httpapi for the HTTP handler that calls Allocate/Release
*/
package alloc
