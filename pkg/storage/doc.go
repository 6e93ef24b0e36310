/*
Package storage persists Sandbox records and provides the conditional-write
primitives the allocation engine and worker loops build their safety on.

# Architecture

The production Store is backed by a single DynamoDB table keyed on
sandbox_id, with three Global Secondary Indexes:

	by_status  - partition key "status", used to list candidates for
	             allocation and for the worker loops' per-status scans
	by_owner   - partition key "allocated_to_sandbox_id", used to find the
	             sandbox (if any) already claimed by a given caller
	by_idem    - partition key "idempotency_key", used by the allocate
	             fast path to detect a retried request

Claim is not read-then-write: it is a single conditional DynamoDB
UpdateItem call built with
github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression, so two workers
racing for the same record can never both succeed. The loser gets back
ErrConflict and the caller (pkg/alloc) moves on to its next candidate.
Release reads the record first to evaluate the hold window, then issues a
conditional UpdateItem that pins status, owner and allocated_at to the
values it read, so a change in between surfaces as ErrConflict.

# Testing

memstore.go provides an in-memory Store with the same conditional
semantics, guarded by a single mutex, for unit tests that would otherwise
need a live DynamoDB endpoint or dynamodb-local.

# See Also

  - pkg/alloc for the claim/release algorithms built on AtomicClaim/AtomicRelease
  - pkg/worker for the loops that drive Put/QueryByStatus/Scan
  - pkg/types for the Sandbox record itself
*/
package storage
