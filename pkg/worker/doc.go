/*
Package worker runs the broker's four reconciliation loops against the
Store and the CSP: sync, cleanup, autoexpiry, and staledelete. Each loop is
an independent ticker+select goroutine sharing one shutdown channel,
following the same shape the broker's HTTP-facing code never needs but the
original reconciliation loop this was generalized from always has: tick,
do one bounded unit of work, log and count the outcome, repeat.

  - Sync: lists the CSP's active sandboxes and the store's known records,
    upserts anything new, marks anything the CSP no longer reports as
    stale.
  - Cleanup: destroys sandboxes in pending_deletion against the CSP, in
    small batches with an inter-batch delay so a large backlog doesn't
    burst the CSP's own rate limits.
  - AutoExpiry: marks allocations whose MaxHold has elapsed (plus a grace
    period) for deletion, even if the caller never released them.
  - StaleDelete: removes sandbox records that have sat in StatusStale past
    a grace period, on the assumption the CSP will never report them again.

# See Also

  - pkg/storage for the Store these loops drive
  - pkg/cspclient for the upstream calls
  - pkg/breaker for the circuit breaker wrapping those calls
*/
package worker
