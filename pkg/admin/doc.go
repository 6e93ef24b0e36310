// Package admin implements the broker's operator-facing endpoints: listing
// and inspecting sandbox records, reading worker loop status, and
// triggering the four reconciliation loops out of band from their normal
// schedule.
//
// BulkDelete is the one destructive admin operation; it accepts a
// dry_run flag that reports what it would delete without touching the
// store, since an operator-triggered mass deletion is exactly the kind of
// call that benefits from a preview before it runs for real.
package admin
