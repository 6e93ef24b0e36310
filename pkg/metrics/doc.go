// Package metrics defines and registers the broker's Prometheus collectors
// and exposes them over /metrics via promhttp.
//
// Counters and histograms are updated inline by the allocation engine, the
// worker loops, and the HTTP middleware chain. The pool_* gauges are the one
// exception: they are refreshed from a Store scan at most once per TTL (see
// Gauges.Refresh) rather than on every scrape, so /metrics never triggers an
// unbounded table scan under load.
package metrics
