// Package breaker implements a three-state circuit breaker (closed, open,
// half_open) guarding calls to the upstream CSP API.
//
// The breaker trips to open after a configurable number of consecutive
// failures, short-circuiting further calls with ErrOpen until its timeout
// elapses. It then allows a single probe call through in the half_open
// state: success closes the breaker, failure reopens it and restarts the
// timeout.
package breaker
