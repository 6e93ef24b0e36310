/*
Package httpapi is the broker's HTTP surface: routing via go-chi/chi, a
fixed middleware chain, and the handlers for allocate/release/read plus
the admin and health/metrics endpoints.

# Middleware order

Security headers, then request ID, then CORS, then rate limiting, then
request logging, then authentication, then the handler. This order is
load-bearing: security headers must be set even on a rate-limited or
unauthenticated response; CORS runs before rate limiting so a browser
preflight never burns a token or gets logged as real traffic; rate
limiting runs before logging, so a rejected (429) request gets no
per-request log line and is not counted in http_requests_total; authentication runs
last among the middlewares so a rejected or throttled request never
reaches a handler that assumes a validated caller.

# See Also

  - pkg/alloc for the allocate/release/read algorithms
  - pkg/admin for the admin-only operations
  - pkg/auth for bearer token classification
  - pkg/ratelimiter for the per-client token bucket
*/
package httpapi
