package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/instruqt/sandbox-broker/pkg/auth"
	"github.com/instruqt/sandbox-broker/pkg/log"
	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/ratelimiter"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	roleKey      contextKey = "role"
)

// securityHeaders sets the response headers every response carries,
// success or failure, before any other middleware runs.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// requestID assigns a UUID to every request and attaches it to the
// response headers and the request context, so every log line in the
// handler's call chain can be correlated back to this one HTTP request.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := setRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit runs before logging so rejected requests never reach the
// handler, but after security headers so a 429 still carries them. Probe
// endpoints are never rate-limited: orchestrators must be able to poll
// liveness/readiness/metrics without competing with real traffic for
// tokens.
func rateLimit(limiter *ratelimiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbePath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIdentity(r)
			decision := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(ceilSeconds(decision.ResetAfter))))
			if decision.Allowed {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := decision.RetryAfter
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", int(ceilSeconds(retryAfter)))
		})
	}
}

func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	default:
		return false
	}
}

func ceilSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return math.Ceil(d.Seconds())
}

// requestLogging logs one line per request after it completes, and
// records the http_requests_total / request_latency_seconds metrics.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(sw.status)).Inc()
		metrics.RequestLatencySeconds.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())

		log.WithRequestID(requestIDFrom(r.Context())).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", duration).
			Msg("request handled")
	})
}

// authenticate runs last: a request that was rate-limited never reaches
// here, but every request that does gets classified into a Role the
// handlers can check.
func authenticate(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := authenticator.Authenticate(r.Header.Get("Authorization"))
			ctx := setRole(r.Context(), role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireRole(minRole auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := roleFrom(r.Context())
			if role == auth.RoleNone {
				writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid bearer token", 0)
				return
			}
			if minRole == auth.RoleAdmin && role != auth.RoleAdmin {
				writeError(w, r, http.StatusForbidden, CodeForbiddenNotOwner, "admin token required", 0)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// clientIdentity derives the caller's identity the same way for rate
// limiting and for ownership checks: first non-empty of the sandbox
// identity header, the legacy track identity header, or the first hop in
// X-Forwarded-For. Returns "" if none are present, which handlers that
// require an owning identity (allocate, mark-for-deletion, get) treat as
// CodeInvalidIdentity.
func clientIdentity(r *http.Request) string {
	if id := r.Header.Get("X-Instruqt-Sandbox-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Track-ID"); id != "" {
		return id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]); first != "" {
			return first
		}
	}
	return ""
}
