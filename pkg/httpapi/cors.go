package httpapi

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsMiddleware builds the CORS handler from a configurable origin
// allowlist. The identity and analytics/prefix headers must always be
// permitted, and Retry-After must be exposed so rate-limited and
// breaker-rejected browser clients can read it.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Authorization",
			"Content-Type",
			"X-Instruqt-Sandbox-ID",
			"X-Track-ID",
			"X-Instruqt-Track-ID",
			"X-Sandbox-Name-Prefix",
			"X-Idempotency-Key",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 300,
	})
}
