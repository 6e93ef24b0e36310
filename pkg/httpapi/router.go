package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/instruqt/sandbox-broker/pkg/admin"
	"github.com/instruqt/sandbox-broker/pkg/alloc"
	"github.com/instruqt/sandbox-broker/pkg/auth"
	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/ratelimiter"
)

// Deps bundles everything the router needs to construct handlers.
type Deps struct {
	Engine        *alloc.Engine
	Admin         *admin.Service
	Authenticator *auth.Authenticator
	Limiter       *ratelimiter.Limiter
	CORSOrigins   []string
	VersionPrefix string
}

// NewRouter builds the full chi router: middleware chain in the mandated
// order (security headers, request ID, CORS, rate limit, logging, auth), then the
// public and admin route tables.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(securityHeaders)
	r.Use(requestID)
	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(rateLimit(deps.Limiter))
	r.Use(requestLogging)
	r.Use(authenticate(deps.Authenticator))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(deps))
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	prefix := deps.VersionPrefix
	if prefix == "" {
		prefix = "/v1"
	}

	h := &handlers{deps: deps}

	r.Route(prefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RoleAPI))
			r.Post("/allocate", h.allocate)
			r.Post("/sandboxes/{id}/mark-for-deletion", h.markForDeletion)
			r.Get("/sandboxes/{id}", h.getSandbox)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(auth.RoleAdmin))
			r.Get("/sandboxes", h.adminListSandboxes)
			r.Get("/stats", h.adminStats)
			r.Post("/sync", h.adminTriggerSync)
			r.Post("/cleanup", h.adminTriggerCleanup)
			r.Post("/bulk-delete", h.adminBulkDelete)
			r.Post("/auto-expire", h.adminTriggerAutoExpire)
			r.Post("/auto-delete-stale", h.adminTriggerStaleDelete)
		})
	})

	return r
}
