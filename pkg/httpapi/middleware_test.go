package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/instruqt/sandbox-broker/pkg/admin"
	"github.com/instruqt/sandbox-broker/pkg/alloc"
	"github.com/instruqt/sandbox-broker/pkg/auth"
	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/ratelimiter"
	"github.com/instruqt/sandbox-broker/pkg/storage"
)

func TestSecurityHeadersPresentOnEveryResponse(t *testing.T) {
	store := storage.NewMemStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := NewRouter(Deps{
		Engine:        alloc.New(store, clk, 15),
		Admin:         admin.New(store, stubLoops{}),
		Authenticator: auth.New("api-token", "admin-token"),
		Limiter:       ratelimiter.New(1000, 1000, clk),
	})

	rec := doRequest(r, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRateLimitExhaustsBucketAndSetsRetryAfter(t *testing.T) {
	store := storage.NewMemStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := NewRouter(Deps{
		Engine:        alloc.New(store, clk, 15),
		Admin:         admin.New(store, stubLoops{}),
		Authenticator: auth.New("api-token", "admin-token"),
		Limiter:       ratelimiter.New(1, 1, clk),
	})

	headers := map[string]string{"X-Track-ID": "same-client"}
	first := doRequest(r, http.MethodGet, "/v1/sandboxes/missing", "api-token", headers)
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := doRequest(r, http.MethodGet, "/v1/sandboxes/missing", "api-token", headers)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	var body Error
	assert.NoError(t, decodeBody(second, &body))
	assert.Equal(t, CodeRateLimited, body.Err.Code)
}

func TestRateLimitBypassesProbePaths(t *testing.T) {
	store := storage.NewMemStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := NewRouter(Deps{
		Engine:        alloc.New(store, clk, 15),
		Admin:         admin.New(store, stubLoops{}),
		Authenticator: auth.New("api-token", "admin-token"),
		Limiter:       ratelimiter.New(1, 1, clk),
	})

	for i := 0; i < 5; i++ {
		rec := doRequest(r, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCORSPreflightAnsweredBeforeRateLimitOrAuth(t *testing.T) {
	store := storage.NewMemStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := NewRouter(Deps{
		Engine:        alloc.New(store, clk, 15),
		Admin:         admin.New(store, stubLoops{}),
		Authenticator: auth.New("api-token", "admin-token"),
		Limiter:       ratelimiter.New(1, 1, clk),
		CORSOrigins:   []string{"https://example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/allocate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientIdentityPrefersSandboxIDOverTrackIDOverForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIdentity(req))

	req.Header.Set("X-Track-ID", "track-42")
	assert.Equal(t, "track-42", clientIdentity(req))

	req.Header.Set("X-Instruqt-Sandbox-ID", "sandbox-7")
	assert.Equal(t, "sandbox-7", clientIdentity(req))
}

func TestClientIdentityEmptyWhenNoHeadersPresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", clientIdentity(req))
}
