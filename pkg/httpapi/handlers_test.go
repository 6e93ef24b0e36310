package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instruqt/sandbox-broker/pkg/admin"
	"github.com/instruqt/sandbox-broker/pkg/alloc"
	"github.com/instruqt/sandbox-broker/pkg/auth"
	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/ratelimiter"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
	"github.com/instruqt/sandbox-broker/pkg/worker"
)

type stubLoops struct{}

func (stubLoops) RunSync(context.Context) (worker.SyncResult, error) { return worker.SyncResult{}, nil }
func (stubLoops) RunCleanup(context.Context) (worker.CleanupResult, error) {
	return worker.CleanupResult{}, nil
}
func (stubLoops) RunAutoExpiry(context.Context) (worker.AutoExpiryResult, error) {
	return worker.AutoExpiryResult{}, nil
}
func (stubLoops) RunStaleDeleteWithGrace(context.Context, time.Duration) (worker.StaleDeleteResult, error) {
	return worker.StaleDeleteResult{}, nil
}
func (stubLoops) Status() []worker.LoopStatus { return nil }

func newTestRouter(t *testing.T, store storage.Store) http.Handler {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewRouter(Deps{
		Engine:        alloc.New(store, clk, 15),
		Admin:         admin.New(store, stubLoops{}),
		Authenticator: auth.New("api-token", "admin-token"),
		Limiter:       ratelimiter.New(1000, 1000, clk),
	})
}

func decodeBody(rec *httptest.ResponseRecorder, v interface{}) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}

func doRequest(r http.Handler, method, path, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllocateRequiresBearerToken(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodPost, "/v1/allocate", "", map[string]string{"X-Track-ID": "track-1"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeUnauthorized, body.Err.Code)
}

func TestAllocateRequiresClientIdentity(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodPost, "/v1/allocate", "api-token", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInvalidIdentity, body.Err.Code)
}

func TestAllocateReturnsPoolExhausted(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodPost, "/v1/allocate", "api-token", map[string]string{"X-Track-ID": "track-1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodePoolExhausted, body.Err.Code)
}

func TestAllocateClaimsAnAvailableSandbox(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID: "sb-1", Name: "sandbox-1", ExternalID: "ext-1", Status: types.StatusAvailable,
	}))
	r := newTestRouter(t, store)

	rec := doRequest(r, http.MethodPost, "/v1/allocate", "api-token", map[string]string{"X-Track-ID": "track-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp allocateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sb-1", resp.SandboxID)
}

func TestAllocateIsIdempotentPerConsumerIdentity(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID: "sb-1", Name: "sandbox-1", ExternalID: "ext-1", Status: types.StatusAvailable,
	}))
	r := newTestRouter(t, store)
	headers := map[string]string{"X-Instruqt-Sandbox-ID": "c1"}

	first := doRequest(r, http.MethodPost, "/v1/allocate", "api-token", headers)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp allocateResponse
	require.NoError(t, decodeBody(first, &firstResp))

	second := doRequest(r, http.MethodPost, "/v1/allocate", "api-token", headers)
	require.Equal(t, http.StatusOK, second.Code)
	var secondResp allocateResponse
	require.NoError(t, decodeBody(second, &secondResp))

	assert.Equal(t, firstResp.SandboxID, secondResp.SandboxID)
}

func TestAdminRouteRejectsAPIToken(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodGet, "/v1/admin/stats", "api-token", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeForbiddenNotOwner, body.Err.Code)
}

func TestAdminStatsWithAdminToken(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Put(context.Background(), &types.Sandbox{SandboxID: "sb-1", Status: types.StatusAvailable}))
	r := newTestRouter(t, store)

	rec := doRequest(r, http.MethodGet, "/v1/admin/stats", "admin-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats admin.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Available)
}

func TestAdminBulkDeleteRequiresStatus(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodPost, "/v1/admin/bulk-delete", "admin-token", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkForDeletionNotFound(t *testing.T) {
	r := newTestRouter(t, storage.NewMemStore())
	rec := doRequest(r, http.MethodPost, "/v1/sandboxes/missing/mark-for-deletion", "api-token", map[string]string{"X-Track-ID": "track-1"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
