package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"erpsync/internal/config"
	"erpsync/internal/database"
	"erpsync/internal/events"
	"erpsync/internal/models"
	"erpsync/internal/queue"
	"erpsync/internal/repository"
	"erpsync/internal/service"
	"erpsync/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	handler http.Handler
	db      *database.DB
	svc     *service.SyncService
	queue   *queue.Queue
	machine *state.Machine
}

func setupAPI(t *testing.T, cfg config.APIConfig) *apiFixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	machine := state.NewMachine(db, nil)
	q := queue.New(db, nil)
	svc := service.NewSyncService(machine, q,
		repository.NewMemoryLocker(), repository.NewMemorySnapshotCache(),
		events.NewEventBus(), service.Options{StatusCacheTTL: time.Millisecond}, nil)

	srv := NewHTTPServer(cfg, svc, db, false, nil)
	return &apiFixture{handler: srv.Handler(), db: db, svc: svc, queue: q, machine: machine}
}

func (f *apiFixture) request(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz_AlwaysOpen(t *testing.T) {
	f := setupAPI(t, config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true},
	})

	rec := f.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_MissingAndInvalidKey(t *testing.T) {
	f := setupAPI(t, config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "secret", Name: "ops"}},
		},
	})

	rec := f.request(t, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/status", "", map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/status", "", map[string]string{"x-api-key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_PermissionScoping(t *testing.T) {
	f := setupAPI(t, config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "reader", Name: "dashboard", Permissions: []string{"read:status", "read:jobs"}},
				{Key: "admin", Name: "ops"},
			},
		},
	})

	rec := f.request(t, http.MethodGet, "/api/v1/status", "", map[string]string{"x-api-key": "reader"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/advance", `{"target":"IMPORTING_PRODUCTS"}`,
		map[string]string{"x-api-key": "reader"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Empty permission list means full access.
	rec = f.request(t, http.MethodPost, "/api/v1/advance", `{"target":"IMPORTING_PRODUCTS"}`,
		map[string]string{"x-api-key": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_PerKey(t *testing.T) {
	f := setupAPI(t, config.APIConfig{
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2},
	})

	h := map[string]string{"x-api-key": "burst-key"}
	assert.Equal(t, http.StatusOK, f.request(t, http.MethodGet, "/api/v1/status", "", h).Code)
	assert.Equal(t, http.StatusOK, f.request(t, http.MethodGet, "/api/v1/status", "", h).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.request(t, http.MethodGet, "/api/v1/status", "", h).Code)

	// A different key has its own bucket.
	other := map[string]string{"x-api-key": "other-key"}
	assert.Equal(t, http.StatusOK, f.request(t, http.MethodGet, "/api/v1/status", "", other).Code)
}

func TestStatus_ReportsIdleThenActiveSession(t *testing.T) {
	f := setupAPI(t, config.APIConfig{})

	rec := f.request(t, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(models.StageIdle), body["stage"])

	_, _, err := f.svc.Advance(context.Background(), models.StageImportingProducts)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // let the short cache TTL lapse

	rec = f.request(t, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, string(models.StageImportingProducts), body["stage"])
	assert.NotEmpty(t, body["session_id"])
	require.NotNil(t, body["queue"])
}

func TestAdvance_FlowAndConflicts(t *testing.T) {
	f := setupAPI(t, config.APIConfig{})

	rec := f.request(t, http.MethodPost, "/api/v1/advance", `{"target":"IMPORTING_PRODUCTS"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["advanced"])
	assert.Equal(t, string(models.StageImportingProducts), body["stage"])

	// Skipping a stage is a conflict, not a server error.
	rec = f.request(t, http.MethodPost, "/api/v1/advance", `{"target":"VALIDATING"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/advance", `{"bogus":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/advance", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/advance", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJobs_FilterByStatus(t *testing.T) {
	f := setupAPI(t, config.APIConfig{})
	ctx := context.Background()

	// No session yet: empty list, not an error.
	rec := f.request(t, http.MethodGet, "/api/v1/jobs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["jobs"])

	st, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, st.SessionID, models.JobTypeImportOrders, models.JobTypeImportProducts)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	rec = f.request(t, http.MethodGet, "/api/v1/jobs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Len(t, body["jobs"], 2)

	rec = f.request(t, http.MethodGet, "/api/v1/jobs?status=BLOCKED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.Len(t, body["jobs"], 1)
}

func TestRetry_ReopensFailedJob(t *testing.T) {
	f := setupAPI(t, config.APIConfig{})
	ctx := context.Background()

	st, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	jobs, err := f.db.GetJobsBySession(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, f.queue.Claim(ctx, &jobs[0]))
	require.NoError(t, f.queue.Fail(ctx, &jobs[0], assert.AnError))

	retryBody := fmt.Sprintf(`{"job_id":%d}`, jobs[0].ID)
	rec := f.request(t, http.MethodPost, "/api/v1/jobs/retry", retryBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.db.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)

	// Retrying a job that is not failed or quarantined conflicts.
	rec = f.request(t, http.MethodPost, "/api/v1/jobs/retry", retryBody, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/jobs/retry", `{"job_id":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReset_ReturnsToIdle(t *testing.T) {
	f := setupAPI(t, config.APIConfig{})
	ctx := context.Background()

	_, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/v1/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(models.StageIdle), body["stage"])

	st, err := f.machine.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageIdle, st.Stage)
	assert.Empty(t, st.SessionID)
}

func TestHealth_ReflectsFailedStage(t *testing.T) {
	f := setupAPI(t, config.APIConfig{})
	ctx := context.Background()

	rec := f.request(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["healthy"])

	_, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	_, err = f.machine.Fail(ctx, "feed unavailable")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	rec = f.request(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["healthy"])
}
