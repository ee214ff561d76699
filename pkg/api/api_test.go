package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/tenant-control-plane/pkg/apiresponses"
	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/failures"
	"github.com/telekom/tenant-control-plane/pkg/flags"
	"github.com/telekom/tenant-control-plane/pkg/ratelimit"
	"github.com/telekom/tenant-control-plane/pkg/resolver"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/tenantcontrol"
	"github.com/telekom/tenant-control-plane/pkg/tenants"
)

type apiEnv struct {
	t       *testing.T
	handler http.Handler
	root    string
	admin   string
}

type failingPing struct{}

func (failingPing) Ping(context.Context) error { return errors.New("connection refused") }

func setupAPIEnv(t *testing.T, opts ServerOptions) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := testingclock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	mem := storage.NewMemory()
	log := zaptest.NewLogger(t)
	sugar := log.Sugar()
	auditLog := audit.NewLog(mem, nil, clk, sugar)

	fs := flags.New(mem, auditLog, nil, cache.New[map[control.Key]bool]("system_flags", 5*time.Second, clk), sugar)
	tcs := tenantcontrol.New(mem, tenants.NewStatic("acme", "globex"), auditLog, nil,
		cache.New[map[control.Key]bool]("tenant_controls", 5*time.Second, clk), sugar)
	reg := failures.New(mem, auditLog, sugar)
	res := resolver.New(fs, tcs, reg, clk, sugar)

	auth, err := NewAuth(sugar, AuthConfig{Secret: testSecret})
	require.NoError(t, err)

	if opts.Health == nil {
		opts.Health = mem
	}
	srv, err := NewServer(log, opts, auth)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	require.NoError(t, srv.RegisterAll([]APIController{
		NewSystemFlagsController(fs, sugar),
		NewTenantsController(tcs, reg, res, sugar),
		NewFailuresController(reg, nil, sugar),
		NewOperationsController(res, auditLog, nil, sugar),
	}))

	return &apiEnv{
		t:       t,
		handler: srv.Handler(),
		root:    signHMAC(t, jwt.MapClaims{"sub": "root", "roles": []string{control.RoleSuperadmin}}),
		admin:   signHMAC(t, jwt.MapClaims{"sub": "ops", "roles": []string{"admin"}}),
	}
}

func (e *apiEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(AuthHeaderKey, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_UnauthenticatedEndpoints(t *testing.T) {
	env := setupAPIEnv(t, ServerOptions{})

	w := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goVersion")

	w = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/system-flags", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_HealthzReportsStorageOutage(t *testing.T) {
	env := setupAPIEnv(t, ServerOptions{Health: failingPing{}})
	w := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_RequiresAuth(t *testing.T) {
	_, err := NewServer(zaptest.NewLogger(t), ServerOptions{}, nil)
	assert.Error(t, err)
}

func TestSystemFlagsAPI(t *testing.T) {
	env := setupAPIEnv(t, ServerOptions{})

	w := env.do(http.MethodGet, "/api/system-flags", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[map[control.Key]bool](t, w)
	assert.Len(t, all, len(control.SystemKeys()))
	for k, v := range all {
		assert.False(t, v, k)
	}

	w = env.do(http.MethodGet, "/api/system-flags?detail=true", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]control.SystemFlag](t, w)
	assert.Len(t, list, len(control.SystemKeys()))
	for _, f := range list {
		assert.False(t, f.Value, f.Key)
	}

	w = env.do(http.MethodPut, "/api/system-flags/signups_disabled", env.admin, map[string]bool{"value": true})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apiresponses.CodeUnauthorized, decode[apiresponses.APIError](t, w).Code)

	w = env.do(http.MethodPut, "/api/system-flags/teleport_enabled", env.root, map[string]bool{"value": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apiresponses.CodeUnknownKey, decode[apiresponses.APIError](t, w).Code)

	w = env.do(http.MethodPut, "/api/system-flags/signups_disabled", env.root, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPut, "/api/system-flags/signups_disabled", env.root, map[string]bool{"value": true})
	require.Equal(t, http.StatusOK, w.Code)
	flag := decode[control.SystemFlag](t, w)
	assert.True(t, flag.Value)
	assert.Equal(t, "root", flag.UpdatedBy)

	w = env.do(http.MethodGet, "/api/tenants/acme/features/signups_disabled", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, FeatureState{TenantID: "acme", Key: control.KeySignupsDisabled, Enabled: true}, decode[FeatureState](t, w))
}

func TestTenantControlsAPI(t *testing.T) {
	env := setupAPIEnv(t, ServerOptions{})
	path := "/api/tenants/acme/controls/signups_disabled"

	w := env.do(http.MethodPut, path, env.root, ToggleTenantControlRequest{Value: control.BoolPtr(true)})
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	w = env.do(http.MethodPut, "/api/tenants/initech/controls/signups_disabled", env.root,
		ToggleTenantControlRequest{Value: control.BoolPtr(true), Reason: "fraud"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apiresponses.CodeTenantNotFound, decode[apiresponses.APIError](t, w).Code)

	w = env.do(http.MethodPut, path, env.admin, ToggleTenantControlRequest{Value: control.BoolPtr(true), Reason: "fraud"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPut, path, env.root, ToggleTenantControlRequest{Value: control.BoolPtr(true), Reason: "fraud wave"})
	require.Equal(t, http.StatusOK, w.Code)
	tc := decode[control.TenantControl](t, w)
	assert.Equal(t, "acme", tc.TenantID)
	assert.Equal(t, "fraud wave", tc.Reason)

	w = env.do(http.MethodGet, "/api/tenants/acme/controls", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]control.TenantControl](t, w), 1)

	w = env.do(http.MethodGet, "/api/tenants/acme/features/signups_disabled", env.admin, nil)
	assert.True(t, decode[FeatureState](t, w).Enabled)
	w = env.do(http.MethodGet, "/api/tenants/globex/features/signups_disabled", env.admin, nil)
	assert.False(t, decode[FeatureState](t, w).Enabled)

	w = env.do(http.MethodGet, "/api/tenants/acme/features", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]resolver.EffectiveControl](t, w), len(control.AllKeys()))

	w = env.do(http.MethodGet, "/api/tenants/acme/features/teleport_enabled", env.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodDelete, path+"?reason=resolved", env.root, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/tenants/acme/controls", env.admin, nil)
	assert.Empty(t, decode[[]control.TenantControl](t, w))

	w = env.do(http.MethodGet, "/api/audit?targetKind=tenant_control&tenant=acme", env.root, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]control.AuditEntry](t, w)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "root", e.ActorID)
		assert.Equal(t, "acme", e.TenantID)
	}
}

func TestFailuresAPI(t *testing.T) {
	env := setupAPIEnv(t, ServerOptions{})

	w := env.do(http.MethodPost, "/api/failures", env.admin, failures.Report{
		TenantID: "acme", Category: control.CategoryPayment, Source: "stripe",
		Severity: control.SeverityCritical, Message: "webhook signature mismatch",
	})
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[control.FailureRecord](t, w)
	assert.NotEmpty(t, rec.ID)

	w = env.do(http.MethodPost, "/api/failures", env.admin, failures.Report{TenantID: "acme", Category: "weather", Source: "x", Severity: control.SeverityInfo})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/failures/"+rec.ID, env.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodGet, "/api/failures/does-not-exist", env.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/tenants/acme/failures", env.admin, nil)
	assert.Len(t, decode[[]control.FailureRecord](t, w), 1)
	w = env.do(http.MethodGet, "/api/tenants/acme/failure-view", env.admin, nil)
	assert.Len(t, decode[[]control.FailureRecord](t, w), 1)
	w = env.do(http.MethodGet, "/api/tenants/globex/failures", env.admin, nil)
	assert.Equal(t, "[]", w.Body.String())

	w = env.do(http.MethodGet, "/api/health-snapshot", env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[resolver.HealthSnapshot](t, w)
	assert.Equal(t, 1, snap.FailureCounts[control.SeverityCritical])

	w = env.do(http.MethodPost, "/api/failures/"+rec.ID+"/resolve", env.admin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(http.MethodPost, "/api/failures/"+rec.ID+"/resolve", env.root, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[control.FailureRecord](t, w).IsActive)

	w = env.do(http.MethodGet, "/api/tenants/acme/failures", env.admin, nil)
	assert.Empty(t, decode[[]control.FailureRecord](t, w))
	w = env.do(http.MethodGet, "/api/tenants/acme/failures/history?limit=10", env.admin, nil)
	assert.Len(t, decode[[]control.FailureRecord](t, w), 1)
	w = env.do(http.MethodGet, "/api/tenants/acme/failures/history?limit=lots", env.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditAPI_SuperadminOnly(t *testing.T) {
	env := setupAPIEnv(t, ServerOptions{})

	w := env.do(http.MethodGet, "/api/audit", env.admin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, "/api/audit?targetKind=cluster", env.root, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/audit", env.root, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimitsPerActor(t *testing.T) {
	limiter := ratelimit.NewActor(ratelimit.ActorConfig{
		Anonymous:     ratelimit.Config{Rate: 1, Burst: 1},
		Authenticated: ratelimit.Config{Rate: 0.001, Burst: 2},
	})
	env := setupAPIEnv(t, ServerOptions{RateLimiter: limiter})

	for i := 0; i < 2; i++ {
		w := env.do(http.MethodGet, "/api/health-snapshot", env.admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(http.MethodGet, "/api/health-snapshot", env.admin, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = env.do(http.MethodGet, "/api/health-snapshot", env.root, nil)
	assert.Equal(t, http.StatusOK, w.Code, "other actors keep their own budget")
}

// flagsDown serves defaults from GetAll while the row view fails.
type flagsDown struct{}

func (flagsDown) GetAll(context.Context) map[control.Key]bool { return flags.Defaults() }

func (flagsDown) List(context.Context) ([]control.SystemFlag, error) {
	return nil, control.StorageError("list system flags", errors.New("connection refused"))
}

func (flagsDown) Toggle(context.Context, control.Actor, string, bool) (control.SystemFlag, error) {
	return control.SystemFlag{}, control.StorageError("put system flag", errors.New("connection refused"))
}

func TestSystemFlagsAPI_MapSurvivesStorageOutage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, NewSystemFlagsController(flagsDown{}, zaptest.NewLogger(t).Sugar()).Register(r.Group("/api/system-flags")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/system-flags", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, flags.Defaults(), decode[map[control.Key]bool](t, w))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/system-flags?detail=true", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apiresponses.CodeStorage, decode[apiresponses.APIError](t, w).Code)
}
