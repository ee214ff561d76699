package cmd

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/tenant-control-plane/pkg/api"
	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/ctl/config"
	"github.com/telekom/tenant-control-plane/pkg/failures"
	"github.com/telekom/tenant-control-plane/pkg/flags"
	"github.com/telekom/tenant-control-plane/pkg/resolver"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/tenantcontrol"
	"github.com/telekom/tenant-control-plane/pkg/tenants"
)

const testSecret = "cpctl-test-secret"

type testEnv struct {
	t          *testing.T
	server     string
	configPath string
	rootToken  string
	adminToken string
}

// newTestEnv runs a real control plane API in-process.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	for _, env := range []string{"CPCTL_CONTEXT", "CPCTL_OUTPUT", "CPCTL_SERVER", "CPCTL_TOKEN", "CPCTL_TOKEN_STORAGE", "CPCTL_VERBOSE"} {
		t.Setenv(env, "")
	}

	clk := testingclock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	mem := storage.NewMemory()
	log := zaptest.NewLogger(t)
	sugar := log.Sugar()
	auditLog := audit.NewLog(mem, nil, clk, sugar)
	fs := flags.New(mem, auditLog, nil, cache.New[map[control.Key]bool]("system_flags", time.Second, clk), sugar)
	tcs := tenantcontrol.New(mem, tenants.NewStatic("acme", "globex"), auditLog, nil,
		cache.New[map[control.Key]bool]("tenant_controls", time.Second, clk), sugar)
	reg := failures.New(mem, auditLog, sugar)
	res := resolver.New(fs, tcs, reg, clk, sugar)

	auth, err := api.NewAuth(sugar, api.AuthConfig{Secret: testSecret})
	require.NoError(t, err)
	srv, err := api.NewServer(log, api.ServerOptions{Health: mem}, auth)
	require.NoError(t, err)
	require.NoError(t, srv.RegisterAll([]api.APIController{
		api.NewSystemFlagsController(fs, sugar),
		api.NewTenantsController(tcs, reg, res, sugar),
		api.NewFailuresController(reg, nil, sugar),
		api.NewOperationsController(res, auditLog, nil, sugar),
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	env := &testEnv{
		t:          t,
		server:     ts.URL,
		configPath: filepath.Join(t.TempDir(), "config.yaml"),
		rootToken:  sign(t, "root", control.RoleSuperadmin),
		adminToken: sign(t, "ops", "admin"),
	}
	cfg := config.DefaultConfig()
	cfg.Contexts = []config.Context{{Name: "local", Server: ts.URL}}
	cfg.Settings.TokenStorage = "file"
	require.NoError(t, config.Save(env.configPath, &cfg))
	return env
}

func sign(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "roles": roles}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func (e *testEnv) run(token string, args ...string) (string, error) {
	e.t.Helper()
	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: e.configPath, OutputWriter: &buf})
	root.SetArgs(append([]string{"--server", e.server, "--token", token}, args...))
	root.SetOut(&buf)
	root.SetErr(&buf)
	err := root.Execute()
	return buf.String(), err
}

func TestFlagsCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(env.adminToken, "flags", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "global_maintenance")

	_, err = env.run(env.adminToken, "flags", "set", "global_maintenance", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, err = env.run(env.rootToken, "flags", "set", "global_maintenance", "maybe")
	assert.Error(t, err)

	out, err = env.run(env.rootToken, "flags", "set", "global_maintenance", "true", "-o", "json")
	require.NoError(t, err)
	var flag control.SystemFlag
	require.NoError(t, json.Unmarshal([]byte(out), &flag))
	assert.True(t, flag.Value)

	out, err = env.run(env.adminToken, "feature", "get", "acme", "global_maintenance")
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(out))
}

func TestControlsAndFeatureCommands(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(env.rootToken, "controls", "set", "acme", "ai_engine_disabled", "true")
	require.Error(t, err, "--reason is required")

	_, err = env.run(env.rootToken, "controls", "set", "acme", "ai_engine_disabled", "true", "--reason", "cost spike")
	require.NoError(t, err)

	out, err := env.run(env.adminToken, "controls", "list", "acme", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "reason: cost spike")

	out, err = env.run(env.adminToken, "feature", "explain", "acme")
	require.NoError(t, err)
	assert.Regexp(t, `ai_engine_disabled\s+true\s+tenant`, out)

	out, err = env.run(env.rootToken, "controls", "clear", "acme", "ai_engine_disabled", "--reason", "resolved")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared ai_engine_disabled")

	out, err = env.run(env.rootToken, "audit", "list", "--tenant", "acme", "-o", "json")
	require.NoError(t, err)
	var entries []control.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 2)
}

func TestFailureCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(env.adminToken, "failures", "report",
		"--tenant", "acme", "--category", "calendar", "--source", "google", "--severity", "critical",
		"-m", "token revoked", "--meta", "calendarId=primary", "-o", "json")
	require.NoError(t, err)
	var rec control.FailureRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, map[string]string{"calendarId": "primary"}, rec.Metadata)

	_, err = env.run(env.adminToken, "failures", "report", "--tenant", "acme", "--category", "calendar", "--source", "google", "--meta", "novalue")
	assert.Error(t, err)

	out, err = env.run(env.adminToken, "failures", "list", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, rec.ID)

	out, err = env.run(env.adminToken, "health")
	require.NoError(t, err)
	assert.Regexp(t, `critical\s+1`, out)

	_, err = env.run(env.rootToken, "failures", "resolve", rec.ID)
	require.NoError(t, err)

	out, err = env.run(env.adminToken, "failures", "history", "acme", "-o", "json")
	require.NoError(t, err)
	var history []control.FailureRecord
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.False(t, history[0].IsActive)
}

func TestLoginLogoutWithFileStorage(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: env.configPath, OutputWriter: &buf})
	root.SetIn(strings.NewReader(env.adminToken + "\n"))
	root.SetArgs([]string{"login", "--token-stdin"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "Logged in to local")

	buf.Reset()
	root = NewRootCommand(Config{ConfigPath: env.configPath, OutputWriter: &buf})
	root.SetArgs([]string{"flags", "list"})
	require.NoError(t, root.Execute(), "stored token is used")

	root = NewRootCommand(Config{ConfigPath: env.configPath, OutputWriter: &buf})
	root.SetArgs([]string{"logout"})
	require.NoError(t, root.Execute())

	root = NewRootCommand(Config{ConfigPath: env.configPath, OutputWriter: &buf})
	root.SetArgs([]string{"flags", "list"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpctl", "config.yaml")
	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: path, OutputWriter: &buf})
	root.SetArgs([]string{"config", "init", "--name", "prod", "--server", "https://control.example.com"})
	require.NoError(t, root.Execute())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.CurrentContext)

	root = NewRootCommand(Config{ConfigPath: path, OutputWriter: &buf})
	root.SetArgs([]string{"config", "init", "--server", "https://other.example.com"})
	assert.Error(t, root.Execute(), "refuses to overwrite")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), OutputWriter: &buf})
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "cpctl "))
}
