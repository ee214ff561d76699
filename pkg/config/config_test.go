package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/authz"
	"github.com/telekom/tenant-control-plane/pkg/config"
	"github.com/telekom/tenant-control-plane/pkg/ratelimit"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectError string
		check       func(t *testing.T, cfg config.Config)
	}{
		{
			name: "minimal config gets defaults",
			content: `
auth:
  jwtSecret: "s3cr3t"
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, config.DefaultListenAddress, cfg.Server.ListenAddress)
				assert.Equal(t, "memory", cfg.Storage.Driver)
				assert.Equal(t, "static", cfg.Tenants.Source)
				assert.Equal(t, "roles", cfg.Auth.RoleClaim)
				assert.Equal(t, config.DefaultCacheTTL, cfg.CacheTTL())
				assert.Equal(t, config.DefaultShutdownTimeout, cfg.ShutdownTimeout())
				assert.Equal(t, ratelimit.DefaultActorConfig(), cfg.RateLimit.API)
				assert.Equal(t, ratelimit.DefaultReportConfig(), cfg.RateLimit.Reports)
			},
		},
		{
			name: "full config",
			content: `
server:
  listenAddress: ":9090"
  shutdownTimeout: "5s"
  allowedOrigins: ["https://console.example.com"]
auth:
  jwksURL: "https://idp.example.com/certs"
  roleClaim: "groups"
storage:
  driver: postgres
  postgres:
    dsn: "postgres://cp@db/cp"
    maxConns: 8
    maxConnLifetime: "30m"
cache:
  ttl: "2s"
tenants:
  source: file
  file: /etc/cp/tenants.yaml
rateLimit:
  enabled: true
  reports:
    rate: 5
    burst: 10
    maxAge: "1m"
authorization:
  mode: shadow
telemetry:
  enabled: true
  exporter: stdout
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, ":9090", cfg.Server.ListenAddress)
				assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
				assert.Equal(t, 2*time.Second, cfg.CacheTTL())
				assert.Equal(t, "groups", cfg.Auth.RoleClaim)
				pg := cfg.PostgresConfig()
				assert.Equal(t, "postgres://cp@db/cp", pg.DSN)
				assert.Equal(t, int32(8), pg.MaxConns)
				assert.Equal(t, 30*time.Minute, pg.MaxConnLifetime)
				assert.Equal(t, 5.0, cfg.RateLimit.Reports.Rate)
				assert.Equal(t, time.Minute, cfg.RateLimit.Reports.MaxAge)
				ac, err := cfg.AuthorizerConfig()
				require.NoError(t, err)
				assert.Equal(t, authz.ModeShadow, ac.Mode)
				opts := cfg.TelemetryOptions("1.2.3")
				assert.True(t, opts.Enabled)
				assert.Equal(t, "1.2.3", opts.ServiceVersion)
			},
		},
		{
			name:        "missing auth",
			content:     `server: {listenAddress: ":1"}`,
			expectError: "exactly one of jwtSecret and jwksURL",
		},
		{
			name: "both auth methods",
			content: `
auth: {jwtSecret: a, jwksURL: "https://x"}
`,
			expectError: "exactly one of jwtSecret and jwksURL",
		},
		{
			name: "postgres without dsn",
			content: `
auth: {jwtSecret: a}
storage: {driver: postgres}
`,
			expectError: "postgres.dsn is required",
		},
		{
			name: "tenant directory in postgres needs postgres storage",
			content: `
auth: {jwtSecret: a}
tenants: {source: postgres}
`,
			expectError: "requires storage driver postgres",
		},
		{
			name: "bad authorization mode",
			content: `
auth: {jwtSecret: a}
authorization: {mode: yolo}
`,
			expectError: "invalid mode",
		},
		{
			name: "bad audit sink",
			content: `
auth: {jwtSecret: a}
audit:
  sinks:
    - name: hook
      type: webhook
    - name: pigeon
      type: carrier
`,
			expectError: "webhook.url is required",
		},
		{
			name:        "invalid YAML",
			content:     `invalid: yaml: content [`,
			expectError: "error unmarshaling YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			cfg, err := config.Load(path)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "deploy", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "file", cfg.Tenants.Source)
	assert.Len(t, cfg.Audit.Sinks, 2)
	assert.Equal(t, 100, cfg.RateLimit.API.Authenticated.Burst)
	assert.Equal(t, time.Minute, cfg.RateLimit.Reports.CleanupInterval)
}

func TestLoadPathFromEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "cp.yaml", "auth: {jwtSecret: a}\nserver: {listenAddress: \":7070\"}\n")
	t.Setenv(config.EnvConfigPath, path)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddress)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "storage: {driver: postgres}\n")
	t.Setenv(config.EnvDatabaseURL, "postgres://env@db/cp")
	t.Setenv(config.EnvJWTSecret, "from-env")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@db/cp", cfg.Storage.Postgres.DSN)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestParseDurationOrDefault(t *testing.T) {
	def := 30 * time.Second
	assert.Equal(t, def, config.ParseDurationOrDefault("", def))
	assert.Equal(t, 45*time.Second, config.ParseDurationOrDefault("45s", def))
	assert.Equal(t, 2*time.Minute, config.ParseDurationOrDefault("2m", def))
	assert.Equal(t, def, config.ParseDurationOrDefault("not-a-duration", def))
	assert.Equal(t, def, config.ParseDurationOrDefault("0s", def))
	assert.Equal(t, def, config.ParseDurationOrDefault("-5s", def))
}

func TestForwarderConfig(t *testing.T) {
	dir := t.TempDir()
	ca := writeFile(t, dir, "ca.pem", "CA")
	cert := writeFile(t, dir, "tls.crt", "CERT")
	key := writeFile(t, dir, "tls.key", "KEY")

	cfg := config.Config{Audit: config.Audit{
		QueueSize:      50,
		WriteTimeout:   "2s",
		CircuitBreaker: config.CircuitBreaker{FailureThreshold: 9, OpenTimeout: "1m"},
		Sinks: []config.AuditSink{
			{Name: "stdout", Type: "log"},
			{Name: "siem", Type: "webhook", Webhook: &config.WebhookSink{URL: "https://siem", Timeout: "3s"}},
			{Name: "bus", Type: "kafka", Kafka: &config.KafkaSink{
				Brokers: []string{"kafka:9093"},
				Topic:   "audit",
				TLS:     &config.KafkaTLS{Enabled: true, CAFile: ca, CertFile: cert, KeyFile: key},
				SASL:    &config.KafkaSASL{Mechanism: "PLAIN", Username: "u", Password: "p"},
			}},
		},
	}}

	fc, err := cfg.ForwarderConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, fc.Queue.QueueSize)
	assert.Equal(t, 2*time.Second, fc.Queue.WriteTimeout)
	assert.Equal(t, 9, fc.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, fc.CircuitBreaker.OpenTimeout)
	require.Len(t, fc.Sinks, 3)
	assert.Equal(t, audit.SinkTypeLog, fc.Sinks[0].Type)
	assert.Equal(t, 3*time.Second, fc.Sinks[1].Webhook.Timeout)
	k := fc.Sinks[2].Kafka
	require.NotNil(t, k)
	assert.Equal(t, []byte("CA"), k.TLS.CACert)
	assert.Equal(t, []byte("CERT"), k.TLS.ClientCert)
	assert.Equal(t, []byte("KEY"), k.TLS.ClientKey)
	assert.Equal(t, "PLAIN", k.SASL.Mechanism)
}

func TestForwarderConfigMissingTLSFile(t *testing.T) {
	cfg := config.Config{Audit: config.Audit{Sinks: []config.AuditSink{{
		Name: "bus", Type: "kafka",
		Kafka: &config.KafkaSink{Brokers: []string{"k:9092"}, Topic: "a", TLS: &config.KafkaTLS{Enabled: true, CAFile: "/nope/ca.pem"}},
	}}}}
	_, err := cfg.ForwarderConfig()
	assert.Error(t, err)
}
