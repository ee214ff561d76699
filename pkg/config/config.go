package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/authz"
	"github.com/telekom/tenant-control-plane/pkg/mail"
	"github.com/telekom/tenant-control-plane/pkg/ratelimit"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/telemetry"
)

const (
	DefaultConfigPath      = "./config.yaml"
	DefaultListenAddress   = ":8080"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCacheTTL        = 5 * time.Second
)

// Environment variables that override secrets in the file.
const (
	EnvConfigPath   = "CONTROLPLANE_CONFIG_PATH"
	EnvDatabaseURL  = "CONTROLPLANE_DATABASE_URL"
	EnvJWTSecret    = "CONTROLPLANE_JWT_SECRET"
	EnvMailPassword = "CONTROLPLANE_MAIL_PASSWORD"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
	AllowedOrigins []string `yaml:"allowedOrigins"` // CORS origins; empty disables CORS outside debug
	// ShutdownTimeout bounds graceful shutdown (e.g. "30s").
	ShutdownTimeout   string `yaml:"shutdownTimeout"`
	ReadHeaderTimeout string `yaml:"readHeaderTimeout"`
}

// Auth configures bearer token validation. Exactly one of JWTSecret and
// JWKSURL must be set.
type Auth struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWKSURL   string `yaml:"jwksURL"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	// RoleClaim names a string or string array claim holding roles. Roles are
	// also read from realm_access.roles.
	RoleClaim string `yaml:"roleClaim"`
	// JWKSRefreshInterval controls background key refresh (e.g. "1h").
	JWKSRefreshInterval string `yaml:"jwksRefreshInterval"`
}

type Postgres struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"maxConns"`
	MinConns        int32  `yaml:"minConns"`
	MaxConnLifetime string `yaml:"maxConnLifetime"`
	// Migrate applies the schema on startup.
	Migrate bool `yaml:"migrate"`
}

type Storage struct {
	// Driver is "memory" (default) or "postgres".
	Driver   string   `yaml:"driver"`
	Postgres Postgres `yaml:"postgres"`
}

type Cache struct {
	// TTL of cached reads (e.g. "5s"). Writes always invalidate.
	TTL string `yaml:"ttl"`
}

type Tenants struct {
	// Source is "static" (default), "file" or "postgres".
	Source string   `yaml:"source"`
	File   string   `yaml:"file"`
	Static []string `yaml:"static"`
	// ReloadInterval re-reads the tenant file (e.g. "1m"); empty disables.
	ReloadInterval string `yaml:"reloadInterval"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type KafkaSink struct {
	Brokers          []string   `yaml:"brokers"`
	Topic            string     `yaml:"topic"`
	TLS              *KafkaTLS  `yaml:"tls"`
	SASL             *KafkaSASL `yaml:"sasl"`
	BatchSize        int        `yaml:"batchSize"`
	BatchTimeout     string     `yaml:"batchTimeout"`
	RequiredAcks     int        `yaml:"requiredAcks"`
	CompressionCodec string     `yaml:"compression"`
}

type WebhookSink struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

type AuditSink struct {
	Name    string       `yaml:"name"`
	Type    string       `yaml:"type"`
	Webhook *WebhookSink `yaml:"webhook"`
	Kafka   *KafkaSink   `yaml:"kafka"`
}

type CircuitBreaker struct {
	FailureThreshold int    `yaml:"failureThreshold"`
	SuccessThreshold int    `yaml:"successThreshold"`
	OpenTimeout      string `yaml:"openTimeout"`
}

// Audit configures the secondary sinks audit entries are forwarded to.
type Audit struct {
	QueueSize      int            `yaml:"queueSize"`
	Workers        int            `yaml:"workers"`
	WriteTimeout   string         `yaml:"writeTimeout"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
	Sinks          []AuditSink    `yaml:"sinks"`
}

type RateLimit struct {
	Enabled bool                  `yaml:"enabled"`
	API     ratelimit.ActorConfig `yaml:"api"`
	Reports ratelimit.Config      `yaml:"reports"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Authorization struct {
	// Mode is "enforce" (default), "shadow" or "disabled".
	Mode       string `yaml:"mode"`
	ModelPath  string `yaml:"modelPath"`
	PolicyPath string `yaml:"policyPath"`
}

type Config struct {
	Server        Server        `yaml:"server"`
	Auth          Auth          `yaml:"auth"`
	Storage       Storage       `yaml:"storage"`
	Cache         Cache         `yaml:"cache"`
	Tenants       Tenants       `yaml:"tenants"`
	Audit         Audit         `yaml:"audit"`
	Notifications mail.Config   `yaml:"notifications"`
	RateLimit     RateLimit     `yaml:"rateLimit"`
	Telemetry     Telemetry     `yaml:"telemetry"`
	Authorization Authorization `yaml:"authorization"`
}

// Load loads the control plane configuration from a file path.
// If configPath is empty, CONTROLPLANE_CONFIG_PATH and then "./config.yaml" are used.
func Load(configPath ...string) (Config, error) {
	path := DefaultConfigPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open control plane config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvMailPassword); v != "" {
		c.Notifications.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Tenants.Source == "" {
		c.Tenants.Source = "static"
	}
	if c.RateLimit.API == (ratelimit.ActorConfig{}) {
		c.RateLimit.API = ratelimit.DefaultActorConfig()
	}
	if c.RateLimit.Reports == (ratelimit.Config{}) {
		c.RateLimit.Reports = ratelimit.DefaultReportConfig()
	}
	if c.Auth.RoleClaim == "" {
		c.Auth.RoleClaim = "roles"
	}
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	var errs []error
	if (c.Auth.JWTSecret == "") == (c.Auth.JWKSURL == "") {
		errs = append(errs, errors.New("auth: exactly one of jwtSecret and jwksURL must be set"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			errs = append(errs, errors.New("storage: postgres.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	switch c.Tenants.Source {
	case "static":
	case "file":
		if c.Tenants.File == "" {
			errs = append(errs, errors.New("tenants: file is required for source file"))
		}
	case "postgres":
		if c.Storage.Driver != "postgres" {
			errs = append(errs, errors.New("tenants: source postgres requires storage driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("tenants: unknown source %q", c.Tenants.Source))
	}
	if _, err := authz.ParseMode(c.Authorization.Mode); err != nil {
		errs = append(errs, err)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server: tlsCertFile and tlsKeyFile must be set together"))
	}
	for i, s := range c.Audit.Sinks {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("audit.sinks[%d]: name is required", i))
		}
		switch audit.SinkType(s.Type) {
		case audit.SinkTypeLog:
		case audit.SinkTypeWebhook:
			if s.Webhook == nil || s.Webhook.URL == "" {
				errs = append(errs, fmt.Errorf("audit.sinks[%d]: webhook.url is required", i))
			}
		case audit.SinkTypeKafka:
			if s.Kafka == nil || len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
				errs = append(errs, fmt.Errorf("audit.sinks[%d]: kafka.brokers and kafka.topic are required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("audit.sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	if err := c.Notifications.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseDurationOrDefault parses value, falling back to def when value is
// empty, invalid or not positive.
func ParseDurationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CacheTTL returns the configured read cache TTL.
func (c Config) CacheTTL() time.Duration {
	return ParseDurationOrDefault(c.Cache.TTL, DefaultCacheTTL)
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c Config) ShutdownTimeout() time.Duration {
	return ParseDurationOrDefault(c.Server.ShutdownTimeout, DefaultShutdownTimeout)
}

// ReadHeaderTimeout returns the HTTP server read header timeout.
func (c Config) ReadHeaderTimeout() time.Duration {
	return ParseDurationOrDefault(c.Server.ReadHeaderTimeout, 10*time.Second)
}

// PostgresConfig converts the storage section.
func (c Config) PostgresConfig() storage.PostgresConfig {
	return storage.PostgresConfig{
		DSN:             c.Storage.Postgres.DSN,
		MaxConns:        c.Storage.Postgres.MaxConns,
		MinConns:        c.Storage.Postgres.MinConns,
		MaxConnLifetime: ParseDurationOrDefault(c.Storage.Postgres.MaxConnLifetime, time.Hour),
	}
}

// AuthorizerConfig converts the authorization section.
func (c Config) AuthorizerConfig() (authz.Config, error) {
	mode, err := authz.ParseMode(c.Authorization.Mode)
	if err != nil {
		return authz.Config{}, err
	}
	return authz.Config{Mode: mode, ModelPath: c.Authorization.ModelPath, PolicyPath: c.Authorization.PolicyPath}, nil
}

// TelemetryOptions converts the telemetry section.
func (c Config) TelemetryOptions(version string) telemetry.Options {
	return telemetry.Options{
		Enabled:        c.Telemetry.Enabled,
		ServiceVersion: version,
		Exporter:       c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}

// ForwarderConfig converts the audit section, reading Kafka TLS material
// from disk.
func (c Config) ForwarderConfig() (audit.ForwarderConfig, error) {
	queue := audit.DefaultQueuedSinkConfig()
	if c.Audit.QueueSize > 0 {
		queue.QueueSize = c.Audit.QueueSize
	}
	if c.Audit.Workers > 0 {
		queue.WorkerCount = c.Audit.Workers
	}
	queue.WriteTimeout = ParseDurationOrDefault(c.Audit.WriteTimeout, queue.WriteTimeout)

	cb := audit.DefaultCircuitBreakerConfig()
	if c.Audit.CircuitBreaker.FailureThreshold > 0 {
		cb.FailureThreshold = c.Audit.CircuitBreaker.FailureThreshold
	}
	if c.Audit.CircuitBreaker.SuccessThreshold > 0 {
		cb.SuccessThreshold = c.Audit.CircuitBreaker.SuccessThreshold
	}
	cb.OpenTimeout = ParseDurationOrDefault(c.Audit.CircuitBreaker.OpenTimeout, cb.OpenTimeout)

	out := audit.ForwarderConfig{Queue: queue, CircuitBreaker: cb}
	for _, s := range c.Audit.Sinks {
		sc := audit.SinkConfig{Name: s.Name, Type: audit.SinkType(s.Type)}
		switch sc.Type {
		case audit.SinkTypeWebhook:
			if s.Webhook != nil {
				sc.Webhook = &audit.WebhookSinkConfig{
					Name:    s.Name,
					URL:     s.Webhook.URL,
					Headers: s.Webhook.Headers,
					Timeout: ParseDurationOrDefault(s.Webhook.Timeout, 5*time.Second),
				}
			}
		case audit.SinkTypeKafka:
			if s.Kafka != nil {
				kc, err := kafkaSinkConfig(s.Name, *s.Kafka)
				if err != nil {
					return audit.ForwarderConfig{}, fmt.Errorf("audit sink %s: %w", s.Name, err)
				}
				sc.Kafka = kc
			}
		}
		out.Sinks = append(out.Sinks, sc)
	}
	return out, nil
}

func kafkaSinkConfig(name string, k KafkaSink) (*audit.KafkaSinkConfig, error) {
	kc := &audit.KafkaSinkConfig{
		Name:             name,
		Brokers:          k.Brokers,
		Topic:            k.Topic,
		BatchSize:        k.BatchSize,
		BatchTimeout:     ParseDurationOrDefault(k.BatchTimeout, 0),
		RequiredAcks:     k.RequiredAcks,
		CompressionCodec: k.CompressionCodec,
	}
	if k.SASL != nil {
		kc.SASL = &audit.KafkaSASLConfig{Mechanism: k.SASL.Mechanism, Username: k.SASL.Username, Password: k.SASL.Password}
	}
	if k.TLS != nil && k.TLS.Enabled {
		tlsCfg := &audit.KafkaTLSConfig{Enabled: true, InsecureSkipVerify: k.TLS.InsecureSkipVerify}
		var err error
		if tlsCfg.CACert, err = readOptional(k.TLS.CAFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientCert, err = readOptional(k.TLS.CertFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientKey, err = readOptional(k.TLS.KeyFile); err != nil {
			return nil, err
		}
		kc.TLS = tlsCfg
	}
	return kc, nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return b, nil
}
