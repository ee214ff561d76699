package cli

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// Application flags
	Debug bool

	// Configuration flags
	ConfigPath string
	// ListenAddress overrides server.listenAddress when set.
	ListenAddress string
	EnableHTTP2   bool

	// Component flags
	DisableEmail      bool
	DisableRateLimit  bool
	MigrateOnStartup  bool
	TenantReloadEvery string
}

// Parse parses os.Args into a Config using the global flag set.
func Parse() *Config {
	config, err := ParseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		// flag.ExitOnError already exited for the global set
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return config
}

// ParseArgs defines the flags on fs and parses args.
// The pattern: fs.XxxVar(&variable, "flag-name", defaultValueOrEnvValue, "help text")
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	config := &Config{}
	fs.BoolVar(&config.Debug, "debug", getEnvBool("CONTROLPLANE_DEBUG", false), "Enable debug level logging")

	fs.StringVar(&config.ConfigPath, "config-path", getEnvString("CONTROLPLANE_CONFIG_PATH", "./config.yaml"),
		"Path to the control plane configuration file")
	fs.StringVar(&config.ListenAddress, "listen-address", getEnvString("CONTROLPLANE_LISTEN_ADDRESS", ""),
		"Address the API server binds to (host:port). Overrides server.listenAddress")
	fs.BoolVar(&config.EnableHTTP2, "enable-http2", getEnvBool("ENABLE_HTTP2", false),
		"If set, HTTP/2 will be enabled for the API server")

	fs.BoolVar(&config.DisableEmail, "disable-email", getEnvBool("CONTROLPLANE_DISABLE_EMAIL", false),
		"Disable email notifications for critical failures")
	fs.BoolVar(&config.DisableRateLimit, "disable-rate-limit", getEnvBool("CONTROLPLANE_DISABLE_RATE_LIMIT", false),
		"Disable API rate limiting regardless of configuration")
	fs.BoolVar(&config.MigrateOnStartup, "migrate", getEnvBool("CONTROLPLANE_MIGRATE", false),
		"Apply the Postgres schema on startup. Also enabled by storage.postgres.migrate")
	fs.StringVar(&config.TenantReloadEvery, "tenant-reload-interval", getEnvString("CONTROLPLANE_TENANT_RELOAD_INTERVAL", ""),
		"Interval for re-reading the tenant file (e.g. '1m'). Overrides tenants.reloadInterval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"listen_address", c.ListenAddress,
		"enable_http2", c.EnableHTTP2,
		"disable_email", c.DisableEmail,
		"disable_rate_limit", c.DisableRateLimit,
		"migrate", c.MigrateOnStartup,
		"tenant_reload_interval", c.TenantReloadEvery,
	)
}

// DisableHTTP2 is used to configure TLS options to disable HTTP/2.
// This is important because HTTP/2 has known vulnerabilities (CVE-2023-44487, CVE-2024-3156).
func DisableHTTP2(c *tls.Config) {
	c.NextProtos = []string{"http/1.1"}
}

// ParseTenantReloadInterval returns the flag value when valid, else fallback.
func ParseTenantReloadInterval(interval string, fallback time.Duration, log *zap.SugaredLogger) time.Duration {
	d, err := parseDuration("tenant-reload-interval", interval, fallback)
	if err != nil {
		log.Warn(err)
	}
	return d
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
