// Package config reads and writes the cpctl client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	VersionV1 = "v1"

	defaultConfigDirName = "cpctl"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "tokens.json"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentContext string    `yaml:"current-context,omitempty"`
	Contexts       []Context `yaml:"contexts,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	// TokenStorage is "keychain" or "file". Empty tries the keychain first.
	TokenStorage string `yaml:"token-storage,omitempty"`
	Timeout      string `yaml:"timeout,omitempty"`
}

// Context names one control plane deployment and how to log in to it.
type Context struct {
	Name                  string   `yaml:"name"`
	Server                string   `yaml:"server"`
	CAFile                string   `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify bool     `yaml:"insecure-skip-tls-verify,omitempty"`
	TokenURL              string   `yaml:"token-url,omitempty"`
	ClientID              string   `yaml:"client-id,omitempty"`
	ClientSecretEnv       string   `yaml:"client-secret-env,omitempty"`
	Scopes                []string `yaml:"scopes,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:  VersionV1,
		Settings: Settings{OutputFormat: "table"},
	}
}

func DefaultConfigPath() string {
	if env := os.Getenv("CPCTL_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(baseDir(), defaultConfigFile)
}

func DefaultTokenPath() string {
	return filepath.Join(baseDir(), defaultTokenFile)
}

func baseDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName)
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindContext(name string) (*Context, error) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i], nil
		}
	}
	return nil, fmt.Errorf("context not found: %s", name)
}

func (c *Config) CurrentContextOrDefault() string {
	if c.CurrentContext != "" {
		return c.CurrentContext
	}
	if len(c.Contexts) > 0 {
		return c.Contexts[0].Name
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	seen := map[string]bool{}
	for _, ctx := range c.Contexts {
		if strings.TrimSpace(ctx.Name) == "" {
			return errors.New("context name cannot be empty")
		}
		if seen[ctx.Name] {
			return fmt.Errorf("duplicate context %s", ctx.Name)
		}
		seen[ctx.Name] = true
		if strings.TrimSpace(ctx.Server) == "" {
			return fmt.Errorf("context %s server is required", ctx.Name)
		}
	}
	if c.CurrentContext != "" {
		if _, err := c.FindContext(c.CurrentContext); err != nil {
			return fmt.Errorf("current-context: %w", err)
		}
	}
	switch c.Settings.TokenStorage {
	case "", "keychain", "file":
	default:
		return fmt.Errorf("unknown token-storage %q", c.Settings.TokenStorage)
	}
	return nil
}
