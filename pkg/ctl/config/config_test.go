package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.CurrentContext = "prod"
	cfg.Contexts = []Context{
		{Name: "dev", Server: "http://localhost:8080"},
		{Name: "prod", Server: "https://control.example.com", TokenURL: "https://idp.example.com/token", ClientID: "cpctl", Scopes: []string{"openid"}},
	}
	require.NoError(t, Save(path, &cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)

	ctx, err := loaded.FindContext(loaded.CurrentContextOrDefault())
	require.NoError(t, err)
	assert.Equal(t, "https://control.example.com", ctx.Server)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":             "version: [",
		"unknown version":      "version: v9\n",
		"missing server":       "contexts:\n- name: dev\n",
		"duplicate context":    "contexts:\n- {name: a, server: http://x}\n- {name: a, server: http://y}\n",
		"dangling current":     "current-context: prod\ncontexts:\n- {name: dev, server: http://x}\n",
		"bad token storage":    "settings:\n  token-storage: floppy\n",
		"context without name": "contexts:\n- server: http://x\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestCurrentContextOrDefault(t *testing.T) {
	cfg := Config{}
	assert.Empty(t, cfg.CurrentContextOrDefault())
	cfg.Contexts = []Context{{Name: "first", Server: "http://x"}, {Name: "second", Server: "http://y"}}
	assert.Equal(t, "first", cfg.CurrentContextOrDefault())
	cfg.CurrentContext = "second"
	assert.Equal(t, "second", cfg.CurrentContextOrDefault())
}

func TestDefaultConfigPath_Env(t *testing.T) {
	t.Setenv("CPCTL_CONFIG", "/tmp/cpctl.yaml")
	assert.Equal(t, "/tmp/cpctl.yaml", DefaultConfigPath())
}
