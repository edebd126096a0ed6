package btchat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "btchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, DefaultMaxTokens, cfg.Provider.MaxTokens)
	assert.Equal(t, 0.3, cfg.Provider.Temperature)
	assert.Equal(t, BackendAuto, cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, string(ModeAuto), cfg.Engine.DefaultMode)
	assert.True(t, cfg.Observability.Metrics.Enabled)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: gemini
  model: gemini-2.5-pro
  timeout: 30s
  max_tokens: 0
store:
  backend: sqlite
  sqlite_path: /tmp/bt.db
engine:
  default_mode: chat
observability:
  logging:
    level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Provider.Name)
	assert.Equal(t, "gemini-2.5-pro", cfg.Provider.Model)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, DefaultMaxTokens, cfg.Provider.MaxTokens)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/bt.db", cfg.Store.SQLitePath)
	assert.Equal(t, "chat", cfg.Engine.DefaultMode)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-dashscope")
	t.Setenv("DATABASE_URL", "postgres://localhost/bt")
	t.Setenv("MODEL_ID", "qwen-plus")
	t.Setenv("BTCHAT_SERVER_ADDR", ":9090")
	path := writeConfig(t, "provider:\n  name: openai\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-dashscope", cfg.Provider.APIKey)
	assert.Equal(t, "postgres://localhost/bt", cfg.Store.DatabaseURL)
	assert.Equal(t, "qwen-plus", cfg.Provider.Model)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "engine:\n  default_mode: rewrite\n"))
	assert.Error(t, err)
}

func TestAppConfig_YAMLMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-1234567890abcdef"
	cfg.Store.DatabaseURL = "postgres://bt:secret@db:5432/bt"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-1234567890abcdef")
	assert.Contains(t, out, "sk-12345...cdef")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "bt:xxxxx@db:5432")
}

func TestStoreConfig_BackendFor(t *testing.T) {
	cases := []struct {
		backend     string
		longRunning bool
		want        string
	}{
		{BackendAuto, true, "memory"},
		{BackendAuto, false, "sqlite"},
		{"", false, "sqlite"},
		{"memory", false, "memory"},
		{"postgres", true, "postgres"},
		{"sqlite", true, "sqlite"},
	}
	for _, c := range cases {
		got := StoreConfig{Backend: c.backend}.BackendFor(c.longRunning)
		assert.Equal(t, c.want, got, "%q long-running=%v", c.backend, c.longRunning)
	}
}
