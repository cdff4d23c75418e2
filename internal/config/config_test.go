package config

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Privacy.Enabled)
	assert.Equal(t, []string{"all"}, cfg.Privacy.Detectors)
	assert.Equal(t, 50, cfg.Notifications.MaxKept)
	assert.Contains(t, cfg.Chat.EscalationKeywords, "supervisor")
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
privacy:
  detectors: ["phone", "email"]
logging:
  level: debug
  format: console
redis:
  url: redis://localhost:6379/0
notifications:
  max_kept: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"phone", "email"}, cfg.Privacy.Detectors)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 10, cfg.Notifications.MaxKept)
	// untouched sections keep their defaults
	assert.Equal(t, "restaurant_chat", cfg.Redis.KeyPrefix)
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("CHAT_DATABASE_URL", "postgres://chat@localhost/chat")
	t.Setenv("CHAT_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://chat@localhost/chat", cfg.Database.URL)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadPort", func(c *Config) { c.Server.Port = 70000 }},
		{"BadLevel", func(c *Config) { c.Logging.Level = "trace" }},
		{"BadFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"NoDetectors", func(c *Config) { c.Privacy.Detectors = nil }},
		{"BadRateLimit", func(c *Config) { c.RateLimit.RequestsPerMin = 0 }},
		{"BadMaxKept", func(c *Config) { c.Notifications.MaxKept = 0 }},
	}

	require.NoError(t, validateConfig(GetDefaults()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: loud\n")
	_, err := Load(path)
	assert.Error(t, err)
}
