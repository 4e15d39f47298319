package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chanina.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "localhost:6379", cfg.Broker)
	assert.Equal(t, "default", cfg.Queue)
	assert.Equal(t, "firefox", cfg.Browser)
	assert.True(t, cfg.SessionOn())
	assert.True(t, cfg.HeadlessOn())
	assert.Equal(t, 45*time.Second, cfg.LockAcquireTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.LockHoldTimeout.Std())
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker: "redis-main:6379"
backend: "redis-results:6379"
queue: "scraping"
browser: "chrome"
session_enabled: false
headless: false
lock_acquire_timeout: "10s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis-main:6379", cfg.Broker)
	assert.Equal(t, "redis-results:6379", cfg.BackendAddr())
	assert.Equal(t, "redis-main:6379", cfg.LockStoreAddr(), "lock store falls back to broker")
	assert.Equal(t, "scraping", cfg.Queue)
	assert.Equal(t, "chrome", cfg.Browser)
	assert.False(t, cfg.SessionOn())
	assert.False(t, cfg.HeadlessOn())
	assert.Equal(t, 10*time.Second, cfg.LockAcquireTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.LockHoldTimeout.Std(), "unset fields keep defaults")
}

func TestLoadResolvesRelativeProfilePath(t *testing.T) {
	path := writeConfig(t, `profile_path: "profiles/default"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.ProfilePath))
	assert.Equal(t, filepath.Join(filepath.Dir(path), "profiles", "default"), cfg.ProfilePath)
}

func TestLoadKeepsAbsoluteProfilePath(t *testing.T) {
	path := writeConfig(t, `profile_path: "/srv/profiles/default"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/profiles/default", cfg.ProfilePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty broker", mutate: func(c *Config) { c.Broker = "" }},
		{name: "unknown browser", mutate: func(c *Config) { c.Browser = "safari" }},
		{name: "zero acquire timeout", mutate: func(c *Config) { c.LockAcquireTimeout = 0 }},
		{name: "zero hold timeout", mutate: func(c *Config) { c.LockHoldTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeConfig(t, `lock_acquire_timeout: "soon"`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
