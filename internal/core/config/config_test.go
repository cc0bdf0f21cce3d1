package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxSessions)
	assert.Equal(t, 3*time.Minute, cfg.PairingTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.TeardownGrace)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WAMUX_LISTEN_ADDR", ":8080")
	t.Setenv("WAMUX_MAX_SESSIONS", "3")
	t.Setenv("WAMUX_PAIRING_TIMEOUT", "45s")
	t.Setenv("WAMUX_AUTH_TOKEN", "secret")
	t.Setenv("WAMUX_SINK_URL", "https://example.test/webhook")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 45*time.Second, cfg.PairingTimeout)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, "https://example.test/webhook", cfg.SinkURL)
}

func TestFromEnvInvalidValues(t *testing.T) {
	t.Setenv("WAMUX_MAX_SESSIONS", "many")

	_, err := FromEnv()
	assert.Error(t, err)

	os.Unsetenv("WAMUX_MAX_SESSIONS")
	t.Setenv("WAMUX_SWEEP_INTERVAL", "sometimes")

	_, err = FromEnv()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wamux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: \":9000\"\nmax_sessions: 2\npairing_timeout: 1m\n"), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.MaxSessions)
	assert.Equal(t, time.Minute, cfg.PairingTimeout)
	// Untouched fields keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero max sessions", func(c *Config) { c.MaxSessions = 0 }, false},
		{"negative grace", func(c *Config) { c.TeardownGrace = -time.Second }, false},
		{"zero pairing timeout", func(c *Config) { c.PairingTimeout = 0 }, false},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }, false},
		{"empty runner command", func(c *Config) { c.RunnerCommand = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
