// Package config holds the wamux service configuration.
// Settings come from environment variables (WAMUX_*), optionally overridden
// by a YAML config file passed on the command line.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the session lifecycle knobs.
const (
	DefaultListenAddr       = ":3000"
	DefaultMaxSessions      = 10
	DefaultPairingTimeout   = 3 * time.Minute
	DefaultSweepInterval    = 5 * time.Minute
	DefaultTeardownGrace    = 2 * time.Second
	DefaultRunnerTimeout    = 90 * time.Second
	DefaultAllowedOrigins   = "*"
	DefaultRunnerCommand    = "wamux-runner"
	DefaultWorkRootPattern  = "wamux-work"
	DefaultCredentialSubdir = ".wamux_auth"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `yaml:"listen_addr"`

	// AuthToken is the bearer token required on every endpoint except
	// the health checks. Empty disables authentication (dev only).
	AuthToken string `yaml:"auth_token"`

	// AllowedOrigins is the CORS allow list ("*" or a comma-separated list).
	AllowedOrigins string `yaml:"allowed_origins"`

	// MaxSessions caps the number of concurrently connected sessions.
	MaxSessions int `yaml:"max_sessions"`

	// PairingTimeout bounds how long a session may sit in AwaitingPairing
	// before it is evicted.
	PairingTimeout time.Duration `yaml:"pairing_timeout"`

	// SweepInterval is the period of the stale-session reconciliation pass.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TeardownGrace is how long teardown waits after releasing resources so
	// the external process can drop file locks before a same-key recreate.
	TeardownGrace time.Duration `yaml:"teardown_grace"`

	// WorkRoot is where per-session browser work directories live.
	WorkRoot string `yaml:"work_root"`

	// CredentialRoot is where per-session credential entries live.
	CredentialRoot string `yaml:"credential_root"`

	// SinkURL receives message and connection event notifications.
	SinkURL string `yaml:"sink_url"`

	// SinkSecret is the bearer secret sent with sink notifications.
	SinkSecret string `yaml:"sink_secret"`

	// RunnerCommand is the external browser-runner binary started per session.
	RunnerCommand string `yaml:"runner_command"`

	// RunnerStartTimeout bounds how long Init waits for the runner to surface
	// a pairing artifact.
	RunnerStartTimeout time.Duration `yaml:"runner_start_timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		ListenAddr:         DefaultListenAddr,
		AllowedOrigins:     DefaultAllowedOrigins,
		MaxSessions:        DefaultMaxSessions,
		PairingTimeout:     DefaultPairingTimeout,
		SweepInterval:      DefaultSweepInterval,
		TeardownGrace:      DefaultTeardownGrace,
		WorkRoot:           os.TempDir(),
		CredentialRoot:     DefaultCredentialSubdir,
		RunnerCommand:      DefaultRunnerCommand,
		RunnerStartTimeout: DefaultRunnerTimeout,
	}
}

// FromEnv returns a Config built from defaults overlaid with WAMUX_*
// environment variables.
func FromEnv() (*Config, error) {
	cfg := Default()

	setString(&cfg.ListenAddr, "WAMUX_LISTEN_ADDR")
	setString(&cfg.AuthToken, "WAMUX_AUTH_TOKEN")
	setString(&cfg.AllowedOrigins, "WAMUX_ALLOWED_ORIGINS")
	setString(&cfg.WorkRoot, "WAMUX_WORK_ROOT")
	setString(&cfg.CredentialRoot, "WAMUX_CREDENTIAL_ROOT")
	setString(&cfg.SinkURL, "WAMUX_SINK_URL")
	setString(&cfg.SinkSecret, "WAMUX_SINK_SECRET")
	setString(&cfg.RunnerCommand, "WAMUX_RUNNER_COMMAND")

	if err := setInt(&cfg.MaxSessions, "WAMUX_MAX_SESSIONS"); err != nil {
		return nil, err
	}
	for _, d := range []struct {
		dst *time.Duration
		env string
	}{
		{&cfg.PairingTimeout, "WAMUX_PAIRING_TIMEOUT"},
		{&cfg.SweepInterval, "WAMUX_SWEEP_INTERVAL"},
		{&cfg.TeardownGrace, "WAMUX_TEARDOWN_GRACE"},
		{&cfg.RunnerStartTimeout, "WAMUX_RUNNER_START_TIMEOUT"},
	} {
		if err := setDuration(d.dst, d.env); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFile overlays settings from a YAML file onto the receiver.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.PairingTimeout <= 0 {
		return fmt.Errorf("pairing_timeout must be positive, got %s", c.PairingTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.TeardownGrace < 0 {
		return fmt.Errorf("teardown_grace must not be negative, got %s", c.TeardownGrace)
	}
	if c.RunnerCommand == "" {
		return fmt.Errorf("runner_command must not be empty")
	}
	return nil
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	*dst = d
	return nil
}
