package commands

import (
	"fmt"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/config"
	"github.com/aki/wamux/internal/core/logger"
	"github.com/aki/wamux/internal/core/session"
	"github.com/aki/wamux/internal/credstore"
	"github.com/aki/wamux/internal/webhook"
)

// loadConfig builds the configuration from the environment, overlaid with
// the optional YAML file.
func loadConfig(file string) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := cfg.LoadFile(file); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildManager wires credential store, runner factory and event sink into a
// session manager.
func buildManager(cfg *config.Config, log logger.Logger) (*session.Manager, error) {
	creds, err := credstore.New(cfg.CredentialRoot, log)
	if err != nil {
		return nil, err
	}

	factory := &automation.RunnerFactory{
		Command:        cfg.RunnerCommand,
		CredentialRoot: cfg.CredentialRoot,
		Log:            log,
	}

	sink := webhook.New(cfg.SinkURL, cfg.SinkSecret)

	return session.NewManager(cfg, factory, creds,
		session.WithLogger(log),
		session.WithSink(sink),
	), nil
}
