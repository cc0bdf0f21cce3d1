package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aki/wamux/internal/core/logger"
)

// Global flags for logging configuration
var (
	flagLogLevel  string
	flagLogFormat string
)

// RegisterLoggerFlags registers global logging flags
func RegisterLoggerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
}

// CreateLogger creates a logger based on CLI flags
func CreateLogger() logger.Logger {
	var level slog.Level
	switch flagLogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var format logger.Format
	switch flagLogFormat {
	case "json":
		format = logger.FormatJSON
	default:
		format = logger.FormatText
	}

	return logger.New(
		logger.WithLevel(level),
		logger.WithFormat(format),
	)
}
