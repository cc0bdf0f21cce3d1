// Package logger provides structured logging for wamux.
// It wraps Go's slog package behind a small interface so that the
// session lifecycle code can log without caring about handler setup.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the interface used throughout wamux for structured logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)
	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)
	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)
	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)
	// With returns a new Logger with additional context fields
	With(args ...any) Logger
}

// slogLogger wraps slog.Logger to implement our Logger interface
type slogLogger struct {
	logger *slog.Logger
}

// New creates a new Logger with the specified configuration
func New(opts ...Option) Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		output: os.Stderr,
		format: FormatText,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: cfg.level,
	}

	var handler slog.Handler
	switch cfg.format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	default:
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	}

	return &slogLogger{
		logger: slog.New(handler),
	}
}

// Nop returns a no-op logger that discards all log messages
func Nop() Logger {
	return &slogLogger{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Default returns a default logger that writes to stderr
func Default() Logger {
	return New()
}

// Debug implements Logger
func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info implements Logger
func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn implements Logger
func (l *slogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error implements Logger
func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// With implements Logger
func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{
		logger: l.logger.With(args...),
	}
}
