// Package server is the HTTP surface over the session lifecycle core. It is
// deliberately thin: routing, auth, CORS and status mapping only — every
// decision about sessions belongs to the manager behind the Service
// interface.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/config"
	"github.com/aki/wamux/internal/core/logger"
	"github.com/aki/wamux/internal/core/session"
)

// Service is the slice of the session manager the HTTP layer needs.
type Service interface {
	Init(ctx context.Context, key session.Key) (*session.InitResult, error)
	Status(key session.Key) session.StatusInfo
	Send(ctx context.Context, key session.Key, to, content string) (string, error)
	Chats(ctx context.Context, key session.Key) ([]automation.Chat, error)
	Messages(ctx context.Context, key session.Key, chatID string, limit int) ([]automation.Message, error)
	Disconnect(ctx context.Context, key session.Key)
	ActiveSessions() int
	Sessions() []session.Snapshot
}

// Server hosts the HTTP API.
type Server struct {
	cfg *config.Config
	svc Service
	log logger.Logger

	httpServer *http.Server
}

// Option is a function that configures a Server
type Option func(*Server)

// WithLogger sets the logger for the Server
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a Server for svc bound per cfg.
func New(cfg *config.Config, svc Service, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed, middleware-wrapped handler. Exposed separately
// from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /init", s.handleInit)
	mux.HandleFunc("GET /status/{key}", s.handleStatus)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /chats/{key}", s.handleChats)
	mux.HandleFunc("GET /messages/{key}/{chatID}", s.handleMessages)
	mux.HandleFunc("POST /disconnect/{key}", s.handleDisconnect)
	mux.HandleFunc("GET /sessions", s.handleSessions)

	var h http.Handler = mux
	h = s.authMiddleware(h)
	h = s.corsMiddleware(h)
	return h
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.log.Info("http server listening", "addr", s.cfg.ListenAddr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
