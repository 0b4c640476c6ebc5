// Package server exposes the OpenAI-compatible HTTP surface and
// orchestrates each request across the session tracker, the translator, and
// the backend process adapter.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/config"
	"github.com/claudeway/claudeway/internal/session"
)

// ErrServerClosed is returned when the server is closed.
var ErrServerClosed = http.ErrServerClosed

// Server binds the gateway to a TCP address.
type Server struct {
	Addr string

	h       *http.Server
	cfg     *config.Config
	agent   claude.Runner
	tracker *session.Tracker
	logger  *slog.Logger
}

// SetLogger sets the logger for request/response logging.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// NewServer wires the HTTP surface. The agent is an interface so tests can
// substitute a deterministic stub for the real subprocess client.
func NewServer(cfg *config.Config, agent claude.Runner, tracker *session.Tracker) *Server {
	s := &Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		cfg:     cfg,
		agent:   agent,
		tracker: tracker,
	}

	c := &controllerV1{Server: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", c.handleGetHealth)
	mux.HandleFunc("GET /v1/models", c.handleGetModels)
	mux.HandleFunc("POST /v1/chat/completions", c.handlePostChatCompletions)
	mux.HandleFunc("GET /v1/sessions", c.handleGetSessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", c.handleDeleteSession)
	// Method mismatches fall through to the same 404 envelope as unknown
	// paths; the method-specific patterns above take precedence.
	mux.HandleFunc("/health", c.handleNotFound)
	mux.HandleFunc("/v1/models", c.handleNotFound)
	mux.HandleFunc("/v1/chat/completions", c.handleNotFound)
	mux.HandleFunc("/v1/sessions", c.handleNotFound)
	mux.HandleFunc("/v1/sessions/{id}", c.handleNotFound)
	mux.HandleFunc("/", c.handleNotFound)

	s.h = &http.Server{
		Addr:    s.Addr,
		Handler: s.recoverHandler(s.loggingHandler(mux)),
	}
	return s
}

// Handler returns the fully wrapped HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.h.Handler
}

// Serve accepts incoming connections on the listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.h.Serve(ln)
}

// ListenAndServe starts the server and begins accepting connections.
func (s *Server) ListenAndServe() error {
	return s.h.ListenAndServe()
}

// Close force closes all listeners and connections.
func (s *Server) Close() error {
	return s.h.Close()
}

// Shutdown gracefully shuts down the server without interrupting active
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.h.Shutdown(ctx)
}

func (s *Server) logDebug(r *http.Request, msg string, args ...any) {
	if s.logger != nil {
		s.logger.With(
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remote_addr", r.RemoteAddr),
		).Debug(msg, args...)
	}
}

func (s *Server) logError(r *http.Request, msg string, args ...any) {
	if s.logger != nil {
		s.logger.With(
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remote_addr", r.RemoteAddr),
		).Error(msg, args...)
	}
}
