// Package api provides HTTP handlers and the main API server logic for the
// lead qualifier.
//
// Every intake endpoint is stateless: the caller carries its progress and
// rate-limit state as signed tokens in the request body, and each response
// returns refreshed tokens alongside the next prompt.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/leadqualifier/leadqualifier/internal/abandon"
	"github.com/leadqualifier/leadqualifier/internal/flow"
	"github.com/leadqualifier/leadqualifier/internal/session"
	"github.com/leadqualifier/leadqualifier/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Server wires the conversation state machine to HTTP.
type Server struct {
	addr         string
	conversation *flow.Conversation
	codec        *session.Codec
	tracker      *session.Tracker
	reconciler   *abandon.Reconciler
	leads        store.LeadStore
	httpServer   *http.Server
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// NewServer creates the API server. The listen address falls back to the
// API_ADDR environment variable, then to DefaultAddr.
func NewServer(conversation *flow.Conversation, codec *session.Codec, tracker *session.Tracker, reconciler *abandon.Reconciler, leads store.LeadStore, opts ...Option) *Server {
	cfg := Opts{Addr: os.Getenv("API_ADDR")}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:         cfg.Addr,
		conversation: conversation,
		codec:        codec,
		tracker:      tracker,
		reconciler:   reconciler,
		leads:        leads,
	}
}

// routes registers all endpoints on a fresh mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/intake/start", s.startHandler)
	mux.HandleFunc("/intake/resume", s.resumeHandler)
	mux.HandleFunc("/intake/issues", s.issuesHandler)
	mux.HandleFunc("/intake/answer", s.answerHandler)
	mux.HandleFunc("/intake/question", s.questionHandler)
	mux.HandleFunc("/intake/name", s.nameHandler)
	mux.HandleFunc("/intake/contact-preference", s.contactPreferenceHandler)
	mux.HandleFunc("/intake/contact", s.contactHandler)
	mux.HandleFunc("/intake/verify", s.verifyHandler)
	mux.HandleFunc("/intake/abandon", s.abandonHandler)
	mux.HandleFunc("/ops/follow-up", s.followUpHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("Server.Run: API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}
