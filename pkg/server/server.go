// Package server provides the optional HTTP surface of the attention loop.
//
// Producers POST input lines; they go through the scheduler's Inbox like any
// other input. Readers GET the snapshot published at the end of the last
// tick. The server never touches the bags directly.
//
// Endpoints:
//
//	GET  /health      liveness and current tick
//	GET  /stats       scheduler, bag, inbox and server counters
//	GET  /concepts    strongest concepts (?limit=n)
//	GET  /pending     strongest pending tasks (?limit=n)
//	POST /inputs      {"inputs": ["$0.8;0.5;0.9$ bird", "bird --> animal"]}
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/orneryd/attend/pkg/cycle"
	"github.com/orneryd/attend/pkg/term"
	"github.com/rs/zerolog"
)

// Errors for HTTP operations.
var (
	ErrServerClosed = errors.New("server closed")
	ErrNoScheduler  = errors.New("scheduler required")
)

// Scheduler is what the server needs from the attention loop.
// *cycle.Scheduler satisfies it.
type Scheduler interface {
	Snapshot() *cycle.Snapshot
	Inbox() *cycle.Inbox
	Interner() *term.Interner
}

var _ Scheduler = (*cycle.Scheduler)(nil)

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to, host:port (default: "127.0.0.1:7480")
	Address string
	// ReadTimeout for requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration
	// MaxRequestSize in bytes (default: 1MB)
	MaxRequestSize int64
	// MaxInputs per POST /inputs request (default: 256)
	MaxInputs int
	// Logger for request and lifecycle logging
	Logger zerolog.Logger
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "127.0.0.1:7480",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxRequestSize: 1 << 20,
		MaxInputs:      256,
		Logger:         zerolog.Nop(),
	}
}

// Server is the HTTP API server.
type Server struct {
	config  *Config
	sched   Scheduler
	log     zerolog.Logger
	router  chi.Router
	version string

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// Stats holds server metrics.
type Stats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
}

// New creates a server over sched.
func New(sched Scheduler, version string, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if sched == nil {
		return nil, ErrNoScheduler
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = 1 << 20
	}
	if config.MaxInputs <= 0 {
		config.MaxInputs = 256
	}

	s := &Server{
		config:  config,
		sched:   sched,
		log:     config.Logger.With().Str("component", "http").Logger(),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/concepts", s.handleConcepts)
	r.Get("/pending", s.handlePending)
	r.Post("/inputs", s.handleInputs)

	s.router = r
}

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.listener = listener
	s.started = time.Now()
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stats returns server statistics.
func (s *Server) Stats() Stats {
	return Stats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
	}
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// skip health checks for noise reduction
		if r.URL.Path == "/health" {
			return
		}
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
