// Package server implements the typerank HTTP daemon: the REST API, the
// leaderboard WebSocket, the janitor loops, and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ryoh/typerank/internal/auth"
	"github.com/ryoh/typerank/internal/config"
	"github.com/ryoh/typerank/internal/metrics"
	"github.com/ryoh/typerank/internal/realtime"
	"github.com/ryoh/typerank/internal/storage"
)

// Version is set at build time
var Version = "dev"

// Server is the contest platform daemon. It owns the HTTP listener, the
// leaderboard fan-out, and the background janitor loops.
type Server struct {
	// Dependencies
	store   storage.Store
	auth    *auth.Service
	fanout  *realtime.Fanout
	metrics *metrics.Metrics
	bridge  *realtime.Bridge

	// Server state
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener

	// Lifecycle
	startTime    time.Time
	readyChan    chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	cancelBg     context.CancelFunc
	wg           sync.WaitGroup

	// Clock, swappable in tests
	now func() time.Time
}

// ServerConfig contains configuration options for the daemon server.
type ServerConfig struct {
	// Config is the loaded runtime configuration (required)
	Config *config.Config

	// Store is the storage backend (required)
	Store storage.Store

	// Auth is the credential service (required)
	Auth *auth.Service

	// Fanout is the leaderboard fan-out (optional, in-process only if nil)
	Fanout *realtime.Fanout

	// Metrics is the Prometheus registry wrapper (optional, created if nil)
	Metrics *metrics.Metrics

	// Bridge feeds snapshots published by other nodes into the local hub
	// (optional; run as a background loop when set)
	Bridge *realtime.Bridge

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger
}

// NewServer creates a new daemon server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Config == nil {
		return nil, fmt.Errorf("runtime config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fanout := cfg.Fanout
	if fanout == nil {
		fanout = realtime.NewFanout(realtime.NewHub(), nil, logger)
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
		m.RegisterFanout(fanout)
	}

	s := &Server{
		store:        cfg.Store,
		auth:         cfg.Auth,
		fanout:       fanout,
		metrics:      m,
		bridge:       cfg.Bridge,
		cfg:          cfg.Config,
		logger:       logger,
		startTime:    time.Now(),
		readyChan:    make(chan struct{}),
		shutdownChan: make(chan struct{}),
		now:          time.Now,
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// routes assembles the chi router with the full middleware stack.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// WebSocket auth happens inside the handler: browsers cannot attach
	// an Authorization header to a WebSocket dial, so the token rides in
	// the query string instead.
	r.Get("/ws/contests/{contestID}/leaderboard", s.handleLeaderboardWS)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.limitBody)

		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/refresh", s.handleRefresh)
		api.With(s.requireAuth).Post("/auth/logout", s.handleLogout)

		api.Route("/contests", func(cr chi.Router) {
			cr.With(s.optionalAuth).Get("/", s.handleListContests)
			cr.With(s.requireAdmin).Post("/", s.handleCreateContest)

			cr.Route("/{contestID}", func(cc chi.Router) {
				cc.With(s.optionalAuth).Get("/", s.handleGetContest)
				cc.With(s.requireAdmin).Delete("/", s.handleDeleteContest)
				cc.With(s.requireAdmin).Put("/prompts", s.handleSetContestPrompts)
				cc.With(s.requireAuth).Post("/join", s.handleJoinContest)
				cc.With(s.requireAuth).Post("/sessions", s.handleStartSession)
				cc.With(s.optionalAuth).Get("/leaderboard", s.handleLeaderboard)
			})
		})

		api.With(s.requireAdmin).Post("/prompts", s.handleCreatePrompt)
		api.With(s.requireAdmin).Get("/prompts", s.handleListPrompts)

		api.With(s.requireAuth).Post("/sessions/{sessionID}/finish", s.handleFinishSession)
	})

	return r
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	s.listener = listener
	close(s.readyChan)

	s.logger.Info("server starting",
		"addr", listener.Addr().String(),
		"pid", os.Getpid(),
		"version", Version,
	)

	// Background loops stop on this context or on shutdownChan.
	bgCtx, cancel := context.WithCancel(ctx)
	s.cancelBg = cancel

	s.wg.Add(1)
	go s.janitorLoop(bgCtx)

	if s.bridge != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.bridge.Run(bgCtx); err != nil {
				s.logger.Warn("snapshot bridge stopped", "error", err)
			}
		}()
	}

	// Serve HTTP requests in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		} else {
			errChan <- nil
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.Shutdown()
		// Wait for server to finish
		<-errChan
		return nil
	case err := <-errChan:
		return err
	}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server: stop accepting requests,
// drain in-flight ones within the configured window, stop the background
// loops, and release the fan-out.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("server shutting down", "uptime", time.Since(s.startTime).Round(time.Second))

		// Signal shutdown to WebSocket loops and janitor
		close(s.shutdownChan)
		if s.cancelBg != nil {
			s.cancelBg()
		}

		// Drain the HTTP server
		drain := time.Duration(s.cfg.Server.ShutdownTimeoutMs) * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http server drain incomplete", "error", err)
		}

		// Wait for goroutines
		s.wg.Wait()

		if err := s.fanout.Close(); err != nil {
			s.logger.Warn("failed to close fan-out", "error", err)
		}

		s.logger.Info("server stopped")
	})
}
