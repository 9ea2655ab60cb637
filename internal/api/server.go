// Package api provides the HTTP API server for the gateway.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/agent-gateway/internal/agent"
	"github.com/narvanalabs/agent-gateway/internal/api/handlers"
	"github.com/narvanalabs/agent-gateway/internal/api/health"
	"github.com/narvanalabs/agent-gateway/internal/api/middleware"
	"github.com/narvanalabs/agent-gateway/internal/auth"
	"github.com/narvanalabs/agent-gateway/internal/journal"
	"github.com/narvanalabs/agent-gateway/internal/poll"
	"github.com/narvanalabs/agent-gateway/internal/tools"
	"github.com/narvanalabs/agent-gateway/pkg/config"
)

// Version is the current version of the gateway.
// This should be set at build time using ldflags.
var Version = "dev"

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Client   *agent.Client
	Resolver *auth.Resolver
	Codec    *auth.TokenCodec
	Registry *tools.Registry
	Watcher  *poll.Watcher
	Journal  journal.Store
}

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	deps          Deps
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}

	var pinger health.Pinger
	if deps.Journal != nil {
		if p, ok := deps.Journal.(health.Pinger); ok {
			pinger = p
		}
	}
	s.healthChecker = health.NewChecker(pinger, Version)

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	// Health check endpoint (no auth required)
	r.Get("/health", s.healthChecker.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Credential middleware for all v1 routes
		cred := middleware.NewCredential(s.deps.Resolver, s.config.APIKeyHeader, s.logger)
		r.Use(cred.Resolve)

		toolsHandler := handlers.NewToolsHandler(s.deps.Registry, s.deps.Client, s.logger)
		tokensHandler := handlers.NewTokensHandler(s.deps.Codec, s.config.TokenTTL, s.logger)
		historyHandler := handlers.NewHistoryHandler(s.deps.Journal, s.logger)
		eventsHandler := handlers.NewEventsHandler(s.deps.Client, s.deps.Watcher, s.logger)

		// Plain request/response calls run under a request timeout.
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(60 * time.Second))
			r.Get("/tools", toolsHandler.List)
			r.Post("/tokens", tokensHandler.Mint)
			r.Get("/history", historyHandler.Get)
		})

		// Tool dispatch and the event streams manage their own
		// deadlines; wait_task alone can legitimately run for minutes.
		r.Post("/tools/{tool}", toolsHandler.Call)
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/events", eventsHandler.Stream)
			r.Get("/events/ws", eventsHandler.StreamWS)
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.ListenAddr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: event streams and wait_task calls outlive
		// any fixed cap; the poll watcher bounds them instead.
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
