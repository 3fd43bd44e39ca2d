// Package httpapi exposes a read-only debug/status HTTP surface over the
// running dispatcher: current playback status, the loaded variant list,
// recent diagnostics events and a liveness probe, served by a chi router
// with huma typing the JSON endpoints.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Config configures the debug/status server.
type Config struct {
	Host string
	Port int
}

// Address returns the host:port the server binds to.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server is the chi+huma debug/status HTTP server.
type Server struct {
	cfg        Config
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a Server with its routes already registered against
// collaborator, whose current status/diagnostics it exposes.
func New(cfg Config, logger *slog.Logger, version string, status StatusProvider, variants VariantLister, events EventLister) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Compress(5))

	humaConfig := huma.DefaultConfig("hlsplay debug API", version)
	humaConfig.Info.Description = "Read-only playback status and diagnostics for a running hlsplay session"
	humaConfig.DocsPath = "/docs"

	api := humachi.New(router, humaConfig)

	s := &Server{cfg: cfg, router: router, api: api, logger: logger}
	registerHealth(api)
	registerStatus(api, status)
	registerVariants(api, variants)
	registerEvents(api, events)
	registerEventsSSE(router, events, logger)
	return s
}

// Router exposes the underlying chi router for additional mounts.
func (s *Server) Router() *chi.Mux { return s.router }

// Start begins serving; it blocks until the server stops or errors.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting debug HTTP API", slog.String("address", s.cfg.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting debug HTTP API: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down debug HTTP API: %w", err)
	}
	return nil
}
