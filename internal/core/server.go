// Package core provides the HTTP chassis for the forwardgate API. It builds a
// chi router, applies the cross-cutting middleware (panic recovery, request
// IDs, logging, security headers, per-client rate limiting) and leaves domain
// routes to registrars supplied by the entry point.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"forwardgate/internal/config"
)

// RouteRegistrar mounts a group of handlers under /v1.
type RouteRegistrar func(r chi.Router)

// Server holds the API dependencies so tests can build one without a
// database or mail provider.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are applied in order when MountRoutes runs.
	V1RouteRegistrars []RouteRegistrar

	// Limiter backs ClientThrottle. Nil disables throttling.
	Limiter *ClientRateLimiter

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. Callers add registrars and probes, then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.Server or a Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests that register ad-hoc routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown is called after the HTTP listener drains. Pools and dispatchers
// are owned and closed by main.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
