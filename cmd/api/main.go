// Package main is the entry point for the forwardgate API server.
//
// It loads configuration, assembles the consent stack, mounts the channel and
// verification handlers on the core chassis and serves HTTP until SIGINT or
// SIGTERM, then drains requests and in-flight confirmation sends.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forwardgate/internal/api/handlers"
	"forwardgate/internal/bootstrap"
	"forwardgate/internal/config"
	"forwardgate/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := bootstrap.NewLogger(cfg.LogLevel)
	logger.Info("forwardgate API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"email_provider", cfg.Email.Provider,
		"dispatch_mode", cfg.Email.DispatchMode,
	)

	ctx := context.Background()
	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building consent stack: %w", err)
	}

	srv, err := newServer(cfg, stack, logger)
	if err != nil {
		_ = stack.Close(ctx)
		return err
	}

	return serve(srv, stack, cfg, logger)
}

// newServer mounts the channel and verification handlers over stack.
func newServer(cfg *config.Config, stack *bootstrap.Stack, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Limiter = core.NewClientRateLimiter(cfg.Server.VerifyRatePerMinute, cfg.Server.VerifyRateBurst)
	srv.HealthProbes = []core.HealthProbe{core.NewPingProbe("database", stack.Store)}

	channels := handlers.NewChannelHandler(
		stack.Store.Registry.Channels(),
		stack.Gate,
		stack.Forwarder,
		srv.Validator,
		logger,
	)
	verify := handlers.NewVerifyHandler(stack.Ledger, stack.Gate, cfg.Server.WebsiteURL, srv.ClientThrottle, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, channels.RegisterRoutes, verify.RegisterRoutes)
	srv.MountRoutes()
	return srv, nil
}

// secretProvider returns nil locally, where SSM resolution is skipped.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

func serve(srv *core.Server, stack *bootstrap.Stack, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = stack.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	// Requests are drained, so no new confirmations can start.
	if err := stack.Close(ctx); err != nil {
		logger.Error("stack shutdown error", "error", err)
		return fmt.Errorf("stack shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
