package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-idm-stepflow/internal/backend"
	"github.com/tendant/simple-idm-stepflow/internal/config"
	"github.com/tendant/simple-idm-stepflow/internal/http/middleware"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"github.com/tendant/simple-idm-stepflow/stepflow"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "store", cfg.StoreBackend, "sessions", cfg.SessionBackend, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	deliverer, err := backend.Deliverer(cfg, stores.Users, logger)
	if err != nil {
		logger.Error("failed to configure code delivery", "error", err)
		os.Exit(1)
	}

	var adminPolicy flow.AdminPolicy
	if !cfg.AdminOpen {
		adminPolicy = middleware.AdminTokenPolicy(cfg.AdminToken)
	}

	sf, err := stepflow.New(ctx, stepflow.Config{
		Users:                    stores.Users,
		Settings:                 stores.Settings,
		Profiles:                 stores.Profiles,
		Sessions:                 stores.Sessions,
		Deliverer:                deliverer,
		IdleTimeout:              cfg.SessionIdleTimeout,
		SettingsCacheTTL:         cfg.SettingsCacheTTL,
		DefaultOTPEnabled:        cfg.DefaultOTPEnabled,
		DefaultOnboardingEnabled: cfg.DefaultOnboardingEnabled,
		JWTSecret:                cfg.JWTSecret,
		JWTIssuer:                cfg.JWTIssuer,
		AccessTokenTTL:           cfg.AccessTokenTTL,
		AdminPolicy:              adminPolicy,
		EmailRules:               backend.EmailRules(cfg),
		RateLimit:                cfg.RateLimit,
		SecurityHeaders:          cfg.SecurityHeaders,
		MaxRequestBody:           cfg.MaxRequestBodySize,
		CookieSecure:             cfg.CookieSecure,
		Logger:                   logger,
	})
	if err != nil {
		logger.Error("failed to initialize authentication flow", "error", err)
		os.Exit(1)
	}
	logger.Info("authentication flow ready", "flow", sf.Chain().FlowDescription())

	go sf.Run(ctx)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      sf.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
