package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/api"
	"github.com/personas-nlq/backend/internal/app"
	"github.com/personas-nlq/backend/internal/middleware/ratelimit"
	appLogger "github.com/personas-nlq/backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	appLogger.Info("Starting personas-nlq API server", zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close(context.Background())

	h, err := a.Handlers(version)
	if err != nil {
		return fmt.Errorf("failed to build handlers: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	server := api.NewApp(a.RouterConfig(limiter), h)

	// Warm the dataset cache so the first question does not pay for the load.
	go func() {
		if _, err := a.Cache.Get(ctx, false); err != nil {
			appLogger.Warn("Initial dataset load failed", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
	return nil
}
