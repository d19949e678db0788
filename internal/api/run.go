package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/bootstrap"
	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// Run serves the API until ctx is cancelled, then shuts down gracefully.
// Idle sessions are swept once a minute.
func Run(ctx context.Context, app *bootstrap.App) error {
	cfg := app.Config
	registry := generation.NewRegistry(time.Duration(cfg.Server.SessionTTLMinutes) * time.Minute)

	srv := NewServer(cfg, Deps{
		Orchestrator: app.Orchestrator,
		Registry:     registry,
		Ingester:     app.Processor,
		Documents:    app.DB,
		Applications: app.DB,
		Feedback:     app.Feedback,
		Improver:     app.Improver,
	})

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.Sweep()
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", addr))
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		srv.limiter.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Server shutting down gracefully...")
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
