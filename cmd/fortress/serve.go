package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/fortress/internal/api"
	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/deceptions"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Fortress HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply pending database migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{withDeceptions: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	logger := a.log

	if migrateOnStart && a.dbErr != nil {
		logger.Warn("Skipping migrations, database unavailable", zap.Error(a.dbErr))
	}
	if migrateOnStart && a.pool != nil {
		if err := deceptions.Migrate(ctx, a.pool, "up"); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	metrics := a.tel.Metrics()
	var limiter *api.RateLimiter
	if a.cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(a.redis, a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window, logger)
		limiter.OnReject(metrics.RateLimited.Inc)
	}

	srv := api.NewServer(a.apiConfig(), api.Deps{
		Fraud:       a.enricher,
		Network:     a.scanner,
		Deceptions:  a.deceptions,
		Caches:      []*cache.Cache{a.urlReports, a.networkCache},
		Usage:       a.usage,
		Metrics:     metrics,
		RateLimiter: limiter,
		ReadyChecks: a.readyChecks(),
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  2 * a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr), zap.String("version", Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, shutting down...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
		return err
	}

	logger.Info("Server stopped")
	return nil
}

func (a *app) apiConfig() api.Config {
	return api.Config{
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RequestTimeout: a.cfg.Server.WriteTimeout,
		WiFiSSID:       a.cfg.Network.SSID,
		Version:        Version,
	}
}

// readyChecks probes the stores the API depends on.
func (a *app) readyChecks() map[string]api.ReadyCheck {
	checks := map[string]api.ReadyCheck{}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	switch {
	case a.pool != nil:
		checks["postgres"] = a.pool.Ping
	case a.dbErr != nil:
		checks["postgres"] = func(context.Context) error { return a.dbErr }
	}
	return checks
}
