// Package main is the entrypoint for the federated imputation API server.
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

	"github.com/mamanambiya/federated-imputation/internal/api"
	"github.com/mamanambiya/federated-imputation/internal/api/handler"
	mw "github.com/mamanambiya/federated-imputation/internal/api/middleware"
	"github.com/mamanambiya/federated-imputation/internal/cache"
	"github.com/mamanambiya/federated-imputation/internal/config"
	"github.com/mamanambiya/federated-imputation/internal/notify"
	"github.com/mamanambiya/federated-imputation/internal/orchestrator"
	"github.com/mamanambiya/federated-imputation/internal/provider"
	"github.com/mamanambiya/federated-imputation/internal/registry"
	"github.com/mamanambiya/federated-imputation/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store
	pgStore := store.NewPostgresStore(pool)

	// 6. Service registry with background health sweep
	prober := registry.NewProber(cfg.Registry.ProbeConnectTimeout, cfg.Registry.ProbeReadTimeout)
	reg := registry.New(pgStore, prober, cfg.Registry)
	go reg.Run(ctx)

	// 7. Orchestrator, submission workers, and status poller
	adapters := provider.NewFactory(&http.Client{})
	notifier := notify.NewRedisNotifier(redisCache)
	creds := orchestrator.NewStoreCredentialResolver(pgStore)
	inputs := orchestrator.DirInputSource{Dir: cfg.Orchestrator.InputDir}

	orch := orchestrator.New(pgStore, redisCache, adapters, creds, notifier, inputs, cfg.Orchestrator)
	orch.Start(ctx)

	poller := orchestrator.NewPoller(orch, cfg.Poller)
	go poller.Run(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 120)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		CreateJobHandler:        handler.NewCreateJobHandler(orch),
		CreateBatchHandler:      handler.NewCreateBatchHandler(orch),
		ListJobsHandler:         handler.NewListJobsHandler(pgStore),
		GetJobHandler:           handler.NewGetJobHandler(pgStore, redisCache),
		JobStatusUpdatesHandler: handler.NewJobStatusUpdatesHandler(pgStore),
		JobLogsHandler:          handler.NewJobLogsHandler(pgStore),
		CancelJobHandler:        handler.NewCancelJobHandler(orch),
		RetryJobHandler:         handler.NewRetryJobHandler(orch),

		ListServicesHandler:       handler.NewListServicesHandler(pgStore),
		GetServiceHandler:         handler.NewGetServiceHandler(pgStore),
		ListPanelsHandler:         handler.NewListPanelsHandler(pgStore),
		DiscoverHandler:           handler.NewDiscoverHandler(reg, redisCache),
		ServiceHealthCheckHandler: handler.NewServiceHealthCheckHandler(pgStore, reg),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
