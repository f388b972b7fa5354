// Package main is the entrypoint for the PodPilot API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/podpilot/internal/api"
	"github.com/kiranshivaraju/podpilot/internal/api/handler"
	mw "github.com/kiranshivaraju/podpilot/internal/api/middleware"
	"github.com/kiranshivaraju/podpilot/internal/api/response"
	"github.com/kiranshivaraju/podpilot/internal/archive"
	"github.com/kiranshivaraju/podpilot/internal/cache"
	"github.com/kiranshivaraju/podpilot/internal/config"
	"github.com/kiranshivaraju/podpilot/internal/runpod"
	"github.com/kiranshivaraju/podpilot/internal/sessionlog"
	"github.com/kiranshivaraju/podpilot/internal/store"
	"github.com/kiranshivaraju/podpilot/internal/training"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

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
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logFile := newLogger(cfg.Logs, os.Stdout)
	if logFile != nil {
		defer logFile.Close()
	}
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"key_mode", cfg.Provider.KeyMode,
		"logs_dir", cfg.Logs.Dir,
		"archive", cfg.Archive.Enabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Archive store (optional)
	var (
		archiver    training.Archiver
		archivePing pinger
	)
	if cfg.Archive.Enabled() {
		objects, err := archive.NewMinIOStore(archive.MinIOConfig{
			Endpoint:     cfg.Archive.Endpoint,
			Region:       cfg.Archive.Region,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UseSSL:       cfg.Archive.UseSSL,
			CreateBucket: cfg.Archive.CreateBucket,
		})
		if err != nil {
			return fmt.Errorf("create archive store: %w", err)
		}
		a := archive.NewArchiver(objects, cfg.Archive.Bucket, objects.ObjectURL)
		if err := a.Ping(ctx); err != nil {
			slog.Warn("archive bucket not reachable, uploads will be retried", "bucket", a.Bucket(), "error", err)
		} else {
			slog.Info("archive store ready", "bucket", a.Bucket(), "endpoint", cfg.Archive.Endpoint)
		}
		archiver, archivePing = a, a
	} else {
		slog.Warn("S3 archive not configured, session logs stay on local disk")
	}

	// 3. Session index (optional)
	var (
		index     training.SessionIndex
		indexPing pinger
	)
	if cfg.Database.URL != "" {
		pg, err := store.Open(ctx, cfg.Database, migrationsDir)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pg.Close()
		slog.Info("session index ready", "migrations", migrationsDir)

		index, indexPing = pg, pg
	}

	// 4. Redis rate limiting (optional)
	var (
		rateLimit *mw.RateLimit
		cachePing pinger
	)
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			slog.Warn("redis not reachable, rate limiting fails open", "error", err)
		} else {
			slog.Info("redis connected")
		}
		rateLimit = mw.NewRateLimit(redisCache, cfg.Redis.RateLimitPerMinute)
		cachePing = redisCache
	}

	// 5. Training session service and sweeper
	svc := training.NewService(sessionlog.New(cfg.Logs.Dir), archiver, index)
	if svc.ArchiveEnabled() && cfg.Archive.SweepInterval > 0 {
		sweeper := training.NewSweeper(svc, cfg.Archive.SweepInterval)
		sweeper.Start()
		defer sweeper.Stop()
	}

	// 6. Provider client and router
	provider := runpod.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	clients := func(key string) runpod.Client { return provider.WithAPIKey(key) }
	providerKey := mw.NewProviderKey(cfg.Provider.KeyMode == config.KeyModeHeader, cfg.Provider.APIKey)
	if providerKey.Mode() == "missing" {
		slog.Warn("RUNPOD_API_KEY is not set, pod endpoints will answer CONFIGURATION_ERROR")
	}

	deps := api.Dependencies{
		ProviderKey: providerKey,
		RateLimit:   rateLimit,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,

		HealthHandler: healthHandler(providerKey.Mode(), archivePing, indexPing, cachePing),

		ListPodsHandler:  handler.NewListPodsHandler(clients),
		GetPodHandler:    handler.NewGetPodHandler(clients),
		CreatePodHandler: handler.NewCreatePodHandler(clients),
		StopPodHandler:   handler.NewStopPodHandler(clients),
		DeletePodHandler: handler.NewDeletePodHandler(clients),

		CreateSessionLogHandler: handler.NewCreateSessionLogHandler(svc),
		GetSessionLogHandler:    handler.NewGetSessionLogHandler(svc),
		ListSessionLogsHandler:  handler.NewListSessionLogsHandler(svc),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
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

// newLogger builds the JSON logger. When cfg.File is set, output is also
// written to a size-rotated file and the returned closer must be closed.
func newLogger(cfg config.LogsConfig, stdout io.Writer) (*slog.Logger, io.Closer) {
	var (
		out    = stdout
		closer io.Closer
	)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: 5,
			Compress:   true,
		}
		out = io.MultiWriter(stdout, file)
		closer = file
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level})), closer
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports provider key, archive, index and cache status. A nil
// pinger means the dependency is not configured.
func healthHandler(keyMode string, archiveStore, index, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"provider_key": keyMode,
			"archive":      check(r.Context(), archiveStore),
			"index":        check(r.Context(), index),
			"cache":        check(r.Context(), c),
		}

		degraded := keyMode == "missing"
		for _, name := range []string{"archive", "index", "cache"} {
			if checks[name] == "degraded" {
				degraded = true
			}
		}
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

func check(ctx context.Context, p pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}
