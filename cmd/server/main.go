// Package main is the entrypoint for the transcoder API server.
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

	"github.com/kiranshivaraju/transcoder/internal/api"
	"github.com/kiranshivaraju/transcoder/internal/api/handler"
	mw "github.com/kiranshivaraju/transcoder/internal/api/middleware"
	"github.com/kiranshivaraju/transcoder/internal/api/response"
	"github.com/kiranshivaraju/transcoder/internal/cache"
	"github.com/kiranshivaraju/transcoder/internal/config"
	"github.com/kiranshivaraju/transcoder/internal/encoder"
	"github.com/kiranshivaraju/transcoder/internal/events"
	"github.com/kiranshivaraju/transcoder/internal/objectstore"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/internal/transcode"
	"github.com/kiranshivaraju/transcoder/internal/video"
	"github.com/kiranshivaraju/transcoder/internal/workspace"
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
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"storage_backend", cfg.Storage.Backend,
		"workers", cfg.Worker.Count,
		"queue_size", cfg.Worker.QueueSize)

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
	if err := store.RunMigrations(cfg.Database.URL, cfg.Server.MigrationsDir); err != nil {
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

	// 5. Object store
	objects, err := objectstore.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	slog.Info("object store ready", "backend", cfg.Storage.Backend, "bucket", cfg.Storage.Bucket)

	// 6. Scratch space; leftovers from a previous crash are removed
	ws := workspace.NewManager(cfg.Workspace.Dir, slog.Default())
	if removed := ws.CleanStale(cfg.Workspace.StaleAge); len(removed) > 0 {
		slog.Info("stale workspaces removed", "count", len(removed))
	}

	// 7. Job events
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		slog.Info("kafka publisher enabled", "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	// 8. Transcode pipeline
	pgStore := store.NewPostgresStore(pool)
	ffmpeg := encoder.NewFFmpeg(cfg.Encoder.FFmpegPath, cfg.Encoder.FFprobePath,
		encoder.ProfileFromConfig(cfg.Encoder), slog.Default())
	orch := transcode.NewOrchestrator(pgStore, objects, ffmpeg, ws, redisCache, publisher, slog.Default())

	workers := transcode.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, orch.Run, slog.Default())
	workers.Start(ctx)

	svc := transcode.NewService(pgStore, objects, redisCache, workers, cfg.Storage.PresignTTL, slog.Default())
	library := video.NewLibrary(pgStore, objects, cfg.Upload.MaxBytes, cfg.Storage.PresignTTL, slog.Default())

	reaper := transcode.NewReaper(pgStore, workers, redisCache, ws, transcode.ReaperConfig{
		PendingAfter:    cfg.Worker.PendingAfter,
		ProcessingAfter: cfg.Worker.ProcessingAfter,
		Interval:        cfg.Worker.ReapInterval,
	}, slog.Default())
	go reaper.Run(ctx)

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute),

		HealthHandler: healthHandler(pgStore, redisCache, workers),

		UploadVideoHandler:   handler.NewUploadVideoHandler(library),
		ListVideosHandler:    handler.NewListVideosHandler(library),
		DownloadVideoHandler: handler.NewDownloadVideoHandler(library),

		SubmitJobHandler:   handler.NewSubmitJobHandler(svc),
		ListJobsHandler:    handler.NewListJobsHandler(svc),
		GetJobHandler:      handler.NewGetJobHandler(svc),
		JobProgressHandler: handler.NewJobProgressHandler(svc),
		DownloadJobHandler: handler.NewDownloadJobHandler(svc),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server. Uploads can be large, so the read timeout is generous.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Queued jobs that never started stay pending and are picked up by the
	// reaper after the next start.
	if err := workers.Shutdown(shutdownCtx); err != nil {
		slog.Warn("workers did not drain before timeout", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

type queueGauge interface {
	InFlight() int
}

// healthHandler checks database and cache connectivity and reports queue depth.
func healthHandler(db, c pinger, q queueGauge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  checks,
			"jobs_held": q.InFlight(),
		})
	}
}
