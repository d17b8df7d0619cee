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

	_ "github.com/lib/pq" // postgres driver

	"github.com/hokuto-dev/reviewlens-backend/internal/analyzer"
	"github.com/hokuto-dev/reviewlens-backend/internal/api"
	"github.com/hokuto-dev/reviewlens-backend/internal/config"
	"github.com/hokuto-dev/reviewlens-backend/internal/embedding"
	"github.com/hokuto-dev/reviewlens-backend/internal/llm"
	"github.com/hokuto-dev/reviewlens-backend/internal/scheduler"
	"github.com/hokuto-dev/reviewlens-backend/internal/search"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
	"github.com/hokuto-dev/reviewlens-backend/internal/tasks"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// ── Database ──────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	st := store.New(pool)

	// ── Gemini backends ───────────────────────────────────────────────────────
	retry := llm.DefaultRetryPolicy()
	gen := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, retry, logger)
	embedder := embedding.NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.EmbeddingModel, retry, logger)
	logger.Info("gemini configured", "model", cfg.GeminiModel, "embedding_model", cfg.EmbeddingModel)

	// ── Services ──────────────────────────────────────────────────────────────
	anlz := analyzer.New(st, gen, cfg.BatchDelay, logger)
	embedSvc := embedding.NewService(st, embedder, logger)
	ragSvc := search.NewRAGService(st, embedder, gen, logger)
	structuredSvc := search.NewStructuredService(st)

	analysisTask := tasks.NewAnalysisTask(anlz, logger)
	embeddingTask := tasks.NewEmbeddingTask(embedSvc, logger)

	// ── Scheduler ─────────────────────────────────────────────────────────────
	sched := scheduler.New(logger)
	if err := registerJobs(sched, cfg.JobsConfigPath, analysisTask, embeddingTask); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if cfg.SchedulerEnabled {
		sched.Start(ctx)
	} else {
		logger.Info("scheduler disabled")
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(
		anlz,
		st,
		analysisTask,
		embedSvc,
		ragSvc,
		structuredSvc,
		sched,
		api.Config{Env: cfg.Env},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // analysis endpoints wait on the generation backend
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until either a signal arrives or the server dies unexpectedly.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Give in-flight HTTP requests up to 20 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// The scheduler loop exits when ctx is cancelled (already done).
	logger.Info("shutdown complete")
	return nil
}

// registerJobs loads the schedule (YAML file or built-in defaults) and binds
// each job spec to its task implementation.
func registerJobs(sched *scheduler.Scheduler, path string, analysis *tasks.AnalysisTask, embed *tasks.EmbeddingTask) error {
	specs, err := config.LoadJobs(path)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		var fn scheduler.JobFunc
		switch spec.Task {
		case "analyze-unanalyzed":
			fn = analysis.UnanalyzedJob(spec.Limit)
		case "analyze-outdated":
			fn = analysis.OutdatedJob(spec.DaysThreshold, spec.Limit)
		case "embed-pending":
			fn = embed.PendingJob(spec.Limit)
		default:
			return fmt.Errorf("unknown task %q for job %q", spec.Task, spec.Name)
		}
		sched.AddJob(spec.Name, time.Duration(spec.IntervalMinutes)*time.Minute, fn)
	}
	return nil
}
