// Package tasks wraps the batch operations in a result envelope with timing
// and wires them into the scheduler as jobs.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/analyzer"
	"github.com/hokuto-dev/reviewlens-backend/internal/scheduler"
)

// Analyzer is the batch-analysis surface this package drives.
type Analyzer interface {
	Unanalyzed(ctx context.Context, limit int) ([]uuid.UUID, error)
	Outdated(ctx context.Context, days, limit int) ([]uuid.UUID, error)
	AnalyzeMany(ctx context.Context, shopIDs []uuid.UUID, force bool) (analyzer.BatchResult, error)
}

// AnalysisResult is the envelope returned from one analysis batch run.
type AnalysisResult struct {
	Status          string                `json:"status"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     time.Time             `json:"completed_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	TotalShops      int                   `json:"total_shops"`
	Analyzed        int                   `json:"analyzed"`
	Skipped         int                   `json:"skipped"`
	Failed          int                   `json:"failed"`
	Errors          []analyzer.BatchError `json:"errors,omitempty"`
}

// AnalysisTask runs the selection-then-batch analysis flows.
type AnalysisTask struct {
	analyzer Analyzer
	logger   *slog.Logger
}

func NewAnalysisTask(a Analyzer, logger *slog.Logger) *AnalysisTask {
	return &AnalysisTask{analyzer: a, logger: logger}
}

// RunUnanalyzed analyzes shops that have no assessment yet.
func (t *AnalysisTask) RunUnanalyzed(ctx context.Context, limit int, force bool) (AnalysisResult, error) {
	started := time.Now().UTC()
	t.logger.Info("tasks: analyzing unanalyzed shops", "limit", limit)

	ids, err := t.analyzer.Unanalyzed(ctx, limit)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("tasks: select unanalyzed shops: %w", err)
	}
	t.logger.Info("tasks: found unanalyzed shops", "count", len(ids))

	batch, err := t.analyzer.AnalyzeMany(ctx, ids, force)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("tasks: analyze unanalyzed shops: %w", err)
	}
	return envelope(started, batch), nil
}

// RunOutdated re-analyzes shops whose assessment is older than days. Outdated
// shops are always forced: the stale row is the reason the job exists.
func (t *AnalysisTask) RunOutdated(ctx context.Context, days, limit int) (AnalysisResult, error) {
	started := time.Now().UTC()
	t.logger.Info("tasks: analyzing outdated shops", "days", days, "limit", limit)

	ids, err := t.analyzer.Outdated(ctx, days, limit)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("tasks: select outdated shops: %w", err)
	}
	t.logger.Info("tasks: found outdated shops", "count", len(ids))

	batch, err := t.analyzer.AnalyzeMany(ctx, ids, true)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("tasks: analyze outdated shops: %w", err)
	}
	return envelope(started, batch), nil
}

// RunShops analyzes an explicit list of shops.
func (t *AnalysisTask) RunShops(ctx context.Context, shopIDs []uuid.UUID, force bool) (AnalysisResult, error) {
	started := time.Now().UTC()
	t.logger.Info("tasks: analyzing specific shops", "count", len(shopIDs))

	batch, err := t.analyzer.AnalyzeMany(ctx, shopIDs, force)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("tasks: analyze shops: %w", err)
	}
	return envelope(started, batch), nil
}

func envelope(started time.Time, batch analyzer.BatchResult) AnalysisResult {
	completed := time.Now().UTC()
	return AnalysisResult{
		Status:          "completed",
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		TotalShops:      batch.Total,
		Analyzed:        batch.Success,
		Skipped:         batch.Skipped,
		Failed:          batch.Failed,
		Errors:          batch.Errors,
	}
}

// UnanalyzedJob adapts RunUnanalyzed to a scheduler job.
func (t *AnalysisTask) UnanalyzedJob(limit int) scheduler.JobFunc {
	return func(ctx context.Context) (any, error) {
		return t.RunUnanalyzed(ctx, limit, false)
	}
}

// OutdatedJob adapts RunOutdated to a scheduler job.
func (t *AnalysisTask) OutdatedJob(days, limit int) scheduler.JobFunc {
	return func(ctx context.Context) (any, error) {
		return t.RunOutdated(ctx, days, limit)
	}
}
