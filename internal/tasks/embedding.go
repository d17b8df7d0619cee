package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hokuto-dev/reviewlens-backend/internal/embedding"
	"github.com/hokuto-dev/reviewlens-backend/internal/scheduler"
)

// EmbeddingService is the batch-embedding surface this package drives.
type EmbeddingService interface {
	EmbedPending(ctx context.Context, limit int) (embedding.Result, error)
}

// EmbeddingResult is the envelope returned from one embedding batch run.
type EmbeddingResult struct {
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	embedding.Result
}

// EmbeddingTask keeps the vector column filled for newly arrived reviews.
type EmbeddingTask struct {
	service EmbeddingService
	logger  *slog.Logger
}

func NewEmbeddingTask(svc EmbeddingService, logger *slog.Logger) *EmbeddingTask {
	return &EmbeddingTask{service: svc, logger: logger}
}

// RunPending embeds up to limit reviews that have no vector yet.
func (t *EmbeddingTask) RunPending(ctx context.Context, limit int) (EmbeddingResult, error) {
	started := time.Now().UTC()
	t.logger.Info("tasks: embedding pending reviews", "limit", limit)

	result, err := t.service.EmbedPending(ctx, limit)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("tasks: embed pending reviews: %w", err)
	}

	completed := time.Now().UTC()
	return EmbeddingResult{
		Status:          "completed",
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		Result:          result,
	}, nil
}

// PendingJob adapts RunPending to a scheduler job.
func (t *EmbeddingTask) PendingJob(limit int) scheduler.JobFunc {
	return func(ctx context.Context) (any, error) {
		return t.RunPending(ctx, limit)
	}
}
