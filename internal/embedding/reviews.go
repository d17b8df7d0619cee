package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

// Store is the persistence surface the embedding service needs.
type Store interface {
	ReviewsWithoutEmbedding(ctx context.Context, limit int) ([]store.Review, error)
	ShopReviewsWithoutEmbedding(ctx context.Context, shopID uuid.UUID) ([]store.Review, error)
	SaveReviewEmbedding(ctx context.Context, reviewID uuid.UUID, vector []float32) error
}

// Result is the aggregate outcome of one embedding pass.
type Result struct {
	Total    int      `json:"total"`
	Embedded int      `json:"embedded"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Service embeds pending reviews and stores their vectors.
type Service struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

func NewService(st Store, emb Embedder, logger *slog.Logger) *Service {
	return &Service{store: st, embedder: emb, logger: logger}
}

// EmbedPending vectorizes up to limit reviews that have text but no embedding
// yet. Per-review save failures are counted and recorded; only the initial
// selection query can fail the call.
func (s *Service) EmbedPending(ctx context.Context, limit int) (Result, error) {
	reviews, err := s.store.ReviewsWithoutEmbedding(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("embedding: select pending reviews: %w", err)
	}
	return s.embedReviews(ctx, reviews), nil
}

// EmbedShopReviews vectorizes all of one shop's unembedded reviews.
func (s *Service) EmbedShopReviews(ctx context.Context, shopID uuid.UUID) (Result, error) {
	reviews, err := s.store.ShopReviewsWithoutEmbedding(ctx, shopID)
	if err != nil {
		return Result{}, fmt.Errorf("embedding: select shop reviews: %w", err)
	}
	return s.embedReviews(ctx, reviews), nil
}

func (s *Service) embedReviews(ctx context.Context, reviews []store.Review) Result {
	result := Result{Total: len(reviews)}
	if len(reviews) == 0 {
		s.logger.Info("embedding: nothing to embed")
		return result
	}

	var texts []string
	var valid []store.Review
	for _, r := range reviews {
		if strings.TrimSpace(r.Text.String) == "" {
			result.Skipped++
			continue
		}
		texts = append(texts, r.Text.String)
		valid = append(valid, r)
	}
	if len(texts) == 0 {
		return result
	}

	s.logger.Info("embedding: generating vectors", "count", len(texts))

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		result.Failed = len(valid)
		result.Errors = append(result.Errors, fmt.Sprintf("batch embedding failed: %v", err))
		s.logger.Error("embedding: batch failed", "error", err)
		return result
	}

	for i, r := range valid {
		if err := s.store.SaveReviewEmbedding(ctx, r.ID, vectors[i]); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("review %s: %v", r.ID, err))
			continue
		}
		result.Embedded++
	}

	s.logger.Info("embedding: pass complete",
		"embedded", result.Embedded, "skipped", result.Skipped, "failed", result.Failed)
	return result
}
