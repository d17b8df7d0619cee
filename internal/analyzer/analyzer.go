// Package analyzer orchestrates the per-shop assessment pipeline: load
// reviews, pick an analysis strategy by volume, call the generation backend,
// run the result through the scoring engine, and persist the verdict.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/llm"
	"github.com/hokuto-dev/reviewlens-backend/internal/scoring"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

const (
	// minReviewsForAnalysis is the floor below which generation is skipped
	// entirely and a neutral default assessment is produced instead.
	minReviewsForAnalysis = 3

	// minReviewsForDetailed is the floor for the full prompt; shops between
	// the two floors get the low-confidence prompt.
	minReviewsForDetailed = 5

	// maxReviewsPerAnalysis caps how many recent reviews feed one analysis.
	maxReviewsPerAnalysis = 50

	// EngineVersion is stamped on every persisted assessment so stale rows
	// can be found after a scoring change.
	EngineVersion = "1.0.0"
)

// Store is the persistence surface the analyzer needs. *store.Store satisfies
// it; tests inject a stub.
type Store interface {
	ShopByID(ctx context.Context, id uuid.UUID) (store.Shop, error)
	RecentReviews(ctx context.Context, shopID uuid.UUID, limit int) ([]store.Review, error)
	AssessmentByShop(ctx context.Context, shopID uuid.UUID) (store.Assessment, error)
	UpsertAssessment(ctx context.Context, a store.Assessment) error
	UnanalyzedShopIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	OutdatedShopIDs(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

// Analyzer holds the dependencies for the assessment pipeline.
type Analyzer struct {
	store  Store
	gen    llm.Generator
	logger *slog.Logger

	// batchDelay is the fixed pause between shops in AnalyzeMany — simple
	// backpressure against the generation backend's rate limits.
	batchDelay time.Duration
}

// New constructs an Analyzer. batchDelay may be zero to disable pacing.
func New(st Store, gen llm.Generator, batchDelay time.Duration, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:      st,
		gen:        gen,
		logger:     logger,
		batchDelay: batchDelay,
	}
}

// Analyze runs the full pipeline for one shop. The returned bool is true when
// a fresh assessment was produced, false when an existing one was returned
// unchanged (force=false and the shop was already assessed).
//
// Generation and scoring failures never surface as errors: the shop gets a
// default assessment carrying a truncated failure message, still classified
// by the scoring engine. Only lookup and persistence errors propagate.
func (a *Analyzer) Analyze(ctx context.Context, shopID uuid.UUID, force bool) (store.Assessment, bool, error) {
	log := a.logger.With("shop_id", shopID)

	shop, err := a.store.ShopByID(ctx, shopID)
	if err != nil {
		return store.Assessment{}, false, fmt.Errorf("analyzer: load shop: %w", err)
	}

	if !force {
		existing, err := a.store.AssessmentByShop(ctx, shopID)
		if err == nil {
			log.Debug("analyzer: assessment exists, skipping")
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Assessment{}, false, fmt.Errorf("analyzer: check existing assessment: %w", err)
		}
	}

	reviews, err := a.store.RecentReviews(ctx, shopID, maxReviewsPerAnalysis)
	if err != nil {
		return store.Assessment{}, false, fmt.Errorf("analyzer: load reviews: %w", err)
	}

	draft := a.runAnalysis(ctx, shop, reviews, log)

	assessment := store.Assessment{
		ShopID:              shopID,
		ScoreOperation:      draft.ScoreOperation,
		ScoreAccuracy:       draft.ScoreAccuracy,
		ScoreHygiene:        draft.ScoreHygiene,
		ScoreSincerity:      draft.ScoreSincerity,
		ScoreSafety:         draft.ScoreSafety,
		VarianceScore:       draft.VarianceScore,
		SakuraRisk:          draft.SakuraRisk,
		RiskLevel:           string(draft.RiskLevel),
		RiskSummary:         draft.RiskSummary,
		PositivePoints:      draft.PositivePoints,
		NegativePoints:      draft.NegativePoints,
		AnalyzedReviewCount: len(reviews),
		EngineVersion:       EngineVersion,
		LastAnalyzedAt:      time.Now().UTC(),
	}

	if err := a.store.UpsertAssessment(ctx, assessment); err != nil {
		return store.Assessment{}, false, fmt.Errorf("analyzer: persist assessment: %w", err)
	}

	log.Info("analyzer: assessment persisted",
		"risk_level", assessment.RiskLevel,
		"reviews", assessment.AnalyzedReviewCount,
	)
	return assessment, true, nil
}

// runAnalysis produces the corrected draft for a shop. It never fails: too
// few reviews or a backend failure both yield a classified default.
func (a *Analyzer) runAnalysis(ctx context.Context, shop store.Shop, reviews []store.Review, log *slog.Logger) scoring.AssessmentDraft {
	if len(reviews) < minReviewsForAnalysis {
		log.Info("analyzer: not enough reviews, producing default", "count", len(reviews))
		return scoring.DefaultDraft(fmt.Sprintf(
			"fewer than %d reviews available; assessment deferred until more data arrives",
			minReviewsForAnalysis,
		))
	}

	var prompt string
	if len(reviews) >= minReviewsForDetailed {
		prompt = buildDetailedPrompt(shop, reviews)
	} else {
		prompt = buildLowConfidencePrompt(shop, reviews)
	}

	log.Info("analyzer: requesting assessment", "reviews", len(reviews))

	raw, err := a.gen.GenerateJSON(ctx, analysisSystemPrompt+"\n\n"+prompt, nil)
	if err != nil {
		// One shop's failure must never abort a batch; the default carries
		// the failure reason for operators.
		log.Error("analyzer: generation failed", "error", err)
		return scoring.DefaultDraft("analysis failed: " + truncateErr(err, 100))
	}

	return scoring.PostProcess(raw, scoringReviews(reviews))
}

// scoringReviews maps persisted rows to the dependency-free shape the scoring
// heuristics take.
func scoringReviews(reviews []store.Review) []scoring.Review {
	out := make([]scoring.Review, len(reviews))
	for i, r := range reviews {
		out[i] = scoring.Review{
			Text:   r.Text.String,
			Rating: int(r.Rating.Int64),
		}
	}
	return out
}

func truncateErr(err error, n int) string {
	msg := err.Error()
	if len(msg) > n {
		return msg[:n]
	}
	return msg
}

// ─── BATCH ───────────────────────────────────────────────────────────────────

// BatchError records one failed shop inside a batch run.
type BatchError struct {
	ShopID  uuid.UUID `json:"shop_id"`
	Message string    `json:"error"`
}

// BatchResult is the aggregate outcome of AnalyzeMany. Failed shops are
// counted and recorded, never raised.
type BatchResult struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Errors  []BatchError `json:"errors"`
}

// AnalyzeMany runs Analyze serially over the ids in their given order,
// pausing batchDelay between shops. Individual failures are accumulated into
// the result; the only error returned is context cancellation.
func (a *Analyzer) AnalyzeMany(ctx context.Context, shopIDs []uuid.UUID, force bool) (BatchResult, error) {
	result := BatchResult{Total: len(shopIDs)}

	for i, id := range shopIDs {
		if i > 0 && a.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(a.batchDelay):
			}
		}

		_, fresh, err := a.Analyze(ctx, id, force)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, BatchError{
				ShopID:  id,
				Message: truncateErr(err, 200),
			})
			a.logger.Error("analyzer: batch item failed", "shop_id", id, "error", err)
		case fresh:
			result.Success++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

// ─── SELECTION QUERIES ───────────────────────────────────────────────────────

// Unanalyzed returns shops with no assessment yet, bounded by limit.
func (a *Analyzer) Unanalyzed(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return a.store.UnanalyzedShopIDs(ctx, limit)
}

// Outdated returns shops whose assessment is older than days, bounded by
// limit.
func (a *Analyzer) Outdated(ctx context.Context, days, limit int) ([]uuid.UUID, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -days)
	return a.store.OutdatedShopIDs(ctx, threshold, limit)
}
