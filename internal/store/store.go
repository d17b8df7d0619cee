// Package store is the persistence boundary for shops, reviews, and
// assessments. It owns all SQL; callers receive typed rows and never see
// query strings.
//
// Dependency rule: store imports nothing from internal/ except the scoring
// types it persists. It never imports analyzer, search, llm, or api.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// ErrNotFound is returned by single-row lookups when no row matches.
// Callers branch on it with errors.Is.
var ErrNotFound = errors.New("store: not found")

// Store wraps the connection pool. Operation files (shops.go, reviews.go,
// assessments.go) attach methods to this type.
type Store struct {
	db *sql.DB
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified (e.g. via PingContext) before calling New.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres, tunes the pool, and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return db, nil
}

// ─── ROW TYPES ───────────────────────────────────────────────────────────────

// Shop is the catalog entry this core reads but never writes.
type Shop struct {
	ID               uuid.UUID
	PlaceID          string
	Name             string
	FormattedAddress sql.NullString
	Rating           sql.NullFloat64 // external aggregate rating, 1–5
	UserRatingsTotal sql.NullInt64
}

// Review is a normalized review record supplied by the ingestion subsystem.
// The core reads it in batches; the only mutation it performs is attaching
// an embedding vector.
type Review struct {
	ID           uuid.UUID
	ShopID       uuid.UUID
	AuthorName   sql.NullString
	Rating       sql.NullInt64 // 1–5, NULL when the source had none
	Text         sql.NullString
	RelativeTime sql.NullString // e.g. "3 months ago"
	RawData      pqtype.NullRawMessage
}

// Assessment is the persisted five-axis verdict, one row per shop,
// overwritten wholesale on each re-analysis.
type Assessment struct {
	ShopID uuid.UUID

	ScoreOperation int
	ScoreAccuracy  int
	ScoreHygiene   int
	ScoreSincerity int
	ScoreSafety    int

	VarianceScore float64
	SakuraRisk    int

	RiskLevel      string
	RiskSummary    string
	PositivePoints []string
	NegativePoints []string

	AnalyzedReviewCount int
	EngineVersion       string
	LastAnalyzedAt      time.Time
}

// SimilarityHit is one row of a vector query: a review, its shop, and the
// cosine similarity to the query vector. Ephemeral — never persisted.
type SimilarityHit struct {
	ReviewID   uuid.UUID
	ShopID     uuid.UUID
	ShopName   string
	ReviewText string
	Rating     sql.NullInt64
	Similarity float64
}

// scanAssessment reads one assessment row in column order.
func scanAssessment(row interface{ Scan(...any) error }) (Assessment, error) {
	var a Assessment
	err := row.Scan(
		&a.ShopID,
		&a.ScoreOperation,
		&a.ScoreAccuracy,
		&a.ScoreHygiene,
		&a.ScoreSincerity,
		&a.ScoreSafety,
		&a.VarianceScore,
		&a.SakuraRisk,
		&a.RiskLevel,
		&a.RiskSummary,
		pq.Array(&a.PositivePoints),
		pq.Array(&a.NegativePoints),
		&a.AnalyzedReviewCount,
		&a.EngineVersion,
		&a.LastAnalyzedAt,
	)
	return a, err
}

const assessmentColumns = `
	shop_id,
	score_operation, score_accuracy, score_hygiene, score_sincerity, score_safety,
	variance_score, sakura_risk,
	risk_level, risk_summary, positive_points, negative_points,
	analyzed_review_count, engine_version, last_analyzed_at`
