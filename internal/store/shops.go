package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ShopByID returns one catalog entry, or ErrNotFound.
func (s *Store) ShopByID(ctx context.Context, id uuid.UUID) (Shop, error) {
	const query = `
		SELECT id, place_id, name, formatted_address, rating, user_ratings_total
		FROM shops
		WHERE id = $1`

	var shop Shop
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&shop.ID,
		&shop.PlaceID,
		&shop.Name,
		&shop.FormattedAddress,
		&shop.Rating,
		&shop.UserRatingsTotal,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Shop{}, ErrNotFound
	}
	if err != nil {
		return Shop{}, fmt.Errorf("store: shop by id: %w", err)
	}
	return shop, nil
}

// UnanalyzedShopIDs returns shops that have no assessment yet, bounded by
// limit. Used by the scheduler's analyze-unanalyzed job.
func (s *Store) UnanalyzedShopIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	const query = `
		SELECT s.id
		FROM shops s
		LEFT JOIN shop_assessments a ON a.shop_id = s.id
		WHERE a.shop_id IS NULL
		LIMIT $1`

	return s.queryIDs(ctx, query, limit)
}

// OutdatedShopIDs returns shops whose assessment is older than the threshold,
// bounded by limit. Used by the scheduler's analyze-outdated job.
func (s *Store) OutdatedShopIDs(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	const query = `
		SELECT s.id
		FROM shops s
		JOIN shop_assessments a ON a.shop_id = s.id
		WHERE a.last_analyzed_at < $1
		LIMIT $2`

	return s.queryIDs(ctx, query, olderThan, limit)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query shop ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan shop id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate shop ids: %w", err)
	}
	return ids, nil
}

// ─── STRUCTURED SEARCH ───────────────────────────────────────────────────────

// SearchCriteria are the explicit numeric filters of the LLM-free search
// path. Nil pointer fields are not applied.
type SearchCriteria struct {
	MinScore      *int      // minimum average of the five axis scores
	MaxSakuraRisk *int      // maximum sakura risk percentage
	RiskLevels    []string  // allowed risk labels
	MinRating     *float64  // minimum external aggregate rating
	Limit         int       // default 20
}

// ShopWithAssessment pairs a catalog entry with its assessment, when one
// exists.
type ShopWithAssessment struct {
	Shop       Shop
	Assessment *Assessment
}

// SearchShops filters shops by the explicit criteria. The WHERE clause is
// assembled dynamically — only supplied filters constrain the result.
func (s *Store) SearchShops(ctx context.Context, c SearchCriteria) ([]ShopWithAssessment, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = 20
	}

	builder := sq.Select(
		"s.id", "s.place_id", "s.name", "s.formatted_address", "s.rating", "s.user_ratings_total",
		"a.shop_id",
		"a.score_operation", "a.score_accuracy", "a.score_hygiene", "a.score_sincerity", "a.score_safety",
		"a.variance_score", "a.sakura_risk",
		"a.risk_level", "a.risk_summary", "a.positive_points", "a.negative_points",
		"a.analyzed_review_count", "a.engine_version", "a.last_analyzed_at",
	).
		From("shops s").
		LeftJoin("shop_assessments a ON a.shop_id = s.id").
		PlaceholderFormat(sq.Dollar).
		Limit(uint64(limit))

	if c.MinRating != nil {
		builder = builder.Where(sq.GtOrEq{"s.rating": *c.MinRating})
	}
	if len(c.RiskLevels) > 0 {
		builder = builder.Where(sq.Eq{"a.risk_level": c.RiskLevels})
	}
	if c.MaxSakuraRisk != nil {
		builder = builder.Where(sq.LtOrEq{"a.sakura_risk": *c.MaxSakuraRisk})
	}
	if c.MinScore != nil {
		builder = builder.Where(
			"(a.score_operation + a.score_accuracy + a.score_hygiene + a.score_sincerity + a.score_safety) / 5.0 >= ?",
			*c.MinScore,
		)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search shops: %w", err)
	}
	defer rows.Close()

	var out []ShopWithAssessment
	for rows.Next() {
		var (
			shop Shop
			a    Assessment

			// Assessment columns from the LEFT JOIN may all be NULL.
			shopID         uuid.NullUUID
			scoreOp        sql.NullInt64
			scoreAcc       sql.NullInt64
			scoreHyg       sql.NullInt64
			scoreSin       sql.NullInt64
			scoreSaf       sql.NullInt64
			variance       sql.NullFloat64
			sakura         sql.NullInt64
			riskLevel      sql.NullString
			riskSummary    sql.NullString
			positivePoints []string
			negativePoints []string
			reviewCount    sql.NullInt64
			engineVersion  sql.NullString
			lastAnalyzedAt sql.NullTime
		)

		err := rows.Scan(
			&shop.ID, &shop.PlaceID, &shop.Name, &shop.FormattedAddress, &shop.Rating, &shop.UserRatingsTotal,
			&shopID,
			&scoreOp, &scoreAcc, &scoreHyg, &scoreSin, &scoreSaf,
			&variance, &sakura,
			&riskLevel, &riskSummary, pq.Array(&positivePoints), pq.Array(&negativePoints),
			&reviewCount, &engineVersion, &lastAnalyzedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("store: scan search row: %w", err)
		}

		item := ShopWithAssessment{Shop: shop}
		if shopID.Valid {
			a = Assessment{
				ShopID:              shopID.UUID,
				ScoreOperation:      int(scoreOp.Int64),
				ScoreAccuracy:       int(scoreAcc.Int64),
				ScoreHygiene:        int(scoreHyg.Int64),
				ScoreSincerity:      int(scoreSin.Int64),
				ScoreSafety:         int(scoreSaf.Int64),
				VarianceScore:       variance.Float64,
				SakuraRisk:          int(sakura.Int64),
				RiskLevel:           riskLevel.String,
				RiskSummary:         riskSummary.String,
				PositivePoints:      positivePoints,
				NegativePoints:      negativePoints,
				AnalyzedReviewCount: int(reviewCount.Int64),
				EngineVersion:       engineVersion.String,
				LastAnalyzedAt:      lastAnalyzedAt.Time,
			}
			item.Assessment = &a
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate search rows: %w", err)
	}
	return out, nil
}
