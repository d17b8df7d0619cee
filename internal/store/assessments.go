package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AssessmentByShop returns a shop's current assessment, or ErrNotFound.
func (s *Store) AssessmentByShop(ctx context.Context, shopID uuid.UUID) (Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM shop_assessments WHERE shop_id = $1`

	a, err := scanAssessment(s.db.QueryRowContext(ctx, query, shopID))
	if errors.Is(err, sql.ErrNoRows) {
		return Assessment{}, ErrNotFound
	}
	if err != nil {
		return Assessment{}, fmt.Errorf("store: assessment by shop: %w", err)
	}
	return a, nil
}

// UpsertAssessment writes an assessment keyed by shop, overwriting every
// field on conflict. Assessments are replaced wholesale on re-analysis —
// there is no partial-field merge.
func (s *Store) UpsertAssessment(ctx context.Context, a Assessment) error {
	const query = `
		INSERT INTO shop_assessments (
			shop_id,
			score_operation, score_accuracy, score_hygiene, score_sincerity, score_safety,
			variance_score, sakura_risk,
			risk_level, risk_summary, positive_points, negative_points,
			analyzed_review_count, engine_version, last_analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (shop_id) DO UPDATE SET
			score_operation = EXCLUDED.score_operation,
			score_accuracy = EXCLUDED.score_accuracy,
			score_hygiene = EXCLUDED.score_hygiene,
			score_sincerity = EXCLUDED.score_sincerity,
			score_safety = EXCLUDED.score_safety,
			variance_score = EXCLUDED.variance_score,
			sakura_risk = EXCLUDED.sakura_risk,
			risk_level = EXCLUDED.risk_level,
			risk_summary = EXCLUDED.risk_summary,
			positive_points = EXCLUDED.positive_points,
			negative_points = EXCLUDED.negative_points,
			analyzed_review_count = EXCLUDED.analyzed_review_count,
			engine_version = EXCLUDED.engine_version,
			last_analyzed_at = EXCLUDED.last_analyzed_at`

	_, err := s.db.ExecContext(ctx, query,
		a.ShopID,
		a.ScoreOperation, a.ScoreAccuracy, a.ScoreHygiene, a.ScoreSincerity, a.ScoreSafety,
		a.VarianceScore, a.SakuraRisk,
		a.RiskLevel, a.RiskSummary, pq.Array(a.PositivePoints), pq.Array(a.NegativePoints),
		a.AnalyzedReviewCount, a.EngineVersion, a.LastAnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert assessment: %w", err)
	}
	return nil
}

// AssessmentsByShops returns the assessments for a set of shops, keyed by
// shop id. Shops without an assessment are simply absent from the map.
func (s *Store) AssessmentsByShops(ctx context.Context, shopIDs []uuid.UUID) (map[uuid.UUID]Assessment, error) {
	if len(shopIDs) == 0 {
		return map[uuid.UUID]Assessment{}, nil
	}

	query := `SELECT ` + assessmentColumns + ` FROM shop_assessments WHERE shop_id = ANY($1::uuid[])`

	ids := make([]string, len(shopIDs))
	for i, id := range shopIDs {
		ids[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, query, pq.StringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("store: assessments by shops: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Assessment, len(shopIDs))
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan assessment: %w", err)
		}
		out[a.ShopID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate assessments: %w", err)
	}
	return out, nil
}
