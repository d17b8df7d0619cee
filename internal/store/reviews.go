package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const reviewColumns = `id, shop_id, author_name, rating, text, relative_time_description, raw_data`

func scanReview(row interface{ Scan(...any) error }) (Review, error) {
	var r Review
	err := row.Scan(
		&r.ID,
		&r.ShopID,
		&r.AuthorName,
		&r.Rating,
		&r.Text,
		&r.RelativeTime,
		&r.RawData,
	)
	return r, err
}

// RecentReviews returns the newest reviews for a shop, bounded by limit.
func (s *Store) RecentReviews(ctx context.Context, shopID uuid.UUID, limit int) ([]Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE shop_id = $1
		ORDER BY time DESC
		LIMIT $2`

	return s.queryReviews(ctx, query, shopID, limit)
}

// ReviewsWithoutEmbedding returns reviews that have text but no vector yet,
// bounded by limit. The embedding batch job works through these.
func (s *Store) ReviewsWithoutEmbedding(ctx context.Context, limit int) ([]Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE embedding IS NULL
		  AND text IS NOT NULL
		  AND text <> ''
		LIMIT $1`

	return s.queryReviews(ctx, query, limit)
}

// ShopReviewsWithoutEmbedding returns one shop's unembedded reviews.
func (s *Store) ShopReviewsWithoutEmbedding(ctx context.Context, shopID uuid.UUID) ([]Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE shop_id = $1
		  AND embedding IS NULL
		  AND text IS NOT NULL
		  AND text <> ''`

	return s.queryReviews(ctx, query, shopID)
}

func (s *Store) queryReviews(ctx context.Context, query string, args ...any) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate reviews: %w", err)
	}
	return reviews, nil
}

// ─── EMBEDDINGS ──────────────────────────────────────────────────────────────

// SaveReviewEmbedding attaches a vector to one review. The vector is written
// in pgvector text form.
func (s *Store) SaveReviewEmbedding(ctx context.Context, reviewID uuid.UUID, vector []float32) error {
	const query = `UPDATE reviews SET embedding = CAST($1 AS vector) WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, vectorLiteral(vector), reviewID); err != nil {
		return fmt.Errorf("store: save embedding: %w", err)
	}
	return nil
}

// VectorSearch returns the top-limit reviews by cosine similarity to the
// query vector, joined with their shop names. Only reviews that have an
// embedding participate; zero vectors rank last naturally.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, limit int) ([]SimilarityHit, error) {
	const query = `
		SELECT
			r.id,
			r.shop_id,
			s.name,
			r.text,
			r.rating,
			1 - (r.embedding <=> CAST($1 AS vector)) AS similarity
		FROM reviews r
		JOIN shops s ON s.id = r.shop_id
		WHERE r.embedding IS NOT NULL
		ORDER BY r.embedding <=> CAST($1 AS vector)
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	defer rows.Close()

	var hits []SimilarityHit
	for rows.Next() {
		var h SimilarityHit
		if err := rows.Scan(&h.ReviewID, &h.ShopID, &h.ShopName, &h.ReviewText, &h.Rating, &h.Similarity); err != nil {
			return nil, fmt.Errorf("store: scan similarity hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate similarity hits: %w", err)
	}
	return hits, nil
}

// vectorLiteral renders a float slice in pgvector's "[x,y,z]" text form.
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
