// Package search answers natural-language and structured queries over the
// review corpus: vector retrieval, per-shop aggregation, and a chat surface
// that narrates the results.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/embedding"
	"github.com/hokuto-dev/reviewlens-backend/internal/llm"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

const (
	// defaultSimilarityThreshold cuts off weakly related reviews.
	defaultSimilarityThreshold = 0.5

	// overfetchFactor widens the review query so that aggregation still has
	// enough shops after grouping.
	overfetchFactor = 3

	// maxPreviewsPerShop caps matched-review previews in the answer context.
	maxPreviewsPerShop = 3

	// previewRunes truncates long review text in the answer context.
	previewRunes = 100
)

// Store is the persistence surface of the retrieval path.
type Store interface {
	VectorSearch(ctx context.Context, vector []float32, limit int) ([]store.SimilarityHit, error)
	AssessmentsByShops(ctx context.Context, shopIDs []uuid.UUID) (map[uuid.UUID]store.Assessment, error)
}

// MatchedReview is one review backing a shop's relevance.
type MatchedReview struct {
	Text       string  `json:"text"`
	Rating     int     `json:"rating,omitempty"`
	Similarity float64 `json:"similarity"`
}

// ShopResult is one shop in a retrieval result: its best similarity, the
// reviews that matched, and the assessment when one exists.
type ShopResult struct {
	ShopID     uuid.UUID         `json:"shop_id"`
	ShopName   string            `json:"shop_name"`
	Relevance  float64           `json:"relevance_score"`
	Reviews    []MatchedReview   `json:"matched_reviews"`
	Assessment *store.Assessment `json:"analytics,omitempty"`
}

// ChatResponse is the chat search envelope: the answer plus the results it
// was written from.
type ChatResponse struct {
	Query   string       `json:"query"`
	Answer  string       `json:"answer"`
	Results []ShopResult `json:"results"`
	Total   int          `json:"total_results"`
}

// RAGService runs retrieval-augmented search: embed the query, find similar
// reviews, aggregate per shop, and optionally narrate.
type RAGService struct {
	store    Store
	embedder embedding.Embedder
	gen      llm.Generator
	logger   *slog.Logger
}

func NewRAGService(st Store, emb embedding.Embedder, gen llm.Generator, logger *slog.Logger) *RAGService {
	return &RAGService{store: st, embedder: emb, gen: gen, logger: logger}
}

// VectorSearch returns the reviews most similar to the query, dropping hits
// below the threshold. threshold <= 0 means the default.
func (s *RAGService) VectorSearch(ctx context.Context, query string, limit int, threshold float64) ([]store.SimilarityHit, error) {
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	hits, err := s.store.VectorSearch(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search: vector search: %w", err)
	}

	filtered := hits[:0]
	for _, h := range hits {
		if h.Similarity >= threshold {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// SearchShops retrieves similar reviews and aggregates them per shop. A
// shop's relevance is its best review similarity; results are ordered by
// relevance, best first, and capped at limit.
func (s *RAGService) SearchShops(ctx context.Context, query string, limit int) ([]ShopResult, error) {
	hits, err := s.VectorSearch(ctx, query, limit*overfetchFactor, defaultSimilarityThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	byShop := make(map[uuid.UUID]*ShopResult)
	var order []uuid.UUID

	for _, h := range hits {
		r, ok := byShop[h.ShopID]
		if !ok {
			r = &ShopResult{
				ShopID:    h.ShopID,
				ShopName:  h.ShopName,
				Relevance: h.Similarity,
			}
			byShop[h.ShopID] = r
			order = append(order, h.ShopID)
		}

		r.Reviews = append(r.Reviews, MatchedReview{
			Text:       h.ReviewText,
			Rating:     int(h.Rating.Int64),
			Similarity: h.Similarity,
		})
		if h.Similarity > r.Relevance {
			r.Relevance = h.Similarity
		}
	}

	assessments, err := s.store.AssessmentsByShops(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("search: load assessments: %w", err)
	}

	results := make([]ShopResult, 0, len(order))
	for _, id := range order {
		r := *byShop[id]
		if a, ok := assessments[id]; ok {
			a := a
			r.Assessment = &a
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ChatSearch answers a natural-language query. With no matches it returns a
// fixed apology; with matches it asks the generation backend for a short
// answer, falling back to a templated one naming the top shops when
// generation fails. Retrieval errors still propagate.
func (s *RAGService) ChatSearch(ctx context.Context, query string, limit int) (ChatResponse, error) {
	results, err := s.SearchShops(ctx, query, limit)
	if err != nil {
		return ChatResponse{}, err
	}

	if len(results) == 0 {
		return ChatResponse{
			Query:   query,
			Answer:  "Sorry, no businesses matched your search. Try different wording or looser criteria.",
			Results: []ShopResult{},
		}, nil
	}

	return ChatResponse{
		Query:   query,
		Answer:  s.generateAnswer(ctx, query, results),
		Results: results,
		Total:   len(results),
	}, nil
}

func (s *RAGService) generateAnswer(ctx context.Context, query string, results []ShopResult) string {
	answer, err := s.gen.Generate(ctx, buildAnswerPrompt(query, results))
	if err != nil {
		s.logger.Error("search: answer generation failed", "error", err)
		return fallbackAnswer(results)
	}
	return strings.TrimSpace(answer)
}

// buildAnswerPrompt assembles the answer context: per shop its risk verdict
// and up to maxPreviewsPerShop truncated review excerpts.
func buildAnswerPrompt(query string, results []ShopResult) string {
	var sb strings.Builder

	for i, r := range results {
		fmt.Fprintf(&sb, "[Shop %d] %s\n", i+1, r.ShopName)
		if a := r.Assessment; a != nil {
			fmt.Fprintf(&sb, "- Risk level: %s\n", a.RiskLevel)
			if a.RiskSummary != "" {
				fmt.Fprintf(&sb, "- Assessment: %s\n", a.RiskSummary)
			}
		}
		sb.WriteString("- Matched reviews:\n")
		for j, rev := range r.Reviews {
			if j == maxPreviewsPerShop {
				break
			}
			stars := ""
			if rev.Rating > 0 {
				stars = fmt.Sprintf("★%d ", rev.Rating)
			}
			fmt.Fprintf(&sb, "  %d. %s%s...\n", j+1, stars, truncateRunes(rev.Text, previewRunes))
		}
		sb.WriteString("\n")
	}

	return fmt.Sprintf(`You are a search assistant for local service businesses.
Answer the user's question concisely and usefully, based only on the search results.

## Question
%s

## Search results
%s
## Guidelines
- Keep it short (about 3-5 sentences)
- Recommend shops by name
- Mention risk information where it exists
- Warn about shops with a high planted-review risk
- Never invent or guess; stick to the results

Answer:`, query, sb.String())
}

// fallbackAnswer names the top shops when generation is unavailable.
func fallbackAnswer(results []ShopResult) string {
	names := make([]string, 0, maxPreviewsPerShop)
	for i, r := range results {
		if i == maxPreviewsPerShop {
			break
		}
		names = append(names, r.ShopName)
	}
	return fmt.Sprintf("These businesses look like a match: %s. Check each one's details for more.",
		strings.Join(names, ", "))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
