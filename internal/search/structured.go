package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

// StructuredStore is the persistence surface of the criteria-based path.
type StructuredStore interface {
	SearchShops(ctx context.Context, c store.SearchCriteria) ([]store.ShopWithAssessment, error)
}

// StructuredService filters shops by explicit numeric criteria. No model is
// involved on this path.
type StructuredService struct {
	store StructuredStore
}

func NewStructuredService(st StructuredStore) *StructuredService {
	return &StructuredService{store: st}
}

// ByCriteria runs a criteria search directly.
func (s *StructuredService) ByCriteria(ctx context.Context, c store.SearchCriteria) ([]store.ShopWithAssessment, error) {
	shops, err := s.store.SearchShops(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("search: by criteria: %w", err)
	}
	return shops, nil
}

// keyword groups mapped to criteria by ParseQueryCriteria. Matching is
// substring-based on the lowercased query.
var (
	safetyKeywords    = []string{"safe", "safety", "low risk", "trustworthy", "reliable"}
	plantedKeywords   = []string{"fake review", "planted", "shill", "astroturf", "genuine", "authentic"}
	topRatedKeywords  = []string{"top rated", "highly rated", "popular", "recommended", "best"}
	hiddenGemKeywords = []string{"hidden gem", "underrated", "off the beaten"}
)

// ParseQueryCriteria maps keywords in a free-text query onto structured
// criteria. Deliberately a shortcut, not language understanding: a query
// mentioning safety narrows to safe shops, one mentioning fakes tightens the
// planted-review cap, and so on. Later groups may override earlier ones.
func ParseQueryCriteria(query string) store.SearchCriteria {
	var c store.SearchCriteria
	q := strings.ToLower(query)

	if containsAny(q, safetyKeywords) {
		c.RiskLevels = []string{"safe"}
		c.MaxSakuraRisk = intPtr(30)
	}
	if containsAny(q, plantedKeywords) {
		c.MaxSakuraRisk = intPtr(20)
	}
	if containsAny(q, topRatedKeywords) {
		c.MinRating = floatPtr(4.0)
		c.MinScore = intPtr(7)
	}
	if containsAny(q, hiddenGemKeywords) {
		c.RiskLevels = []string{"gamble"}
	}

	return c
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }
