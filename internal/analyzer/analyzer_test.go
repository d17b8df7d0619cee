package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/llm"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubStore struct {
	shops       map[uuid.UUID]store.Shop
	reviews     map[uuid.UUID][]store.Review
	assessments map[uuid.UUID]store.Assessment

	upserts []store.Assessment
}

func newStubStore() *stubStore {
	return &stubStore{
		shops:       map[uuid.UUID]store.Shop{},
		reviews:     map[uuid.UUID][]store.Review{},
		assessments: map[uuid.UUID]store.Assessment{},
	}
}

func (s *stubStore) ShopByID(_ context.Context, id uuid.UUID) (store.Shop, error) {
	shop, ok := s.shops[id]
	if !ok {
		return store.Shop{}, store.ErrNotFound
	}
	return shop, nil
}

func (s *stubStore) RecentReviews(_ context.Context, shopID uuid.UUID, limit int) ([]store.Review, error) {
	reviews := s.reviews[shopID]
	if len(reviews) > limit {
		reviews = reviews[:limit]
	}
	return reviews, nil
}

func (s *stubStore) AssessmentByShop(_ context.Context, shopID uuid.UUID) (store.Assessment, error) {
	a, ok := s.assessments[shopID]
	if !ok {
		return store.Assessment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *stubStore) UpsertAssessment(_ context.Context, a store.Assessment) error {
	s.upserts = append(s.upserts, a)
	s.assessments[a.ShopID] = a
	return nil
}

func (s *stubStore) UnanalyzedShopIDs(context.Context, int) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubStore) OutdatedShopIDs(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

type stubGenerator struct {
	calls    int
	prompts  []string
	response map[string]any
	err      error
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

func (g *stubGenerator) GenerateJSON(_ context.Context, prompt string, _ llm.Schema) (map[string]any, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return g.response, nil
}

func addShop(st *stubStore, reviewCount int) uuid.UUID {
	id := uuid.New()
	st.shops[id] = store.Shop{
		ID:     id,
		Name:   "Test Shop",
		Rating: sql.NullFloat64{Float64: 4.2, Valid: true},
	}
	for i := 0; i < reviewCount; i++ {
		st.reviews[id] = append(st.reviews[id], store.Review{
			ID:     uuid.New(),
			ShopID: id,
			Rating: sql.NullInt64{Int64: 4, Valid: true},
			Text:   sql.NullString{String: "Good service, the room was clean and quiet.", Valid: true},
		})
	}
	return id
}

func goodResponse() map[string]any {
	return map[string]any{
		"score_operation": 8, "score_accuracy": 8, "score_hygiene": 8,
		"score_sincerity": 8, "score_safety": 8,
		"variance_score": 20.0, "sakura_risk": 10,
		"risk_level":      "safe",
		"risk_summary":    "Consistently positive with minor booking complaints.",
		"positive_points": []any{"clean rooms"},
		"negative_points": []any{"hard to book on weekends"},
	}
}

func TestAnalyzeProducesAssessment(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{response: goodResponse()}
	a := New(st, gen, 0, discardLogger())

	shopID := addShop(st, 6)

	got, fresh, err := a.Analyze(context.Background(), shopID, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !fresh {
		t.Error("fresh = false, want true")
	}
	if got.RiskLevel != "safe" {
		t.Errorf("RiskLevel = %q, want safe", got.RiskLevel)
	}
	if got.AnalyzedReviewCount != 6 {
		t.Errorf("AnalyzedReviewCount = %d, want 6", got.AnalyzedReviewCount)
	}
	if got.EngineVersion != EngineVersion {
		t.Errorf("EngineVersion = %q, want %q", got.EngineVersion, EngineVersion)
	}
	if len(st.upserts) != 1 {
		t.Errorf("upserts = %d, want 1", len(st.upserts))
	}
}

func TestAnalyzeSkipsWhenAssessmentExists(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{response: goodResponse()}
	a := New(st, gen, 0, discardLogger())

	shopID := addShop(st, 6)
	existing := store.Assessment{ShopID: shopID, RiskLevel: "gamble", EngineVersion: "0.9.0"}
	st.assessments[shopID] = existing

	got, fresh, err := a.Analyze(context.Background(), shopID, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if fresh {
		t.Error("fresh = true, want false")
	}
	if got.RiskLevel != "gamble" {
		t.Errorf("RiskLevel = %q, want existing gamble", got.RiskLevel)
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
	if len(st.upserts) != 0 {
		t.Errorf("upserts = %d, want 0", len(st.upserts))
	}
}

func TestAnalyzeForceReanalyzes(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{response: goodResponse()}
	a := New(st, gen, 0, discardLogger())

	shopID := addShop(st, 6)
	st.assessments[shopID] = store.Assessment{ShopID: shopID, RiskLevel: "gamble"}

	got, fresh, err := a.Analyze(context.Background(), shopID, true)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !fresh {
		t.Error("fresh = false, want true")
	}
	if got.RiskLevel != "safe" {
		t.Errorf("RiskLevel = %q, want safe", got.RiskLevel)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestAnalyzeTooFewReviewsSkipsGeneration(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{response: goodResponse()}
	a := New(st, gen, 0, discardLogger())

	shopID := addShop(st, 2)

	got, fresh, err := a.Analyze(context.Background(), shopID, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !fresh {
		t.Error("fresh = false, want true")
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
	if !strings.Contains(got.RiskSummary, "deferred") {
		t.Errorf("RiskSummary = %q, want deferral notice", got.RiskSummary)
	}
	// Neutral defaults still pass through the classifier.
	if got.RiskLevel != "safe" {
		t.Errorf("RiskLevel = %q, want safe", got.RiskLevel)
	}
	if len(st.upserts) != 1 {
		t.Errorf("upserts = %d, want 1", len(st.upserts))
	}
}

func TestAnalyzeGenerationFailureFallsBack(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{err: errors.New("backend unavailable: " + strings.Repeat("x", 200))}
	a := New(st, gen, 0, discardLogger())

	shopID := addShop(st, 6)

	got, _, err := a.Analyze(context.Background(), shopID, false)
	if err != nil {
		t.Fatalf("Analyze() error = %v, want fallback instead", err)
	}
	if !strings.HasPrefix(got.RiskSummary, "analysis failed: ") {
		t.Errorf("RiskSummary = %q, want failure prefix", got.RiskSummary)
	}
	if len(got.RiskSummary) > len("analysis failed: ")+100 {
		t.Errorf("RiskSummary length = %d, want failure message truncated to 100", len(got.RiskSummary))
	}
	if len(st.upserts) != 1 {
		t.Errorf("upserts = %d, want 1", len(st.upserts))
	}
}

func TestAnalyzePromptStrategyByVolume(t *testing.T) {
	tests := []struct {
		name         string
		reviewCount  int
		wantFragment string
	}{
		{"detailed at five", 5, "Scoring axes"},
		{"low confidence at three", 3, "conservatively near the middle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStubStore()
			gen := &stubGenerator{response: goodResponse()}
			a := New(st, gen, 0, discardLogger())

			shopID := addShop(st, tt.reviewCount)
			if _, _, err := a.Analyze(context.Background(), shopID, false); err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if gen.calls != 1 {
				t.Fatalf("generator calls = %d, want 1", gen.calls)
			}
			if !strings.Contains(gen.prompts[0], tt.wantFragment) {
				t.Errorf("prompt missing %q", tt.wantFragment)
			}
		})
	}
}

func TestAnalyzeManyCountsOutcomes(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{response: goodResponse()}
	a := New(st, gen, 0, discardLogger())

	fresh := addShop(st, 6)
	assessed := addShop(st, 6)
	st.assessments[assessed] = store.Assessment{ShopID: assessed, RiskLevel: "safe"}
	missing := uuid.New()

	result, err := a.AnalyzeMany(context.Background(), []uuid.UUID{fresh, assessed, missing}, false)
	if err != nil {
		t.Fatalf("AnalyzeMany() error = %v", err)
	}
	if result.Total != 3 || result.Success != 1 || result.Skipped != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want total 3, success 1, skipped 1, failed 1", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].ShopID != missing {
		t.Errorf("Errors = %+v, want one entry for the missing shop", result.Errors)
	}
}

func TestAnalyzeManyStopsOnCancel(t *testing.T) {
	st := newStubStore()
	gen := &stubGenerator{response: goodResponse()}
	a := New(st, gen, time.Hour, discardLogger())

	ids := []uuid.UUID{addShop(st, 6), addShop(st, 6)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := a.AnalyzeMany(ctx, ids, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AnalyzeMany() error = %v, want context.Canceled", err)
	}
	if result.Success+result.Failed+result.Skipped >= 2 {
		t.Errorf("processed %d items, want batch cut short", result.Success+result.Failed+result.Skipped)
	}
}

func TestFormatReviewsPlaceholders(t *testing.T) {
	reviews := []store.Review{
		{Rating: sql.NullInt64{Int64: 5, Valid: true}, Text: sql.NullString{String: "Great.", Valid: true}},
		{},
	}

	got := formatReviews(reviews)
	if !strings.Contains(got, "★★★★★") {
		t.Error("missing star rendering for a 5-star review")
	}
	if !strings.Contains(got, "Rating: N/A") {
		t.Error("missing N/A for an unrated review")
	}
	if !strings.Contains(got, "(no text)") {
		t.Error("missing placeholder for an empty review body")
	}
	if !strings.Contains(got, "anonymous") {
		t.Error("missing anonymous author fallback")
	}
}
