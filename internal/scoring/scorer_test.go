package scoring_test

import (
	"strings"
	"testing"

	"github.com/hokuto-dev/reviewlens-backend/internal/scoring"
)

// draft returns a baseline draft that classifies as safe; tests override
// single fields to exercise individual rules.
func draft() scoring.AssessmentDraft {
	return scoring.AssessmentDraft{
		ScoreOperation: 7,
		ScoreAccuracy:  7,
		ScoreHygiene:   7,
		ScoreSincerity: 7,
		ScoreSafety:    7,
		VarianceScore:  20,
		SakuraRisk:     10,
		RiskLevel:      scoring.LevelSafe,
	}
}

// ─── DetermineRiskLevel ──────────────────────────────────────────────────────

func TestDetermineRiskLevel_OrderedRules(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*scoring.AssessmentDraft)
		want   scoring.RiskLevel
	}{
		{"baseline is safe", func(d *scoring.AssessmentDraft) {}, scoring.LevelSafe},
		{"sakura >= 60 is fake", func(d *scoring.AssessmentDraft) { d.SakuraRisk = 60 }, scoring.LevelFake},
		{"accuracy <= 3 is mine", func(d *scoring.AssessmentDraft) { d.ScoreAccuracy = 3 }, scoring.LevelMine},
		{"low average is mine", func(d *scoring.AssessmentDraft) {
			d.ScoreOperation, d.ScoreAccuracy, d.ScoreHygiene, d.ScoreSincerity, d.ScoreSafety = 4, 4, 3, 3, 3
		}, scoring.LevelMine},
		{"safety <= 2 is mine", func(d *scoring.AssessmentDraft) { d.ScoreSafety = 2 }, scoring.LevelMine},
		{"variance >= 60 is gamble", func(d *scoring.AssessmentDraft) { d.VarianceScore = 60 }, scoring.LevelGamble},
		{"sakura in [40,60) is gamble", func(d *scoring.AssessmentDraft) { d.SakuraRisk = 40 }, scoring.LevelGamble},
		{"mid average >= 4.5 is safe", func(d *scoring.AssessmentDraft) {
			d.ScoreOperation, d.ScoreAccuracy, d.ScoreHygiene, d.ScoreSincerity, d.ScoreSafety = 5, 5, 5, 4, 4
		}, scoring.LevelSafe},
		{"below 4.5 average falls to gamble", func(d *scoring.AssessmentDraft) {
			d.ScoreOperation, d.ScoreAccuracy, d.ScoreHygiene, d.ScoreSincerity, d.ScoreSafety = 4, 5, 4, 4, 4
		}, scoring.LevelGamble},
		// fake outranks mine even when both conditions hold.
		{"sakura beats accuracy", func(d *scoring.AssessmentDraft) {
			d.SakuraRisk = 70
			d.ScoreAccuracy = 1
		}, scoring.LevelFake},
		// variance gamble outranks the safe rules.
		{"variance beats high average", func(d *scoring.AssessmentDraft) {
			d.ScoreOperation, d.ScoreAccuracy, d.ScoreHygiene, d.ScoreSincerity, d.ScoreSafety = 9, 9, 9, 9, 9
			d.VarianceScore = 75
		}, scoring.LevelGamble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draft()
			tt.modify(&d)
			if got := scoring.DetermineRiskLevel(d); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetermineRiskLevel_Deterministic(t *testing.T) {
	d := draft()
	d.SakuraRisk = 45
	first := scoring.DetermineRiskLevel(d)
	for i := 0; i < 10; i++ {
		if got := scoring.DetermineRiskLevel(d); got != first {
			t.Fatalf("classification changed between runs: %q then %q", first, got)
		}
	}
}

func TestDetermineRiskLevel_SakuraThresholdMonotonic(t *testing.T) {
	d := draft()

	d.SakuraRisk = 59
	if got := scoring.DetermineRiskLevel(d); got == scoring.LevelFake {
		t.Errorf("sakura 59 should not be fake, got %q", got)
	}

	d.SakuraRisk = 60
	if got := scoring.DetermineRiskLevel(d); got != scoring.LevelFake {
		t.Errorf("sakura 60 should be fake, got %q", got)
	}
}

// ─── VarianceFromRatings ─────────────────────────────────────────────────────

func TestVarianceFromRatings(t *testing.T) {
	tests := []struct {
		name    string
		ratings []int
		want    float64
	}{
		{"nil", nil, 50.0},
		{"single rating", []int{5}, 50.0},
		{"identical ratings", []int{4, 4, 4, 4}, 0.0},
		// sample variance of [1,1,1,5,5,5] is 4.8 → min(4.8/4×100, 100) = 100.0
		{"split extremes capped at 100", []int{1, 1, 1, 5, 5, 5}, 100.0},
		// [1,5]: variance 8 → capped
		{"pair of extremes", []int{1, 5}, 100.0},
		// [3,4,5]: variance 1 → 25.0
		{"moderate spread", []int{3, 4, 5}, 25.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scoring.VarianceFromRatings(tt.ratings); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── DetectSakura ────────────────────────────────────────────────────────────

func TestDetectSakura_ShortHighPraiseRatio(t *testing.T) {
	reviews := make([]scoring.Review, 0, 10)
	// 3 short high-praise reviews.
	for i := 0; i < 3; i++ {
		reviews = append(reviews, scoring.Review{Text: "So good!", Rating: 5})
	}
	// 7 substantive reviews long enough to pass.
	for i := 0; i < 7; i++ {
		reviews = append(reviews, scoring.Review{
			Text:   "The staff walked me through every option and the room itself was spotless; pricing matched the listing exactly.",
			Rating: 4,
		})
	}

	risk, flagged := scoring.DetectSakura(reviews)
	if risk != 30 {
		t.Errorf("risk: got %d, want 30", risk)
	}
	if len(flagged) != 3 {
		t.Errorf("flagged: got %d, want 3", len(flagged))
	}
}

func TestDetectSakura_Patterns(t *testing.T) {
	tests := []struct {
		name    string
		review  scoring.Review
		flagged bool
		reason  string
	}{
		{"short high-praise", scoring.Review{Text: "Loved it!", Rating: 5}, true, "short high-praise"},
		{"short but low rating", scoring.Review{Text: "Loved it!", Rating: 2}, false, ""},
		{"formulaic praise", scoring.Review{Text: "Amazing experience, highly recommend to everyone.", Rating: 3}, true, "formulaic praise"},
		{"single stock phrase is fine", scoring.Review{Text: "It was amazing overall but the wait dragged on for ages and nobody apologized for it at any point during my visit.", Rating: 3}, false, ""},
		{"empty high-praise", scoring.Review{Text: "", Rating: 4}, true, "empty high-praise"},
		{"empty low rating", scoring.Review{Text: "", Rating: 2}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, flagged := scoring.DetectSakura([]scoring.Review{tt.review})
			if tt.flagged {
				if risk != 100 || len(flagged) != 1 {
					t.Fatalf("expected flagged, got risk=%d flagged=%d", risk, len(flagged))
				}
				found := false
				for _, r := range flagged[0].Reasons {
					if r == tt.reason {
						found = true
					}
				}
				if !found {
					t.Errorf("reasons %v missing %q", flagged[0].Reasons, tt.reason)
				}
			} else if risk != 0 {
				t.Errorf("expected clean, got risk=%d", risk)
			}
		})
	}
}

func TestDetectSakura_EmptySet(t *testing.T) {
	if risk, _ := scoring.DetectSakura(nil); risk != 0 {
		t.Errorf("expected 0, got %d", risk)
	}
}

func TestDetectSakura_TruncatesFlaggedText(t *testing.T) {
	long := "Amazing, the best " + strings.Repeat("x", 60)
	_, flagged := scoring.DetectSakura([]scoring.Review{{Text: long, Rating: 5}})
	if len(flagged) != 1 {
		t.Fatalf("expected 1 flagged, got %d", len(flagged))
	}
	if !strings.HasSuffix(flagged[0].Text, "...") {
		t.Errorf("expected truncated text, got %q", flagged[0].Text)
	}
}

// ─── ParseDraft / RepairDraft ────────────────────────────────────────────────

func validObject() map[string]any {
	return map[string]any{
		"score_operation": float64(7),
		"score_accuracy":  float64(8),
		"score_hygiene":   float64(6),
		"score_sincerity": float64(7),
		"score_safety":    float64(8),
		"variance_score":  float64(25),
		"sakura_risk":     float64(15),
		"risk_level":      "safe",
		"risk_summary":    "mostly positive with minor booking friction",
		"positive_points": []any{"clean rooms", "responsive staff"},
		"negative_points": []any{"hard to book weekends"},
	}
}

func TestParseDraft_Valid(t *testing.T) {
	d, err := scoring.ParseDraft(validObject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ScoreAccuracy != 8 || d.SakuraRisk != 15 || d.VarianceScore != 25 {
		t.Errorf("unexpected draft: %+v", d)
	}
	if len(d.PositivePoints) != 2 || len(d.NegativePoints) != 1 {
		t.Errorf("point lists: %v / %v", d.PositivePoints, d.NegativePoints)
	}
}

func TestParseDraft_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"axis too high", "score_operation", float64(11)},
		{"axis negative", "score_safety", float64(-1)},
		{"variance too high", "variance_score", float64(101)},
		{"sakura too high", "sakura_risk", float64(150)},
		{"missing field", "score_accuracy", nil},
		{"non-numeric", "score_hygiene", "high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := validObject()
			if tt.value == nil {
				delete(obj, tt.key)
			} else {
				obj[tt.key] = tt.value
			}
			if _, err := scoring.ParseDraft(obj); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDraft_CoercesNumericStrings(t *testing.T) {
	obj := validObject()
	obj["sakura_risk"] = "35"
	d, err := scoring.ParseDraft(obj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SakuraRisk != 35 {
		t.Errorf("sakura_risk: got %d", d.SakuraRisk)
	}
}

func TestRepairDraft_FillsDefaultsAndClamps(t *testing.T) {
	d := scoring.RepairDraft(map[string]any{
		"score_operation": float64(14), // clamped to 10
		"sakura_risk":     float64(-5), // clamped to 0
		"risk_level":      "catastrophic",
	})

	if d.ScoreOperation != 10 {
		t.Errorf("score_operation: got %d, want 10", d.ScoreOperation)
	}
	if d.SakuraRisk != 0 {
		t.Errorf("sakura_risk: got %d, want 0", d.SakuraRisk)
	}
	// Missing fields get neutral defaults.
	if d.ScoreAccuracy != 5 || d.VarianceScore != 50 {
		t.Errorf("defaults not applied: %+v", d)
	}
	// Unknown label falls back to gamble.
	if d.RiskLevel != scoring.LevelGamble {
		t.Errorf("risk_level: got %q", d.RiskLevel)
	}
	if len(d.PositivePoints) != 0 || len(d.NegativePoints) != 0 {
		t.Errorf("point lists should be empty: %v / %v", d.PositivePoints, d.NegativePoints)
	}
}

func TestRepairDraft_SingleStringBecomesList(t *testing.T) {
	d := scoring.RepairDraft(map[string]any{"positive_points": "friendly staff"})
	if len(d.PositivePoints) != 1 || d.PositivePoints[0] != "friendly staff" {
		t.Errorf("got %v", d.PositivePoints)
	}
}

// ─── PostProcess ─────────────────────────────────────────────────────────────

func TestPostProcess_SakuraTakesMax(t *testing.T) {
	obj := validObject()
	obj["sakura_risk"] = float64(10)

	// 3 of 10 reviews short high-praise → heuristic 30 > model 10.
	reviews := make([]scoring.Review, 0, 10)
	for i := 0; i < 3; i++ {
		reviews = append(reviews, scoring.Review{Text: "Best ever!", Rating: 5})
	}
	for i := 0; i < 7; i++ {
		reviews = append(reviews, scoring.Review{
			Text:   "Booked twice now; both sessions started on time and the therapist adjusted pressure when asked.",
			Rating: 4,
		})
	}

	d := scoring.PostProcess(obj, reviews)
	if d.SakuraRisk != 30 {
		t.Errorf("sakura_risk: got %d, want 30 (max of model 10 and heuristic 30)", d.SakuraRisk)
	}
}

func TestPostProcess_SakuraKeepsModelValueWhenHigher(t *testing.T) {
	obj := validObject()
	obj["sakura_risk"] = float64(55)

	reviews := []scoring.Review{
		{Text: "Detailed write-up of a perfectly ordinary visit with nothing remarkable either way to report.", Rating: 3},
		{Text: "Second visit was slower than the first but the outcome was the same solid experience overall.", Rating: 4},
	}

	d := scoring.PostProcess(obj, reviews)
	if d.SakuraRisk != 55 {
		t.Errorf("sakura_risk: got %d, want 55", d.SakuraRisk)
	}
}

func TestPostProcess_VarianceIsAveraged(t *testing.T) {
	obj := validObject()
	obj["variance_score"] = float64(40)

	// Ratings [1,1,1,5,5,5] → computed 100.0 → persisted (40+100)/2 = 70.
	reviews := []scoring.Review{
		{Text: "terrible", Rating: 1}, {Text: "awful", Rating: 1}, {Text: "bad", Rating: 1},
		{Text: "the whole session exceeded what the listing promised in every respect", Rating: 5},
		{Text: "clean, punctual, and honest about pricing from the first phone call", Rating: 5},
		{Text: "found my regular spot after years of disappointments elsewhere nearby", Rating: 5},
	}

	d := scoring.PostProcess(obj, reviews)
	if d.VarianceScore != 70 {
		t.Errorf("variance: got %v, want 70", d.VarianceScore)
	}
}

func TestPostProcess_RepairsInvalidResponse(t *testing.T) {
	// Out-of-range axis forces the repair path; the result is still bounded
	// and classified.
	obj := map[string]any{
		"score_operation": float64(99),
		"risk_level":      "safe",
	}

	d := scoring.PostProcess(obj, nil)
	if d.ScoreOperation != 10 {
		t.Errorf("score_operation: got %d, want 10", d.ScoreOperation)
	}
	if d.RiskLevel != scoring.DetermineRiskLevel(d) {
		t.Errorf("risk level not re-derived: %q", d.RiskLevel)
	}
}

func TestPostProcess_OverridesModelLabel(t *testing.T) {
	obj := validObject()
	obj["risk_level"] = "safe"
	obj["sakura_risk"] = float64(90) // classifier must say fake regardless

	d := scoring.PostProcess(obj, nil)
	if d.RiskLevel != scoring.LevelFake {
		t.Errorf("got %q, want fake", d.RiskLevel)
	}
}

func TestPostProcess_BoundsAlwaysHold(t *testing.T) {
	hostile := map[string]any{
		"score_operation": float64(-3),
		"score_accuracy":  float64(200),
		"score_hygiene":   "not a number",
		"variance_score":  float64(-50),
		"sakura_risk":     float64(400),
	}
	d := scoring.PostProcess(hostile, nil)

	for name, v := range map[string]int{
		"score_operation": d.ScoreOperation,
		"score_accuracy":  d.ScoreAccuracy,
		"score_hygiene":   d.ScoreHygiene,
		"score_sincerity": d.ScoreSincerity,
		"score_safety":    d.ScoreSafety,
	} {
		if v < 0 || v > 10 {
			t.Errorf("%s out of bounds: %d", name, v)
		}
	}
	if d.VarianceScore < 0 || d.VarianceScore > 100 {
		t.Errorf("variance out of bounds: %v", d.VarianceScore)
	}
	if d.SakuraRisk < 0 || d.SakuraRisk > 100 {
		t.Errorf("sakura out of bounds: %d", d.SakuraRisk)
	}
}

// ─── DefaultDraft ────────────────────────────────────────────────────────────

func TestDefaultDraft_ClassifiedNotPlaceholder(t *testing.T) {
	d := scoring.DefaultDraft("not enough reviews to analyze")

	// avg 5, sakura 0, variance 50 → falls through to the avg >= 4.5 rule.
	if d.RiskLevel != scoring.LevelSafe {
		t.Errorf("got %q, want safe", d.RiskLevel)
	}
	if d.RiskSummary != "not enough reviews to analyze" {
		t.Errorf("summary: got %q", d.RiskSummary)
	}
	if d.SakuraRisk != 0 || d.VarianceScore != 50 {
		t.Errorf("unexpected defaults: %+v", d)
	}
}

// ─── ParseRiskLevel ──────────────────────────────────────────────────────────

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in   string
		want scoring.RiskLevel
	}{
		{"safe", scoring.LevelSafe},
		{"SAFE", scoring.LevelSafe},
		{" mine ", scoring.LevelMine},
		{"fake", scoring.LevelFake},
		{"gamble", scoring.LevelGamble},
		{"unknown", scoring.LevelGamble},
		{"", scoring.LevelGamble},
	}
	for _, tt := range tests {
		if got := scoring.ParseRiskLevel(tt.in); got != tt.want {
			t.Errorf("ParseRiskLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
