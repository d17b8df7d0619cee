package scoring

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ─── CONSTANTS ───────────────────────────────────────────────────────────────

const (
	// maxRatingVariance is the largest possible variance on a 1–5 scale:
	// ratings split evenly between 1 and 5 give (5-1)²/4 = 4.
	maxRatingVariance = 4.0

	shortPraiseMaxRunes = 30  // "short high-praise" text length cutoff
	formulaicMaxRunes   = 100 // "formulaic praise" text length cutoff
	highPraiseMinRating = 4
	formulaicMinMatches = 2
)

// genericPraisePhrases are the stock superlatives that show up in bought
// reviews. Two or more in a short review is a strong shill signal.
var genericPraisePhrases = []string{
	"amazing",
	"the best",
	"highly recommend",
	"will come again",
	"will be back",
	"perfect",
	"excellent",
	"great place",
	"no complaints",
	"very satisfied",
}

// ─── AVERAGE & CLASSIFICATION ────────────────────────────────────────────────

// AverageScore is the arithmetic mean of the five axis scores.
func AverageScore(d AssessmentDraft) float64 {
	return float64(d.ScoreOperation+d.ScoreAccuracy+d.ScoreHygiene+d.ScoreSincerity+d.ScoreSafety) / 5
}

// DetermineRiskLevel classifies a corrected draft into its final risk level.
// It is a pure function of the draft's numeric fields: the model's proposed
// label is never consulted. The rules form a strictly ordered decision list —
// first match wins.
func DetermineRiskLevel(d AssessmentDraft) RiskLevel {
	avg := AverageScore(d)

	switch {
	// 1. Heavy shill contamination dominates everything.
	case d.SakuraRisk >= 60:
		return LevelFake

	// 2–4. Any severe quality signal marks a likely bad experience.
	case d.ScoreAccuracy <= 3:
		return LevelMine
	case avg <= 3.5:
		return LevelMine
	case d.ScoreSafety <= 2:
		return LevelMine

	// 5–6. Polarized outcomes or moderate shill suspicion.
	case d.VarianceScore >= 60:
		return LevelGamble
	case d.SakuraRisk >= 40:
		return LevelGamble

	// 7–8. Clean enough to call safe.
	case avg >= 5.5 && d.SakuraRisk < 50 && d.VarianceScore < 60:
		return LevelSafe
	case avg >= 4.5:
		return LevelSafe

	default:
		return LevelGamble
	}
}

// ─── VARIANCE RECONCILIATION ─────────────────────────────────────────────────

// VarianceFromRatings computes a 0–100 polarization score from the numeric
// ratings: the sample variance normalized by the maximum possible variance
// for a 1–5 scale, rounded to one decimal. Fewer than two ratings give no
// basis for a variance, so the neutral 50.0 is returned.
func VarianceFromRatings(ratings []int) float64 {
	if len(ratings) < 2 {
		return 50.0
	}

	var sum float64
	for _, r := range ratings {
		sum += float64(r)
	}
	mean := sum / float64(len(ratings))

	var sq float64
	for _, r := range ratings {
		d := float64(r) - mean
		sq += d * d
	}
	variance := sq / float64(len(ratings)-1)

	normalized := math.Min(variance/maxRatingVariance*100, 100)
	return math.Round(normalized*10) / 10
}

// ─── SAKURA HEURISTIC ────────────────────────────────────────────────────────

// SuspiciousReview records why a review was flagged, with the text truncated
// for log output.
type SuspiciousReview struct {
	Text    string
	Reasons []string
}

// DetectSakura scans the raw review set for shill patterns, independent of
// anything the model said. Returns the percentage of reviews flagged (0–100)
// and the flagged reviews themselves. An empty review set yields 0.
func DetectSakura(reviews []Review) (int, []SuspiciousReview) {
	if len(reviews) == 0 {
		return 0, nil
	}

	var suspicious []SuspiciousReview

	for _, review := range reviews {
		text := strings.TrimSpace(review.Text)
		var reasons []string

		// Short high-praise: a non-empty review under 30 characters paired
		// with a 4+ rating.
		if text != "" && utf8.RuneCountInString(text) < shortPraiseMaxRunes && review.Rating >= highPraiseMinRating {
			reasons = append(reasons, "short high-praise")
		}

		// Formulaic praise: two or more stock superlatives in a short review.
		if countPraisePhrases(text) >= formulaicMinMatches && utf8.RuneCountInString(text) < formulaicMaxRunes {
			reasons = append(reasons, "formulaic praise")
		}

		// Empty high-praise: a 4+ rating with no text at all.
		if text == "" && review.Rating >= highPraiseMinRating {
			reasons = append(reasons, "empty high-praise")
		}

		if len(reasons) > 0 {
			suspicious = append(suspicious, SuspiciousReview{
				Text:    truncate(text, 50),
				Reasons: reasons,
			})
		}
	}

	risk := int(float64(len(suspicious)) / float64(len(reviews)) * 100)
	return risk, suspicious
}

func countPraisePhrases(text string) int {
	lowered := strings.ToLower(text)
	n := 0
	for _, phrase := range genericPraisePhrases {
		if strings.Contains(lowered, phrase) {
			n++
		}
	}
	return n
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}

// ─── POST-PROCESSING ─────────────────────────────────────────────────────────

// PostProcess turns a recovered model response plus the underlying reviews
// into the corrected draft that gets persisted:
//
//   - the object is parsed strictly, falling back to field-wise repair;
//   - variance is reconciled as the mean of the model's value and the one
//     computed from the ratings — a soft, measurable signal averages well;
//   - sakura risk is the maximum of the model's value and the heuristic —
//     the risk-averse combination, never an average;
//   - the risk level is re-derived from the corrected values, overriding
//     whatever label the model proposed.
func PostProcess(raw map[string]any, reviews []Review) AssessmentDraft {
	d, err := ParseDraft(raw)
	if err != nil {
		d = RepairDraft(raw)
	}

	if len(reviews) > 0 {
		var ratings []int
		for _, r := range reviews {
			if r.Rating > 0 {
				ratings = append(ratings, r.Rating)
			}
		}

		if len(ratings) > 0 {
			computed := VarianceFromRatings(ratings)
			d.VarianceScore = (d.VarianceScore + computed) / 2
		}

		detected, _ := DetectSakura(reviews)
		if detected > d.SakuraRisk {
			d.SakuraRisk = detected
		}
	}

	d.RiskLevel = DetermineRiskLevel(d)
	return d
}

// DefaultDraft builds the neutral assessment used when generation is skipped
// or fails. Its risk level still goes through the classifier, so even the
// default respects the same invariants as a real assessment.
func DefaultDraft(reason string) AssessmentDraft {
	d := AssessmentDraft{
		ScoreOperation: defaultAxisScore,
		ScoreAccuracy:  defaultAxisScore,
		ScoreHygiene:   defaultAxisScore,
		ScoreSincerity: defaultAxisScore,
		ScoreSafety:    defaultAxisScore,
		VarianceScore:  defaultVariance,
		SakuraRisk:     0,
		RiskSummary:    reason,
		PositivePoints: []string{"assessment deferred: not enough data"},
		NegativePoints: []string{"assessment deferred: not enough data"},
	}
	d.RiskLevel = DetermineRiskLevel(d)
	return d
}

// InsufficientDataError signals that a business has too few reviews to
// analyze. The analyzer handles it locally — it is not surfaced as a failure.
type InsufficientDataError struct {
	Have, Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("scoring: %d reviews available, %d required", e.Have, e.Need)
}
