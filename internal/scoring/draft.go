// Package scoring implements the deterministic post-processing that turns an
// untrusted, model-generated assessment into a bounded, classified verdict.
// It is intentionally dependency-free: it imports nothing from internal/ and
// can be tested without a database or a generation backend.
package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

// RiskLevel is the four-bucket verdict. String values match the Postgres
// column so they can be persisted without conversion.
type RiskLevel string

const (
	LevelSafe   RiskLevel = "safe"   // consistently good reviews, low manipulation signal
	LevelGamble RiskLevel = "gamble" // polarized outcomes — could go either way
	LevelMine   RiskLevel = "mine"   // likely bad experience
	LevelFake   RiskLevel = "fake"   // suspected shill-review contamination
)

// ParseRiskLevel normalizes a model-proposed label. Anything unrecognized
// falls back to gamble — the label is advisory input only and is re-derived
// by DetermineRiskLevel before persistence anyway.
func ParseRiskLevel(s string) RiskLevel {
	switch level := RiskLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case LevelSafe, LevelGamble, LevelMine, LevelFake:
		return level
	default:
		return LevelGamble
	}
}

// Review is the minimal slice of a review record the scoring heuristics need.
// Rating is 0 when the source had none.
type Review struct {
	Text   string
	Rating int
}

// ─── DRAFT ───────────────────────────────────────────────────────────────────

// Neutral defaults used when a field of the model response cannot be used.
const (
	defaultAxisScore  = 5
	defaultVariance   = 50
	defaultSakuraRisk = 50
)

// AssessmentDraft is the structured shape expected from the generation
// backend: five axis scores in [0,10], variance and sakura risk in [0,100],
// a proposed label and narrative. It is a draft — every instance must pass
// through PostProcess before anything is persisted.
type AssessmentDraft struct {
	ScoreOperation int
	ScoreAccuracy  int
	ScoreHygiene   int
	ScoreSincerity int
	ScoreSafety    int

	VarianceScore float64
	SakuraRisk    int

	RiskLevel      RiskLevel
	RiskSummary    string
	PositivePoints []string
	NegativePoints []string
}

// ParseDraft decodes a recovered JSON object into an AssessmentDraft,
// requiring every numeric field to be coercible into its range. A failure
// here is not fatal to the pipeline — the caller falls back to RepairDraft.
func ParseDraft(obj map[string]any) (AssessmentDraft, error) {
	var d AssessmentDraft
	var err error

	fields := []struct {
		key string
		dst *int
	}{
		{"score_operation", &d.ScoreOperation},
		{"score_accuracy", &d.ScoreAccuracy},
		{"score_hygiene", &d.ScoreHygiene},
		{"score_sincerity", &d.ScoreSincerity},
		{"score_safety", &d.ScoreSafety},
	}
	for _, f := range fields {
		if *f.dst, err = intInRange(obj, f.key, 0, 10); err != nil {
			return AssessmentDraft{}, err
		}
	}

	if d.VarianceScore, err = floatInRange(obj, "variance_score", 0, 100); err != nil {
		return AssessmentDraft{}, err
	}
	if d.SakuraRisk, err = intInRange(obj, "sakura_risk", 0, 100); err != nil {
		return AssessmentDraft{}, err
	}

	label, _ := obj["risk_level"].(string)
	d.RiskLevel = ParseRiskLevel(label)
	d.RiskSummary, _ = obj["risk_summary"].(string)
	d.PositivePoints = stringList(obj["positive_points"])
	d.NegativePoints = stringList(obj["negative_points"])

	return d, nil
}

// RepairDraft rebuilds a draft field-by-field from whatever survives of a
// partially valid model response, substituting the neutral default for each
// unusable field and clamping the rest. It never fails — repairing retains
// more signal than discarding the whole response.
func RepairDraft(obj map[string]any) AssessmentDraft {
	d := AssessmentDraft{
		ScoreOperation: clampInt(numericOr(obj, "score_operation", defaultAxisScore), 0, 10),
		ScoreAccuracy:  clampInt(numericOr(obj, "score_accuracy", defaultAxisScore), 0, 10),
		ScoreHygiene:   clampInt(numericOr(obj, "score_hygiene", defaultAxisScore), 0, 10),
		ScoreSincerity: clampInt(numericOr(obj, "score_sincerity", defaultAxisScore), 0, 10),
		ScoreSafety:    clampInt(numericOr(obj, "score_safety", defaultAxisScore), 0, 10),
		VarianceScore:  clampFloat(floatOr(obj, "variance_score", defaultVariance), 0, 100),
		SakuraRisk:     clampInt(numericOr(obj, "sakura_risk", defaultSakuraRisk), 0, 100),
		PositivePoints: stringList(obj["positive_points"]),
		NegativePoints: stringList(obj["negative_points"]),
	}

	label, _ := obj["risk_level"].(string)
	d.RiskLevel = ParseRiskLevel(label)
	if summary, ok := obj["risk_summary"].(string); ok {
		d.RiskSummary = summary
	} else {
		d.RiskSummary = "assessment response failed validation and was repaired"
	}

	return d
}

// ─── COERCION HELPERS ────────────────────────────────────────────────────────

// asFloat coerces the loose value types a decoded model response can carry.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intInRange(obj map[string]any, key string, min, max int) (int, error) {
	f, ok := asFloat(obj[key])
	if !ok {
		return 0, fmt.Errorf("scoring: field %q missing or not numeric", key)
	}
	n := int(f)
	if n < min || n > max {
		return 0, fmt.Errorf("scoring: field %q=%d out of range [%d,%d]", key, n, min, max)
	}
	return n, nil
}

func floatInRange(obj map[string]any, key string, min, max float64) (float64, error) {
	f, ok := asFloat(obj[key])
	if !ok {
		return 0, fmt.Errorf("scoring: field %q missing or not numeric", key)
	}
	if f < min || f > max {
		return 0, fmt.Errorf("scoring: field %q=%g out of range [%g,%g]", key, f, min, max)
	}
	return f, nil
}

func numericOr(obj map[string]any, key string, fallback int) int {
	if f, ok := asFloat(obj[key]); ok {
		return int(f)
	}
	return fallback
}

func floatOr(obj map[string]any, key string, fallback float64) float64 {
	if f, ok := asFloat(obj[key]); ok {
		return f
	}
	return fallback
}

// stringList accepts a []any of strings, a bare string, or nothing.
func stringList(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	case string:
		return []string{vv}
	default:
		return []string{}
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
