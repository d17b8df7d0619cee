package analyzer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

const analysisSystemPrompt = `You are an expert analyst of customer reviews for local service businesses.
Put the reader's safety first and evaluate the reviews objectively and strictly.
Your job is to see through planted reviews and exaggeration and extract what actually matters to a prospective customer.`

const analysisRubric = `Analyze the reviews below and respond in the specified JSON format.

## Shop
- Name: %s
- Address: %s
- Listed rating: %s (%d reviews)

## Scoring axes (0-10 each; higher is safer / better)

### 1. score_operation (how well-run the business is)
Credit: smooth booking, polite phone/mail handling, punctuality, clear cancellation policy.
Deduct for: "impossible to book", "never answers the phone", "started late", "cut the session short", "sloppy service".

### 2. score_accuracy (truthfulness of listings)
Credit: photos match reality, stated details are accurate, service matches its description.
Deduct heavily for: "nothing like the photos", "misrepresented", "bait and switch", "not what was advertised".

### 3. score_hygiene (cleanliness and environment)
Credit: clean rooms, fresh towels and linens, good ventilation, low noise.
Deduct for: "dirty", "smelly", "mold", "noisy", "thin walls", "stained towels".

### 4. score_sincerity (diligence of the work)
Credit: skill, attentiveness, no corner-cutting.
Deduct for: "phoned it in", "careless", "kept checking the clock", "going through the motions".

### 5. score_safety (psychological safety)
Credit: courteous manner, no pressure, accommodating to requests.
Deduct for: "pushy upselling", "rude", "intimidating", "made me uncomfortable".

## Special determinations

### sakura_risk (planted-review contamination: 0-100%%)
Estimate the share of reviews showing these traits:
- short praise with no specifics ("amazing", "the best", "will come again" and nothing else)
- all praise, no mention of any drawback
- the same phrasing repeated unnaturally
- posting times clustered together

### variance_score (gamble factor: 0-100)
How much the review ratings disagree:
- 0: stable (all high or all low)
- 50: ordinary spread
- 100: sharply split, hit-or-miss

## Risk level criteria

- **safe**: average score 7 or above, sakura_risk under 30%%, no serious problems
- **gamble**: variance_score 60 or above (sharply divided opinions)
- **mine**: score_accuracy 3 or below, or average score 4 or below
- **fake**: sakura_risk 80%% or above

## Output JSON format

` + "```json" + `
{
  "score_operation": <int: 0-10>,
  "score_accuracy": <int: 0-10>,
  "score_hygiene": <int: 0-10>,
  "score_sincerity": <int: 0-10>,
  "score_safety": <int: 0-10>,
  "variance_score": <float: 0-100>,
  "sakura_risk": <int: 0-100>,
  "risk_level": "<string: safe|gamble|mine|fake>",
  "risk_summary": "<string: summary within 3 lines, led by the negatives>",
  "positive_points": ["<string>", ...],
  "negative_points": ["<string>", ...]
}
` + "```" + `

## Reviews under analysis (%d)

%s

---

Analyze the reviews above and output the result as JSON.
If the reviews are few or thin, score what you can and note the limitation in risk_summary.`

const lowConfidenceRubric = `Evaluate the business below as far as its small number of reviews allows.

## Shop
- Name: %s
- Listed rating: %s (%d reviews)

## Reviews
%s

## Output format
With this few reviews the assessment is low-confidence.
Output the JSON below, keeping scores conservatively near the middle (5-6).

` + "```json" + `
{
  "score_operation": <int: 0-10>,
  "score_accuracy": <int: 0-10>,
  "score_hygiene": <int: 0-10>,
  "score_sincerity": <int: 0-10>,
  "score_safety": <int: 0-10>,
  "variance_score": <float: 0-100>,
  "sakura_risk": <int: 0-100>,
  "risk_level": "<string: safe|gamble|mine|fake>",
  "risk_summary": "<string: note that few reviews were available, then summarize what they showed>",
  "positive_points": ["<string>"],
  "negative_points": ["<string>"]
}
` + "```"

// buildDetailedPrompt renders the full rubric for shops with enough reviews.
func buildDetailedPrompt(shop store.Shop, reviews []store.Review) string {
	return fmt.Sprintf(analysisRubric,
		shop.Name,
		orUnknown(shop.FormattedAddress.String),
		listedRating(shop),
		len(reviews),
		len(reviews),
		formatReviews(reviews),
	)
}

// buildLowConfidencePrompt renders the reduced rubric that biases scores
// toward the midpoint when only a handful of reviews exist.
func buildLowConfidencePrompt(shop store.Shop, reviews []store.Review) string {
	return fmt.Sprintf(lowConfidenceRubric,
		shop.Name,
		listedRating(shop),
		len(reviews),
		formatReviews(reviews),
	)
}

// formatReviews renders reviews as numbered blocks with star ratings.
// Missing ratings show as "N/A", missing text as a placeholder, so the model
// sees every review slot even when the source was sparse.
func formatReviews(reviews []store.Review) string {
	var sb strings.Builder
	for i, r := range reviews {
		rating := "N/A"
		if r.Rating.Valid {
			rating = strings.Repeat("★", int(r.Rating.Int64))
		}

		text := strings.TrimSpace(r.Text.String)
		if text == "" {
			text = "(no text)"
		}

		author := r.AuthorName.String
		if author == "" {
			author = "anonymous"
		}

		fmt.Fprintf(&sb, "### Review %d\n- Rating: %s\n- Author: %s\n- Posted: %s\n- Text:\n%s\n\n",
			i+1, rating, author, r.RelativeTime.String, text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func listedRating(shop store.Shop) string {
	if !shop.Rating.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(shop.Rating.Float64, 'f', 1, 64)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
