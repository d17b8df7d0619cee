// Package llm defines the interface for text and structured JSON generation
// and provides a Gemini-backed implementation. The JSON path turns a
// free-text model response into a decoded object through a recovery cascade,
// so callers can treat the backend like a typed JSON RPC.
package llm

import (
	"context"
	"fmt"
)

// Generator is the interface the analyzer and search services use to call the
// generation backend. Tests inject a stub that returns canned responses.
type Generator interface {
	// Generate returns a single free-text completion for the prompt.
	//
	// Implementations must be safe to call concurrently and must retry
	// transient backend failures according to their retry policy.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateJSON returns the model response decoded as a JSON object.
	// The raw response text is run through the recovery cascade in
	// ExtractObject before a *ResponseFormatError is returned.
	//
	// If schema is non-nil, the recovered object is validated and the
	// normalized object is returned; a shape mismatch yields a
	// *SchemaValidationError. A nil schema returns the recovered object as-is.
	GenerateJSON(ctx context.Context, prompt string, schema Schema) (map[string]any, error)
}

// Schema validates a decoded JSON object and returns the normalized form.
// Implementations live next to the type they describe (e.g. the assessment
// draft in the scoring package).
type Schema interface {
	ValidateObject(obj map[string]any) (map[string]any, error)
}

// ─── ERROR TAXONOMY ──────────────────────────────────────────────────────────

// TransientError marks a backend failure that is worth retrying: network
// errors, rate limits, 5xx responses. The retry policy matches on it with
// errors.As.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("llm: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ResponseFormatError is returned when the full JSON recovery cascade fails.
// Excerpt holds a bounded slice of the offending response text for logs.
type ResponseFormatError struct {
	Excerpt string
	Err     error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("llm: unrecoverable response format: %v (raw: %.200s)", e.Err, e.Excerpt)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }

// SchemaValidationError is returned when a recovered JSON object does not fit
// the supplied schema.
type SchemaValidationError struct {
	Err error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("llm: schema validation: %v", e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }
