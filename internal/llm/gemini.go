package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiClient is the concrete Generator backed by the Gemini REST API.
type geminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	retry      RetryPolicy
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient returns a Generator that calls the Gemini API.
//   - apiKey: your GEMINI_API_KEY
//   - model:  e.g. "gemini-2.5-flash"
func NewGeminiClient(apiKey, model string, retry RetryPolicy, logger *slog.Logger) Generator {
	return &geminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiBaseURL,
		retry:   retry,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: logger,
	}
}

// ─── GEMINI API SHAPES ───────────────────────────────────────────────────────

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	// ResponseMIMEType set to "application/json" switches the model into
	// JSON mode; empty means plain text.
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ─── IMPLEMENTATION ──────────────────────────────────────────────────────────

// Generate returns a free-text completion, retrying transient failures under
// the configured policy.
func (c *geminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	cfg := generationConfig{
		Temperature:     0.3,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 4096,
	}

	var text string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = c.call(ctx, prompt, cfg)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateJSON asks for a JSON-mode completion and decodes it through the
// recovery cascade. Transient backend failures are retried; a malformed
// response is not — retrying the parse of the same text cannot help, and
// re-generation is the caller's decision.
func (c *geminiClient) GenerateJSON(ctx context.Context, prompt string, schema Schema) (map[string]any, error) {
	cfg := generationConfig{
		Temperature:      0.2,
		TopP:             0.95,
		TopK:             40,
		MaxOutputTokens:  8192,
		ResponseMIMEType: "application/json",
	}

	var text string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = c.call(ctx, prompt, cfg)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	obj, err := ExtractObject(text)
	if err != nil {
		c.logger.Error("llm: JSON recovery failed", "model", c.model, "error", err)
		return nil, err
	}

	if schema != nil {
		normalized, err := schema.ValidateObject(obj)
		if err != nil {
			return nil, &SchemaValidationError{Err: err}
		}
		return normalized, nil
	}

	return obj, nil
}

// call sends one generateContent request and returns the text of the first
// candidate part.
func (c *geminiClient) call(ctx context.Context, prompt string, cfg generationConfig) (string, error) {
	reqBody := geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: cfg,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // 4 MB cap
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if retryableStatus(resp.StatusCode) {
		return "", &TransientError{Err: fmt.Errorf("status %d: %.200s", resp.StatusCode, respBytes)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("llm: API error %s: %s", parsed.Error.Status, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}

	return "", fmt.Errorf("llm: no text content in response")
}

// retryableStatus reports whether an HTTP status indicates a transient
// condition: rate limiting or a server-side failure.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
