package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hokuto-dev/reviewlens-backend/internal/llm"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const (
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

// geminiEmbedder is the concrete Embedder backed by the Gemini embedding API.
type geminiEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	retry      llm.RetryPolicy
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiEmbedder returns an Embedder calling the Gemini API.
//   - model: e.g. "text-embedding-004"
func NewGeminiEmbedder(apiKey, model string, retry llm.RetryPolicy, logger *slog.Logger) Embedder {
	return &geminiEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiBaseURL,
		retry:   retry,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// ─── GEMINI API SHAPES ───────────────────────────────────────────────────────

type embedContentRequest struct {
	Model    string       `json:"model"`
	Content  embedContent `json:"content"`
	TaskType string       `json:"taskType"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedContentResponse struct {
	Embedding embedValues `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

type embedValues struct {
	Values []float32 `json:"values"`
}

// ─── IMPLEMENTATION ──────────────────────────────────────────────────────────

// EmbedQuery vectorizes one search query with the query-side task type.
// Unlike EmbedDocuments there is no zero-vector fallback: a search without a
// real query vector is useless, so the error propagates.
func (e *geminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		vec, callErr = e.embedOne(ctx, text, taskTypeQuery)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: embed query: %w", err)
	}
	return vec, nil
}

// EmbedDocuments vectorizes texts in batches of batchSize, running up to
// maxConcurrentBatches batches at once. A batch that still fails after
// retries is filled with zero vectors so the output stays aligned with the
// input; the error is logged, not returned. The only returned error is
// context cancellation.
func (e *geminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentBatches)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			defer func() { <-sem }()

			batch := texts[start:end]
			vectors, err := e.embedBatch(ctx, batch)
			if err != nil {
				e.logger.Error("embedding: batch failed, filling with zero vectors",
					"offset", start, "size", len(batch), "error", err)
				for i := range batch {
					out[start+i] = ZeroVector()
				}
				return
			}
			copy(out[start:end], vectors)
		}(start, end)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedBatch sends one batchEmbedContents request under the retry policy and
// verifies the response stays aligned with the input.
func (e *geminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := batchEmbedRequest{
		Requests: make([]embedContentRequest, len(texts)),
	}
	for i, t := range texts {
		reqBody.Requests[i] = embedContentRequest{
			Model:    "models/" + e.model,
			Content:  embedContent{Parts: []embedPart{{Text: t}}},
			TaskType: taskTypeDocument,
		}
	}

	var parsed batchEmbedResponse
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		return e.post(ctx, fmt.Sprintf("%s/models/%s:batchEmbedContents", e.baseURL, e.model), reqBody, &parsed)
	})
	if err != nil {
		return nil, err
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(parsed.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range parsed.Embeddings {
		if len(emb.Values) != Dimension {
			return nil, fmt.Errorf("embedding: vector %d has dimension %d, want %d", i, len(emb.Values), Dimension)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func (e *geminiEmbedder) embedOne(ctx context.Context, text, taskType string) ([]float32, error) {
	reqBody := embedContentRequest{
		Model:    "models/" + e.model,
		Content:  embedContent{Parts: []embedPart{{Text: text}}},
		TaskType: taskType,
	}

	var parsed embedContentResponse
	if err := e.post(ctx, fmt.Sprintf("%s/models/%s:embedContent", e.baseURL, e.model), reqBody, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Embedding.Values) != Dimension {
		return nil, fmt.Errorf("embedding: vector has dimension %d, want %d", len(parsed.Embedding.Values), Dimension)
	}
	return parsed.Embedding.Values, nil
}

// post sends one JSON request and decodes the response into out. Rate limits
// and server failures come back as transient errors for the retry policy.
func (e *geminiEmbedder) post(ctx context.Context, url string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &llm.TransientError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &llm.TransientError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &llm.TransientError{Err: fmt.Errorf("status %d: %.200s", resp.StatusCode, respBytes)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding: unexpected status %d: %.200s", resp.StatusCode, respBytes)
	}

	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("embedding: unmarshal response: %w", err)
	}
	return nil
}
