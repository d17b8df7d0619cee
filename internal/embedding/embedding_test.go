package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/llm"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Microsecond,
		MaxBackoff:     time.Microsecond,
	}
}

func testEmbedder(serverURL string) *geminiEmbedder {
	return &geminiEmbedder{
		apiKey:     "test-key",
		model:      "text-embedding-004",
		baseURL:    serverURL,
		retry:      fastRetry(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     discardLogger(),
	}
}

func fullVector(fill float32) []float32 {
	v := make([]float32, Dimension)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestEmbedQueryTaskType(t *testing.T) {
	var gotTaskType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotTaskType = req.TaskType
		json.NewEncoder(w).Encode(embedContentResponse{Embedding: embedValues{Values: fullVector(0.25)}})
	}))
	defer srv.Close()

	vec, err := testEmbedder(srv.URL).EmbedQuery(context.Background(), "quiet place with good service")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if gotTaskType != taskTypeQuery {
		t.Errorf("taskType = %q, want %q", gotTaskType, taskTypeQuery)
	}
	if len(vec) != Dimension {
		t.Errorf("len(vec) = %d, want %d", len(vec), Dimension)
	}
}

func TestEmbedDocumentsBatching(t *testing.T) {
	var mu sync.Mutex
	var batchSizes []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		mu.Lock()
		batchSizes = append(batchSizes, len(req.Requests))
		mu.Unlock()

		resp := batchEmbedResponse{Embeddings: make([]embedValues, len(req.Requests))}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = embedValues{Values: fullVector(0.5)}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("review text %d", i)
	}

	vectors, err := testEmbedder(srv.URL).EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	if len(vectors) != 250 {
		t.Fatalf("len(vectors) = %d, want 250", len(vectors))
	}
	if len(batchSizes) != 3 {
		t.Fatalf("batches = %d, want 3", len(batchSizes))
	}
	total := 0
	for _, n := range batchSizes {
		if n > batchSize {
			t.Errorf("batch size %d exceeds cap %d", n, batchSize)
		}
		total += n
	}
	if total != 250 {
		t.Errorf("total texts across batches = %d, want 250", total)
	}
}

func TestEmbedDocumentsZeroFillOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	vectors, err := testEmbedder(srv.URL).EmbedDocuments(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v, want zero fill instead", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("len(vectors) = %d, want 2", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != Dimension {
			t.Fatalf("vector %d has dimension %d", i, len(v))
		}
		for _, f := range v {
			if f != 0 {
				t.Fatalf("vector %d not zero-filled", i)
			}
		}
	}
}

// ─── SERVICE ─────────────────────────────────────────────────────────────────

type stubEmbedStore struct {
	pending  []store.Review
	saved    map[uuid.UUID][]float32
	failSave map[uuid.UUID]bool
}

func (s *stubEmbedStore) ReviewsWithoutEmbedding(context.Context, int) ([]store.Review, error) {
	return s.pending, nil
}

func (s *stubEmbedStore) ShopReviewsWithoutEmbedding(_ context.Context, shopID uuid.UUID) ([]store.Review, error) {
	var out []store.Review
	for _, r := range s.pending {
		if r.ShopID == shopID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubEmbedStore) SaveReviewEmbedding(_ context.Context, id uuid.UUID, vec []float32) error {
	if s.failSave[id] {
		return errors.New("save failed")
	}
	if s.saved == nil {
		s.saved = map[uuid.UUID][]float32{}
	}
	s.saved[id] = vec
	return nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = fullVector(0.1)
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return fullVector(0.1), nil
}

func review(shopID uuid.UUID, text string) store.Review {
	return store.Review{
		ID:     uuid.New(),
		ShopID: shopID,
		Text:   sql.NullString{String: text, Valid: text != ""},
	}
}

func TestEmbedPendingCounts(t *testing.T) {
	shopID := uuid.New()
	good := review(shopID, "clean and quiet")
	empty := review(shopID, "")
	bad := review(shopID, "great service")

	st := &stubEmbedStore{
		pending:  []store.Review{good, empty, bad},
		failSave: map[uuid.UUID]bool{bad.ID: true},
	}
	svc := NewService(st, stubEmbedder{}, discardLogger())

	result, err := svc.EmbedPending(context.Background(), 100)
	if err != nil {
		t.Fatalf("EmbedPending() error = %v", err)
	}
	if result.Total != 3 || result.Embedded != 1 || result.Skipped != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want total 3, embedded 1, skipped 1, failed 1", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], bad.ID.String()) {
		t.Errorf("Errors = %v, want one entry naming the failed review", result.Errors)
	}
	if _, ok := st.saved[good.ID]; !ok {
		t.Error("good review's vector was not saved")
	}
}

func TestEmbedShopReviewsFiltersByShop(t *testing.T) {
	target := uuid.New()
	other := uuid.New()

	st := &stubEmbedStore{
		pending: []store.Review{
			review(target, "relevant review"),
			review(other, "unrelated review"),
		},
	}
	svc := NewService(st, stubEmbedder{}, discardLogger())

	result, err := svc.EmbedShopReviews(context.Background(), target)
	if err != nil {
		t.Fatalf("EmbedShopReviews() error = %v", err)
	}
	if result.Total != 1 || result.Embedded != 1 {
		t.Errorf("result = %+v, want total 1, embedded 1", result)
	}
}
