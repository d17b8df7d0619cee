// Package api implements the HTTP layer. Handlers are methods on *Server.
// Each dependency enters through a narrow interface so handler tests can
// stub exactly what they exercise.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/embedding"
	"github.com/hokuto-dev/reviewlens-backend/internal/scheduler"
	"github.com/hokuto-dev/reviewlens-backend/internal/search"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
	"github.com/hokuto-dev/reviewlens-backend/internal/tasks"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string
}

// ─── DEPENDENCY INTERFACES ───────────────────────────────────────────────────

// Analyzer runs the per-shop assessment pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, shopID uuid.UUID, force bool) (store.Assessment, bool, error)
}

// AssessmentReader serves persisted assessments.
type AssessmentReader interface {
	AssessmentByShop(ctx context.Context, shopID uuid.UUID) (store.Assessment, error)
}

// BatchRunner runs analysis batches.
type BatchRunner interface {
	RunUnanalyzed(ctx context.Context, limit int, force bool) (tasks.AnalysisResult, error)
	RunShops(ctx context.Context, shopIDs []uuid.UUID, force bool) (tasks.AnalysisResult, error)
}

// EmbeddingRunner fills missing review vectors.
type EmbeddingRunner interface {
	EmbedPending(ctx context.Context, limit int) (embedding.Result, error)
	EmbedShopReviews(ctx context.Context, shopID uuid.UUID) (embedding.Result, error)
}

// Searcher serves the retrieval paths.
type Searcher interface {
	VectorSearch(ctx context.Context, query string, limit int, threshold float64) ([]store.SimilarityHit, error)
	ChatSearch(ctx context.Context, query string, limit int) (search.ChatResponse, error)
}

// StructuredSearcher serves the criteria path.
type StructuredSearcher interface {
	ByCriteria(ctx context.Context, c store.SearchCriteria) ([]store.ShopWithAssessment, error)
}

// JobRunner exposes the scheduler to the tasks endpoints.
type JobRunner interface {
	Status() scheduler.Status
	TriggerJob(name string) (started, found bool)
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	analyzer    Analyzer
	assessments AssessmentReader
	batches     BatchRunner
	embeddings  EmbeddingRunner
	searcher    Searcher
	structured  StructuredSearcher
	jobs        JobRunner

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	analyzer Analyzer,
	assessments AssessmentReader,
	batches BatchRunner,
	embeddings EmbeddingRunner,
	searcher Searcher,
	structured StructuredSearcher,
	jobs JobRunner,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	s := &Server{
		analyzer:    analyzer,
		assessments: assessments,
		batches:     batches,
		embeddings:  embeddings,
		searcher:    searcher,
		structured:  structured,
		jobs:        jobs,
		cfg:         cfg,
		logger:      logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(120 * time.Second))

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {

		r.Route("/shops/{shopID}", func(r chi.Router) {
			r.Get("/analytics", s.handleGetAnalytics)
			r.Post("/analyze", s.handleAnalyzeShop)
			r.Post("/embed", s.handleEmbedShop)
		})

		r.Post("/analyze/batch", s.handleAnalyzeBatch)
		r.Post("/embeddings/generate", s.handleGenerateEmbeddings)

		r.Route("/search", func(r chi.Router) {
			r.Post("/chat", s.handleChatSearch)
			r.Get("/similar", s.handleSimilarSearch)
			r.Get("/structured", s.handleStructuredSearch)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/status", s.handleTasksStatus)
			r.Post("/{name}/run", s.handleRunTask)
		})
	})

	return r
}

// ─── MIDDLEWARE ──────────────────────────────────────────────────────────────

// corsMiddleware handles preflight OPTIONS requests and sets CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := "*"
		if s.cfg.Env != "production" {
			allowed = origin
		}

		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggerMiddleware logs each request with method, path, status, and duration.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
