package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hokuto-dev/reviewlens-backend/internal/search"
	"github.com/hokuto-dev/reviewlens-backend/internal/store"
)

// ─── RESPONSE SHAPES ─────────────────────────────────────────────────────────

type assessmentResponse struct {
	ShopID              uuid.UUID `json:"shop_id"`
	ScoreOperation      int       `json:"score_operation"`
	ScoreAccuracy       int       `json:"score_accuracy"`
	ScoreHygiene        int       `json:"score_hygiene"`
	ScoreSincerity      int       `json:"score_sincerity"`
	ScoreSafety         int       `json:"score_safety"`
	VarianceScore       float64   `json:"variance_score"`
	SakuraRisk          int       `json:"sakura_risk"`
	RiskLevel           string    `json:"risk_level"`
	RiskSummary         string    `json:"risk_summary"`
	PositivePoints      []string  `json:"positive_points"`
	NegativePoints      []string  `json:"negative_points"`
	AnalyzedReviewCount int       `json:"analyzed_review_count"`
	EngineVersion       string    `json:"engine_version"`
	LastAnalyzedAt      time.Time `json:"last_analyzed_at"`
}

func toAssessmentResponse(a store.Assessment) assessmentResponse {
	return assessmentResponse{
		ShopID:              a.ShopID,
		ScoreOperation:      a.ScoreOperation,
		ScoreAccuracy:       a.ScoreAccuracy,
		ScoreHygiene:        a.ScoreHygiene,
		ScoreSincerity:      a.ScoreSincerity,
		ScoreSafety:         a.ScoreSafety,
		VarianceScore:       a.VarianceScore,
		SakuraRisk:          a.SakuraRisk,
		RiskLevel:           a.RiskLevel,
		RiskSummary:         a.RiskSummary,
		PositivePoints:      a.PositivePoints,
		NegativePoints:      a.NegativePoints,
		AnalyzedReviewCount: a.AnalyzedReviewCount,
		EngineVersion:       a.EngineVersion,
		LastAnalyzedAt:      a.LastAnalyzedAt,
	}
}

type shopResponse struct {
	ID               uuid.UUID           `json:"id"`
	PlaceID          string              `json:"place_id"`
	Name             string              `json:"name"`
	FormattedAddress string              `json:"formatted_address,omitempty"`
	Rating           *float64            `json:"rating,omitempty"`
	UserRatingsTotal *int64              `json:"user_ratings_total,omitempty"`
	Analytics        *assessmentResponse `json:"analytics,omitempty"`
}

func toShopResponse(sw store.ShopWithAssessment) shopResponse {
	resp := shopResponse{
		ID:               sw.Shop.ID,
		PlaceID:          sw.Shop.PlaceID,
		Name:             sw.Shop.Name,
		FormattedAddress: sw.Shop.FormattedAddress.String,
	}
	if sw.Shop.Rating.Valid {
		r := sw.Shop.Rating.Float64
		resp.Rating = &r
	}
	if sw.Shop.UserRatingsTotal.Valid {
		n := sw.Shop.UserRatingsTotal.Int64
		resp.UserRatingsTotal = &n
	}
	if sw.Assessment != nil {
		a := toAssessmentResponse(*sw.Assessment)
		resp.Analytics = &a
	}
	return resp
}

type similarityResponse struct {
	ReviewID   uuid.UUID `json:"review_id"`
	ShopID     uuid.UUID `json:"shop_id"`
	ShopName   string    `json:"shop_name"`
	ReviewText string    `json:"review_text"`
	Rating     int       `json:"rating,omitempty"`
	Similarity float64   `json:"similarity"`
}

// ─── ANALYTICS ───────────────────────────────────────────────────────────────

// GET /api/shops/{shopID}/analytics
func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid shop id")
		return
	}

	a, err := s.assessments.AssessmentByShop(r.Context(), shopID)
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "no analytics for this shop")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	respond(w, http.StatusOK, toAssessmentResponse(a))
}

// POST /api/shops/{shopID}/analyze?force=true
func (s *Server) handleAnalyzeShop(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid shop id")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	a, _, err := s.analyzer.Analyze(r.Context(), shopID, force)
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "shop not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	respond(w, http.StatusOK, toAssessmentResponse(a))
}

// POST /api/analyze/batch
//
// With shop_ids the named shops are analyzed; without, the next batch of
// unanalyzed shops (up to limit) is.
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShopIDs []string `json:"shop_ids"`
		Limit   int      `json:"limit"`
		Force   bool     `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if len(req.ShopIDs) > 0 {
		ids := make([]uuid.UUID, len(req.ShopIDs))
		for i, raw := range req.ShopIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				respondErr(w, http.StatusBadRequest, "invalid shop id: "+raw)
				return
			}
			ids[i] = id
		}

		result, err := s.batches.RunShops(r.Context(), ids, req.Force)
		if err != nil {
			s.respondInternalErr(w, r, err)
			return
		}
		respond(w, http.StatusOK, result)
		return
	}

	result, err := s.batches.RunUnanalyzed(r.Context(), req.Limit, req.Force)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

// ─── EMBEDDINGS ──────────────────────────────────────────────────────────────

// POST /api/shops/{shopID}/embed
func (s *Server) handleEmbedShop(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid shop id")
		return
	}

	result, err := s.embeddings.EmbedShopReviews(r.Context(), shopID)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

// POST /api/embeddings/generate
func (s *Server) handleGenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	result, err := s.embeddings.EmbedPending(r.Context(), req.Limit)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

// ─── SEARCH ──────────────────────────────────────────────────────────────────

// POST /api/search/chat
func (s *Server) handleChatSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(strings.TrimSpace(req.Query)) < 2 {
		respondErr(w, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	resp, err := s.searcher.ChatSearch(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

// GET /api/search/similar?q=...&limit=10
func (s *Server) handleSimilarSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		respondErr(w, http.StatusBadRequest, "q must be at least 2 characters")
		return
	}
	limit := queryInt(r, "limit", 10)
	if limit > 50 {
		limit = 50
	}

	hits, err := s.searcher.VectorSearch(r.Context(), q, limit, 0)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	results := make([]similarityResponse, len(hits))
	for i, h := range hits {
		results[i] = similarityResponse{
			ReviewID:   h.ReviewID,
			ShopID:     h.ShopID,
			ShopName:   h.ShopName,
			ReviewText: h.ReviewText,
			Rating:     int(h.Rating.Int64),
			Similarity: h.Similarity,
		}
	}

	respond(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": results,
		"total":   len(results),
	})
}

// GET /api/search/structured
//
// Explicit numeric filters; an optional q parameter seeds the criteria from
// keyword mapping, and explicit parameters override it.
func (s *Server) handleStructuredSearch(w http.ResponseWriter, r *http.Request) {
	var criteria store.SearchCriteria
	if q := r.URL.Query().Get("q"); q != "" {
		criteria = search.ParseQueryCriteria(q)
	}

	if v, ok := queryIntOpt(r, "min_score"); ok {
		criteria.MinScore = &v
	}
	if v, ok := queryIntOpt(r, "max_sakura_risk"); ok {
		criteria.MaxSakuraRisk = &v
	}
	if raw := r.URL.Query().Get("risk_levels"); raw != "" {
		var levels []string
		for _, l := range strings.Split(raw, ",") {
			if l = strings.TrimSpace(l); l != "" {
				levels = append(levels, l)
			}
		}
		criteria.RiskLevels = levels
	}
	if raw := r.URL.Query().Get("min_rating"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondErr(w, http.StatusBadRequest, "invalid min_rating")
			return
		}
		criteria.MinRating = &v
	}
	criteria.Limit = queryInt(r, "limit", 20)
	if criteria.Limit > 100 {
		criteria.Limit = 100
	}

	shops, err := s.structured.ByCriteria(r.Context(), criteria)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	results := make([]shopResponse, len(shops))
	for i, sw := range shops {
		results[i] = toShopResponse(sw)
	}

	respond(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// ─── TASKS ───────────────────────────────────────────────────────────────────

// GET /api/tasks/status
func (s *Server) handleTasksStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.jobs.Status())
}

// POST /api/tasks/{name}/run
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	started, found := s.jobs.TriggerJob(name)
	if !found {
		respondErr(w, http.StatusNotFound, "unknown task: "+name)
		return
	}
	if !started {
		respondErr(w, http.StatusConflict, "task is already running")
		return
	}

	respond(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"task":   name,
	})
}

// ─── QUERY HELPERS ───────────────────────────────────────────────────────────

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func queryIntOpt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
