package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/toolscope/internal/classifier"
	"github.com/nidhogg/toolscope/internal/search"
	"github.com/nidhogg/toolscope/internal/skill"
	"github.com/nidhogg/toolscope/internal/store"
	"go.uber.org/zap"
)

// Searcher runs search queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// ClassifyService runs the classification pipeline for one item.
type ClassifyService interface {
	Classify(ctx context.Context, req classifier.Request) (*classifier.Outcome, error)
}

// SkillStore is the slice of the relational store the handlers need.
type SkillStore interface {
	CreateSkill(ctx context.Context, sk *skill.SkillCategory) error
	GetSkill(ctx context.Context, id string) (*skill.SkillCategory, error)
	ListSkills(ctx context.Context, f store.SkillFilter) ([]*skill.SkillCategory, error)
	ListSkillItems(ctx context.Context, skillID string, limit, offset int) ([]*skill.SkillItem, error)
	UpdateSkillDescription(ctx context.Context, id, description string) error
}

// SuggestionService resolves skill suggestions.
type SuggestionService interface {
	ListPending(ctx context.Context, limit, offset int) ([]*skill.SkillSuggestion, error)
	Approve(ctx context.Context, id string) (*skill.SkillCategory, error)
	Merge(ctx context.Context, id, targetSkillID string) (*skill.SkillCategory, error)
	Reject(ctx context.Context, id string) error
}

// Refresher requests aggregation refreshes for changed skills.
type Refresher interface {
	Enqueue(ctx context.Context, skillIDs ...string) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	searcher    Searcher
	pipeline    ClassifyService
	skills      SkillStore
	suggestions SuggestionService
	refresh     Refresher
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(searcher Searcher, pipeline ClassifyService, skills SkillStore, suggestions SuggestionService, refresh Refresher, logger *zap.Logger) *Handler {
	return &Handler{
		searcher:    searcher,
		pipeline:    pipeline,
		skills:      skills,
		suggestions: suggestions,
		refresh:     refresh,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/search", h.doSearch)
		r.Post("/classify", h.classifyItem)

		r.Get("/skills", h.listSkills)
		r.Post("/skills", h.createSkill)
		r.Get("/skills/{id}", h.getSkill)
		r.Get("/skills/{id}/items", h.listSkillItems)
		r.Put("/skills/{id}/description", h.updateSkillDescription)

		r.Get("/suggestions", h.listSuggestions)
		r.Post("/suggestions/{id}/approve", h.approveSuggestion)
		r.Post("/suggestions/{id}/reject", h.rejectSuggestion)
		r.Post("/suggestions/{id}/merge", h.mergeSuggestion)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "toolscope"})
}

func (h *Handler) doSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) classifyItem(w http.ResponseWriter, r *http.Request) {
	var req classifier.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	outcome, err := h.pipeline.Classify(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) createSkill(w http.ResponseWriter, r *http.Request) {
	var sk skill.SkillCategory
	if err := json.NewDecoder(r.Body).Decode(&sk); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sk.IsActive = true
	if err := h.skills.CreateSkill(r.Context(), &sk); err != nil {
		h.writeError(w, err)
		return
	}
	// A fresh skill has no assignments yet; seed its aggregate from the
	// description so it participates in stage-1 search immediately.
	if err := h.refresh.Enqueue(r.Context(), sk.ID); err != nil {
		h.logger.Warn("initial aggregate refresh failed", zap.String("skill_id", sk.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, sk)
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sk, err := h.skills.GetSkill(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	f := store.SkillFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Domain:     r.URL.Query().Get("domain"),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	}
	skills, err := h.skills.ListSkills(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if skills == nil {
		skills = []*skill.SkillCategory{}
	}
	writeJSON(w, http.StatusOK, skills)
}

func (h *Handler) listSkillItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := h.skills.ListSkillItems(r.Context(), id, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []*skill.SkillItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type descriptionUpdateRequest struct {
	Description string `json:"description"`
}

func (h *Handler) updateSkillDescription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req descriptionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "description is required"})
		return
	}
	if err := h.skills.UpdateSkillDescription(r.Context(), id, req.Description); err != nil {
		h.writeError(w, err)
		return
	}
	// Description edits change the zero-assignment fallback embedding.
	if err := h.refresh.Enqueue(r.Context(), id); err != nil {
		h.logger.Warn("refresh after description edit failed", zap.String("skill_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.suggestions.ListPending(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []*skill.SkillSuggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (h *Handler) approveSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sk, err := h.suggestions.Approve(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

func (h *Handler) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.suggestions.Reject(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type mergeRequest struct {
	SkillID string `json:"skill_id"`
}

func (h *Handler) mergeSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.SkillID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "skill_id is required"})
		return
	}
	sk, err := h.suggestions.Merge(r.Context(), id, req.SkillID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var ve *skill.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, skill.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, skill.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
