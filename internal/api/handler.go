// Package api serves a read-only JSON view of stories and run history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/history"
	"github.com/eqho10/eqho-aios/internal/story"
)

// Stories is the story source the handler reads from.
type Stories interface {
	Load(ctx context.Context, id string) (story.Story, error)
	List(ctx context.Context, status story.Status) ([]story.Story, error)
}

// Runs is the run history source.
type Runs interface {
	List(ctx context.Context, storyID string, limit int) ([]history.Run, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	stories Stories
	runs    Runs
	version string
	logger  *zap.Logger
}

// NewHandler creates a new API handler. runs may be nil when history is
// disabled.
func NewHandler(stories Stories, runs Runs, version string, logger *zap.Logger) *Handler {
	return &Handler{stories: stories, runs: runs, version: version, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stories", h.listStories)
		r.Get("/stories/{id}", h.getStory)
		r.Get("/runs", h.listRuns)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

type storySummary struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Status          story.Status   `json:"status"`
	Priority        story.Priority `json:"priority"`
	Phase           string         `json:"phase"`
	CurrentAgent    string         `json:"current_agent,omitempty"`
	AgentsCompleted int            `json:"agents_completed"`
	ActualTokens    int            `json:"actual_tokens"`
}

func summarize(st story.Story) storySummary {
	s := storySummary{
		ID:              st.ID,
		Title:           st.Title,
		Status:          st.Status,
		Priority:        st.Priority,
		Phase:           st.Phase,
		AgentsCompleted: len(st.AgentsCompleted),
		ActualTokens:    st.ActualTokens,
	}
	if st.CurrentAgent != nil {
		s.CurrentAgent = string(*st.CurrentAgent)
	}
	return s
}

func (h *Handler) listStories(w http.ResponseWriter, r *http.Request) {
	status := story.Status(r.URL.Query().Get("status"))
	if status != "" && !slices.Contains(story.Statuses(), status) {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}

	stories, err := h.stories.List(r.Context(), status)
	if err != nil {
		h.logger.Error("list stories", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]storySummary, 0, len(stories))
	for _, st := range stories {
		out = append(out, summarize(st))
	}
	writeJSON(w, http.StatusOK, out)
}

type storyDetail struct {
	story.Frontmatter
	Sections []string `json:"sections"`
	Body     string   `json:"body"`
}

func (h *Handler) getStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.stories.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, story.ErrNotFound) {
			writeError(w, http.StatusNotFound, "story not found")
			return
		}
		h.logger.Error("load story", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d := storyDetail{Frontmatter: st.Frontmatter, Sections: []string{}, Body: st.Body()}
	for _, sec := range st.Sections() {
		d.Sections = append(d.Sections, sec.Name)
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("story"), limit)
	if err != nil {
		h.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
