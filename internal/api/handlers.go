package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/imdevinc/recipe-mirror/internal/hub"
	"github.com/imdevinc/recipe-mirror/internal/repository"
)

// Handler holds API route handlers.
type Handler struct {
	deps Deps
	repo *repository.Repository
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, repo: deps.Repo}
}

// Ready handles GET /health/ready. The process is ready once the cache
// answers a query.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.repo.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("cache unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListView handles GET /api/recipes/{view}. The category and author views
// take ?id=, the recent view takes ?user=.
func (h *Handler) ListView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "view")
	arg := r.URL.Query().Get("id")
	if name == repository.ViewRecent {
		arg = r.URL.Query().Get("user")
	}

	view, err := repository.ParseView(name, arg)
	if err != nil {
		writeError(w, "parse view", err)
		return
	}
	list, err := h.repo.List(r.Context(), view)
	if err != nil {
		writeError(w, "list "+name, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(list))
}

// Search handles GET /api/recipes/search?q=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(list))
}

// Suggest handles GET /api/recipes/suggest?q=.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "suggest", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetRecipe handles GET /api/recipe/{id}.
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.Recipe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get recipe", err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rec))
}

// SetFavorite handles PUT /api/recipe/{id}/favorite with {"favorite": bool}.
func (h *Handler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.repo.ToggleFavorite(r.Context(), chi.URLParam(r, "id"), req.Favorite); err != nil {
		writeError(w, "set favorite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Like handles POST /api/recipe/{id}/like with {"liked": bool}.
func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Liked bool `json:"liked"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	likes, err := h.repo.Like(r.Context(), chi.URLParam(r, "id"), req.Liked)
	if err != nil {
		writeError(w, "like", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"likes": likes})
}

// RecordView handles POST /api/recipe/{id}/view?user=.
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.RecordView(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("user")); err != nil {
		writeError(w, "record view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveRecipe handles POST /api/recipes. A save whose remote write was
// queued answers 202 with the failure in the body.
func (h *Handler) SaveRecipe(w http.ResponseWriter, r *http.Request) {
	var draft repository.Draft
	if !decodeBody(w, r, &draft) {
		return
	}
	res, err := h.repo.SaveRecipe(r.Context(), draft)
	if err != nil {
		writeError(w, "save recipe", err)
		return
	}

	resp := SaveResponse{Recipe: toDTO(res.Recipe), Pending: res.Pending}
	status := http.StatusCreated
	if res.Pending {
		status = http.StatusAccepted
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	}
	writeJSON(w, status, resp)
}

// SearchHistory handles GET /api/history?user=.
func (h *Handler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.SearchHistory(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, "search history", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// SaveSearch handles POST /api/history with {"query", "userId"}.
func (h *Handler) SaveSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query  string `json:"query"`
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.repo.SaveSearch(r.Context(), req.Query, req.UserID); err != nil {
		writeError(w, "save search", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSearch handles DELETE /api/history?q=.
func (h *Handler) DeleteSearch(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteSearch(r.Context(), r.URL.Query().Get("q")); err != nil {
		writeError(w, "delete search", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecentlyViewed handles GET /api/recent?user=.
func (h *Handler) RecentlyViewed(w http.ResponseWriter, r *http.Request) {
	views, err := h.repo.RecentlyViewed(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, "recently viewed", err)
		return
	}
	out := make([]RecentDTO, len(views))
	for i, v := range views {
		out[i] = RecentDTO{EntryID: v.EntryID, ViewedAt: v.ViewedAt, Recipe: toDTO(v.Recipe)}
	}
	writeJSON(w, http.StatusOK, out)
}

// RemoveRecent handles DELETE /api/recent/{id}. The id is a recipe id;
// ?entry=true treats it as a history row id instead.
func (h *Handler) RemoveRecent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if r.URL.Query().Get("entry") == "true" {
		entryID, perr := strconv.ParseInt(id, 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("entry id must be an integer"))
			return
		}
		err = h.repo.RemoveRecentEntry(r.Context(), entryID)
	} else {
		err = h.repo.RemoveRecent(r.Context(), id, r.URL.Query().Get("user"))
	}
	if err != nil {
		writeError(w, "remove recent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearUserData handles DELETE /api/user-data.
func (h *Handler) ClearUserData(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.ClearLocalUserData(r.Context()); err != nil {
		writeError(w, "clear user data", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Categories handles GET /api/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.repo.Categories(r.Context())
	if err != nil {
		writeError(w, "categories", err)
		return
	}
	out := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		out[i] = CategoryDTO{ID: c.ID, Name: c.Name, ImageURL: c.ImageURL}
	}
	writeJSON(w, http.StatusOK, out)
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}

	resp := StatusResponse{Cache: stats, Workers: []hub.WorkerStatus{}}
	if h.deps.Hub != nil {
		resp.Workers = h.deps.Hub.Status()
	}
	if h.deps.Outbox != nil {
		pending, parked, err := h.deps.Outbox.Counts()
		if err != nil {
			writeError(w, "outbox counts", err)
			return
		}
		resp.Outbox = &OutboxStatus{Pending: pending, Parked: parked}
	}
	writeJSON(w, http.StatusOK, resp)
}
