// Package api serves the cache over HTTP using chi. Reads and mutations go
// through the repository; /api/events streams cache changes as SSE.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/hub"
	"github.com/imdevinc/recipe-mirror/internal/outbox"
	"github.com/imdevinc/recipe-mirror/internal/repository"
)

// StatusSource reports worker state.
type StatusSource interface {
	Status() []hub.WorkerStatus
}

// Deps are the services the API serves. Hub, Outbox and Broker may be nil.
type Deps struct {
	Repo   *repository.Repository
	Hub    StatusSource
	Outbox *outbox.Outbox
	Broker *events.Broker
}

// NewRouter creates a chi router with health checks and every API route.
func NewRouter(deps Deps) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)

	r.Route("/api", func(r chi.Router) {
		r.Get("/recipes/search", h.Search)
		r.Get("/recipes/suggest", h.Suggest)
		r.Get("/recipes/{view}", h.ListView)
		r.Post("/recipes", h.SaveRecipe)

		r.Get("/recipe/{id}", h.GetRecipe)
		r.Put("/recipe/{id}/favorite", h.SetFavorite)
		r.Post("/recipe/{id}/like", h.Like)
		r.Post("/recipe/{id}/view", h.RecordView)

		r.Get("/history", h.SearchHistory)
		r.Post("/history", h.SaveSearch)
		r.Delete("/history", h.DeleteSearch)

		r.Get("/recent", h.RecentlyViewed)
		r.Delete("/recent/{id}", h.RemoveRecent)

		r.Delete("/user-data", h.ClearUserData)
		r.Get("/categories", h.Categories)
		r.Get("/status", h.Status)

		if deps.Broker != nil {
			r.Get("/events", NewEventStream(deps.Broker).ServeHTTP)
		}
	})

	return r
}
