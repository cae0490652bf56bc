package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/mimir/internal/projects"
	"github.com/starford/mimir/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// broker, if non-nil, serves the per-project event stream; status, if
// non-nil, backs the watch status endpoint.
func NewRouter(registry *projects.Registry, broker *sse.Broker, status StatusFunc, authEnabled bool, token string) chi.Router {
	h := NewHandler(registry, broker, status)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Liveness and readiness, outside the auth group.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"projects": registry.Names(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Get("/projects", h.ListProjects)

		r.Route("/projects/{project}", func(r chi.Router) {
			r.Post("/sync", h.SyncProject)
			r.Get("/search", h.Search)
			r.Get("/directory", h.Directory)
			r.Get("/entities", h.GetEntity)
			r.Get("/entities/{id}/relations", h.EntityRelations)
			r.Get("/observations", h.Observations)
			r.Get("/watch", h.WatchStatus)

			if broker != nil {
				r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
					name := chi.URLParam(req, "project")
					if _, err := registry.Get(name); err != nil {
						writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
						return
					}
					broker.ServeProject(name)(w, req)
				})
			}
		})
	})

	return r
}
