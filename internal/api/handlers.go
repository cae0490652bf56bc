package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/projects"
	"github.com/starford/mimir/internal/search"
	"github.com/starford/mimir/internal/sse"
	syncpkg "github.com/starford/mimir/internal/sync"
)

// StatusFunc looks up the watcher status for a project, if one is running.
type StatusFunc func(project string) (syncpkg.Status, bool)

// Handler holds API route handlers.
type Handler struct {
	registry *projects.Registry
	broker   *sse.Broker
	status   StatusFunc
}

// NewHandler creates a new Handler. broker and status may be nil when SSE
// or watchers are not running.
func NewHandler(registry *projects.Registry, broker *sse.Broker, status StatusFunc) *Handler {
	return &Handler{registry: registry, broker: broker, status: status}
}

// project resolves the {project} URL parameter against the registry,
// writing the error response itself when the project is unknown.
func (h *Handler) project(w http.ResponseWriter, r *http.Request) (*projects.Project, bool) {
	name := chi.URLParam(r, "project")
	p, err := h.registry.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("unknown project"))
		return nil, false
	}
	return p, true
}

// ListProjects handles GET /projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProjectsResponse{Projects: h.registry.Names()})
}

// SyncProject handles POST /projects/{project}/sync.
func (h *Handler) SyncProject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	report, err := p.Engine.Sync(r.Context())
	if err != nil {
		slog.Error("sync failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("sync failed"))
		return
	}
	if h.broker != nil {
		for _, path := range report.New {
			h.broker.PublishEntityEvent(p.Name, "created", path)
		}
		for _, path := range report.Modified {
			h.broker.PublishEntityEvent(p.Name, "updated", path)
		}
		for _, path := range report.Deleted {
			h.broker.PublishEntityEvent(p.Name, "deleted", path)
		}
	}
	writeJSON(w, http.StatusOK, report)
}

// Search handles GET /projects/{project}/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var types []string
	if t := q.Get("type"); t != "" {
		types = strings.Split(t, ",")
	}
	matches, err := p.Index.Search(query, search.Filters{
		Types:     types,
		Category:  q.Get("category"),
		Directory: q.Get("directory"),
	}, limit)
	if err != nil {
		slog.Error("search failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	results := make([]SearchHit, 0, len(matches))
	for _, m := range matches {
		hit := SearchHit{
			Type:         m.Type,
			Title:        m.Title,
			Permalink:    m.Permalink,
			FilePath:     m.FilePath,
			Category:     m.Category,
			RelationType: m.RelationType,
			Score:        m.Score,
			Snippet:      m.Snippet,
		}
		if m.Directory != nil {
			hit.Directory = *m.Directory
		}
		results = append(results, hit)
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Directory handles GET /projects/{project}/directory.
func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	path := q.Get("path")
	depth, _ := strconv.Atoi(q.Get("depth"))
	includeFiles := q.Get("include_files") != "false"

	nodes, err := p.Directory.Tree(path, depth, includeFiles)
	if err != nil {
		slog.Error("directory failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, DirectoryResponse{Path: path, Nodes: nodes})
}

// GetEntity handles GET /projects/{project}/entities. The entity is
// addressed by exactly one of ?permalink= or ?file_path=.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	permalink := q.Get("permalink")
	filePath := q.Get("file_path")
	if (permalink == "") == (filePath == "") {
		writeJSON(w, http.StatusBadRequest, errorBody("exactly one of permalink or file_path is required"))
		return
	}

	var (
		e   models.Entity
		err error
	)
	if permalink != "" {
		e, err = p.Store.EntityByPermalink(permalink)
	} else {
		e, err = p.Store.EntityByPath(filePath)
	}
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get entity failed", slog.String("project", p.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	obs, err := p.Store.ObservationsForEntities([]int64{e.ID})
	if err != nil {
		slog.Error("get observations failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	rels, err := p.Store.RelationsForEntity(e.ID)
	if err != nil {
		slog.Error("get relations failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	detail := EntityDetail{Entity: e, Observations: obs[e.ID], Relations: rels}
	if detail.Observations == nil {
		detail.Observations = []models.Observation{}
	}
	if detail.Relations == nil {
		detail.Relations = []models.Relation{}
	}
	writeJSON(w, http.StatusOK, detail)
}

// EntityRelations handles GET /projects/{project}/entities/{id}/relations.
func (h *Handler) EntityRelations(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid entity id"))
		return
	}
	if _, err := p.Store.EntityByID(id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("entity lookup failed", slog.String("project", p.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	rels, err := p.Store.RelationsForEntity(id)
	if err != nil {
		slog.Error("relations failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if rels == nil {
		rels = []models.Relation{}
	}
	writeJSON(w, http.StatusOK, RelationsResponse{Relations: rels})
}

// Observations handles GET /projects/{project}/observations?ids=1,2,3.
func (h *Handler) Observations(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'ids' is required"))
		return
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid id "+part))
			return
		}
		ids = append(ids, id)
	}

	byEntity, err := p.Store.ObservationsForEntities(ids)
	if err != nil {
		slog.Error("observations failed", slog.String("project", p.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	out := make(map[string][]models.Observation, len(ids))
	for _, id := range ids {
		obs := byEntity[id]
		if obs == nil {
			obs = []models.Observation{}
		}
		out[strconv.FormatInt(id, 10)] = obs
	}
	writeJSON(w, http.StatusOK, ObservationsResponse{Observations: out})
}

// WatchStatus handles GET /projects/{project}/watch.
func (h *Handler) WatchStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	if h.status == nil {
		writeJSON(w, http.StatusOK, syncpkg.Status{})
		return
	}
	st, running := h.status(p.Name)
	if !running {
		writeJSON(w, http.StatusOK, syncpkg.Status{})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
