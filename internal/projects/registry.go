// Package projects wires one graph store, search index, file provider,
// and sync engine per configured vault and hands them out by name. All
// request-scoped code goes through the registry; nothing else opens
// database connections.
package projects

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/directory"
	"github.com/starford/mimir/internal/graph"
	"github.com/starford/mimir/internal/search"
	"github.com/starford/mimir/internal/storage"
	"github.com/starford/mimir/internal/sync"
)

// Project bundles everything request handlers need for one vault.
type Project struct {
	Name      string
	Root      string
	Store     *graph.Store
	Index     *search.DB
	Files     storage.Provider
	Engine    *sync.Engine
	Directory *directory.Service
}

// Spec describes one project to open.
type Spec struct {
	Name string
	Path string
}

// Options applies to every project's engine.
type Options struct {
	SQLiteDir              string
	UpdatePermalinksOnMove bool
}

// Registry holds the open projects, keyed by name. It is built once at
// startup and read-only afterwards, so no locking is needed.
type Registry struct {
	projects map[string]*Project
	names    []string
}

// Open builds the registry: one database file per project under
// opts.SQLiteDir, sharing nothing across projects. On error, projects
// opened so far are closed.
func Open(specs []Spec, opts Options, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(opts.SQLiteDir, 0o755); err != nil {
		return nil, fmt.Errorf("projects: create sqlite dir: %w", err)
	}

	r := &Registry{projects: make(map[string]*Project, len(specs))}
	for _, spec := range specs {
		p, err := open(spec, opts, logger)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("projects: open %q: %w", spec.Name, err)
		}
		r.projects[spec.Name] = p
		r.names = append(r.names, spec.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

func open(spec Spec, opts Options, logger *slog.Logger) (*Project, error) {
	root, err := filepath.Abs(spec.Path)
	if err != nil {
		return nil, err
	}

	files, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}

	store, err := graph.Open(filepath.Join(opts.SQLiteDir, spec.Name+".db"))
	if err != nil {
		return nil, err
	}

	idx, err := search.New(store.Conn())
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	engine := sync.New(store, idx, files, sync.Options{
		UpdatePermalinksOnMove: opts.UpdatePermalinksOnMove,
	}, logger.With(slog.String("project", spec.Name)))

	return &Project{
		Name:      spec.Name,
		Root:      root,
		Store:     store,
		Index:     idx,
		Files:     files,
		Engine:    engine,
		Directory: directory.NewService(idx),
	}, nil
}

// Get returns the project by name, or apperr.ErrNotFound.
func (r *Registry) Get(name string) (*Project, error) {
	p, ok := r.projects[name]
	if !ok {
		return nil, fmt.Errorf("projects: %q: %w", name, apperr.ErrNotFound)
	}
	return p, nil
}

// Names returns the project names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Close closes every project's database. Safe to call more than once.
func (r *Registry) Close() {
	for _, p := range r.projects {
		if p.Store != nil {
			p.Store.Close() //nolint:errcheck
		}
	}
	r.projects = make(map[string]*Project)
	r.names = nil
}
