// Package sync reconciles a project's file tree against the graph store
// and keeps the search index consistent with it. It owns all writes to
// both; everything else reads.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	gosync "sync"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/checksum"
	"github.com/starford/mimir/internal/graph"
	"github.com/starford/mimir/internal/markdown"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/search"
	"github.com/starford/mimir/internal/storage"
)

// Options configures engine behaviour.
type Options struct {
	// UpdatePermalinksOnMove re-derives an entity's permalink from its new
	// path when a move is detected. Default off: permalinks stay stable.
	UpdatePermalinksOnMove bool
	// ResolveBatchSize bounds each unresolved-relation batch so the
	// resolution pass never holds one long transaction.
	ResolveBatchSize int
}

// Engine runs reconciliation passes for one project. Passes are serialized
// by an internal mutex: concurrent Sync/SyncPaths calls for the same
// project never interleave.
type Engine struct {
	store  *graph.Store
	index  search.Index
	files  storage.Provider
	opts   Options
	logger *slog.Logger

	mu gosync.Mutex
}

// Move records a detected rename within one pass.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Report summarizes one reconciliation pass. Paths appear in lexical
// order. Failures maps a path to the error that isolated it; a failed file
// never aborts the pass.
type Report struct {
	New      []string          `json:"new"`
	Modified []string          `json:"modified"`
	Deleted  []string          `json:"deleted"`
	Moved    []Move            `json:"moved"`
	Resolved int               `json:"resolved"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Total returns the number of paths the pass touched.
func (r *Report) Total() int {
	return len(r.New) + len(r.Modified) + len(r.Deleted) + len(r.Moved)
}

func newReport() *Report {
	return &Report{
		New:      []string{},
		Modified: []string{},
		Deleted:  []string{},
		Moved:    []Move{},
		Failures: map[string]string{},
	}
}

// New creates a sync engine for one project.
func New(store *graph.Store, index search.Index, files storage.Provider, opts Options, logger *slog.Logger) *Engine {
	if opts.ResolveBatchSize <= 0 {
		opts.ResolveBatchSize = 200
	}
	return &Engine{store: store, index: index, files: files, opts: opts, logger: logger}
}

// Sync performs one full reconciliation pass: disk state vs store state,
// then a relation resolution pass. Per-file failures are collected into
// the report; only store-wide unavailability returns a non-nil error.
// Cancellation is honored between files, never inside a file's
// parse-upsert-index triple.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := newReport()

	infos, err := e.files.List("")
	if err != nil {
		return report, fmt.Errorf("sync: list files: %w", err)
	}
	stored, err := e.store.AllChecksums()
	if err != nil {
		return report, fmt.Errorf("sync: %w: %v", apperr.ErrStoreUnavailable, err)
	}

	disk := make(map[string]string, len(infos))
	diskPaths := make([]string, 0, len(infos))
	for _, fi := range infos {
		disk[fi.Path] = fi.Checksum
		diskPaths = append(diskPaths, fi.Path)
	}

	dead, created := diffPaths(stored, disk)
	moved := e.correlateMoves(report, dead, created, stored, disk)

	lookup, err := e.store.IdentifierLookup()
	if err != nil {
		return report, fmt.Errorf("sync: %w: %v", apperr.ErrStoreUnavailable, err)
	}

	for _, path := range diskPaths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if moved[path] {
			continue
		}
		storedCS, inStore := stored[path]
		if inStore && storedCS == disk[path] {
			continue
		}
		switch err := e.syncFile(path, lookup); {
		case errors.Is(err, errVanished):
			if inStore {
				e.deletePath(report, path)
			}
		case err != nil:
			report.Failures[path] = err.Error()
			e.logger.Warn("sync: file failed", slog.String("path", path), slog.String("error", err.Error()))
		case inStore:
			report.Modified = append(report.Modified, path)
		default:
			report.New = append(report.New, path)
		}
	}

	for _, path := range sortedKeys(dead) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.deletePath(report, path)
	}

	resolved, err := e.resolvePass(ctx)
	report.Resolved = resolved
	if err != nil {
		return report, err
	}
	return report, nil
}

// SyncPaths reconciles a watcher micro-batch: each path is re-synced or
// deleted depending on its presence on disk, then the full resolution pass
// runs, because one new file can resolve dangling relations anywhere in
// the graph.
func (e *Engine) SyncPaths(ctx context.Context, paths []string) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := newReport()
	sort.Strings(paths)

	lookup, err := e.store.IdentifierLookup()
	if err != nil {
		return report, fmt.Errorf("sync: %w: %v", apperr.ErrStoreUnavailable, err)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		prior, lookupErr := e.store.EntityByPath(path)
		if lookupErr != nil && !errors.Is(lookupErr, apperr.ErrNotFound) {
			return report, fmt.Errorf("sync: %w: %v", apperr.ErrStoreUnavailable, lookupErr)
		}
		inStore := lookupErr == nil

		switch err := e.syncFileGated(path, lookup, prior.Checksum, inStore); {
		case errors.Is(err, errVanished):
			if inStore {
				e.deletePath(report, path)
			}
		case errors.Is(err, errUnchanged):
			// checksum match, nothing to do
		case err != nil:
			report.Failures[path] = err.Error()
			e.logger.Warn("sync: file failed", slog.String("path", path), slog.String("error", err.Error()))
		case inStore:
			report.Modified = append(report.Modified, path)
		default:
			report.New = append(report.New, path)
		}
	}

	resolved, err := e.resolvePass(ctx)
	report.Resolved = resolved
	if err != nil {
		return report, err
	}
	return report, nil
}

var (
	errVanished  = errors.New("file vanished")
	errUnchanged = errors.New("file unchanged")
)

// syncFileGated wraps syncFile with a checksum gate for micro-batches.
func (e *Engine) syncFileGated(path string, lookup *graph.Lookup, priorChecksum string, inStore bool) error {
	data, err := e.files.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errVanished
		}
		return err
	}
	if inStore && checksum.Sum(data) == priorChecksum {
		return errUnchanged
	}
	return e.applyFile(path, data, lookup)
}

// syncFile reads and applies one file. A file vanished between listing and
// reading is a deletion, not an error.
func (e *Engine) syncFile(path string, lookup *graph.Lookup) error {
	data, err := e.files.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errVanished
		}
		return err
	}
	return e.applyFile(path, data, lookup)
}

// applyFile performs the parse, store-upsert, index-upsert triple for
// one file. Store writes commit before index writes; a failed index write
// blanks the stored checksum so the next pass re-applies the file instead
// of skipping it at the checksum gate.
func (e *Engine) applyFile(path string, data []byte, lookup *graph.Lookup) error {
	res := markdown.Parse(data, path)
	for _, w := range res.Warnings {
		e.logger.Warn("sync: parse warning", slog.String("path", path), slog.String("warning", w))
	}

	entity, created, err := e.store.UpsertEntity(graph.EntityUpsert{
		Title:       res.Title,
		Permalink:   res.Permalink,
		FilePath:    path,
		EntityType:  res.EntityType,
		ContentType: res.ContentType,
		Checksum:    checksum.Sum(data),
	})
	if err != nil {
		return err
	}
	lookup.Add(entity)

	obs, err := e.store.ReplaceObservations(entity.ID, res.Observations)
	if err != nil {
		return err
	}
	rels, err := e.store.ReplaceRelations(entity.ID, res.Relations, lookup)
	if err != nil {
		return err
	}

	if err := e.reindexEntity(entity, res, obs, rels); err != nil {
		// The entity committed but its index rows did not. A blank
		// checksum never matches disk, so the file is re-applied next pass.
		if cerr := e.store.ClearChecksum(entity.ID); cerr != nil {
			e.logger.Warn("sync: clear checksum failed", slog.String("path", path), slog.String("error", cerr.Error()))
		}
		return fmt.Errorf("index write: %w", err)
	}

	if created {
		e.logger.Debug("sync: created", slog.String("path", path), slog.String("permalink", entity.Permalink))
	} else {
		e.logger.Debug("sync: updated", slog.String("path", path))
	}
	return nil
}

// reindexEntity replaces every index row owned by the entity.
func (e *Engine) reindexEntity(entity models.Entity, res *markdown.Result, obs []models.Observation, rels []models.Relation) error {
	if err := e.index.DeleteForEntity(entity.ID); err != nil {
		return err
	}
	if err := e.index.Upsert(search.EntityRow(entity, buildStems(res), buildSnippet(res))); err != nil {
		return err
	}
	for _, o := range obs {
		if err := e.index.Upsert(search.ObservationRow(o, entity)); err != nil {
			return err
		}
	}
	for _, r := range rels {
		if err := e.index.Upsert(search.RelationRow(r, entity)); err != nil {
			return err
		}
	}
	return nil
}

// deletePath cascades a deletion through store and index and reverts
// relations that targeted the entity to unresolved index rows.
func (e *Engine) deletePath(report *Report, path string) {
	prior, err := e.store.EntityByPath(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return
	}
	if err != nil {
		report.Failures[path] = err.Error()
		return
	}
	targeting, err := e.store.RelationsTargeting(prior.ID)
	if err != nil {
		report.Failures[path] = err.Error()
		return
	}

	// Index rows go first. Whichever side fails, the store row survives
	// until both deletes have succeeded, so the path stays dead on the
	// next pass and the whole deletion is retried.
	if err := e.index.DeleteForEntity(prior.ID); err != nil {
		report.Failures[path] = err.Error()
		e.logger.Warn("sync: index delete failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if _, err := e.store.DeleteEntityByPath(path); err != nil {
		report.Failures[path] = err.Error()
		e.logger.Warn("sync: delete failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	// Incoming relations reverted to unresolved by the cascade; refresh
	// their index rows so to_id does not dangle at a deleted id.
	for _, rel := range targeting {
		from, err := e.store.EntityByID(rel.FromID)
		if err != nil {
			continue
		}
		rel.ToID = nil
		if err := e.index.Upsert(search.RelationRow(rel, from)); err != nil {
			e.logger.Warn("sync: unresolve reindex failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	report.Deleted = append(report.Deleted, path)
	e.logger.Debug("sync: deleted", slog.String("path", path))
}

// correlateMoves pairs store paths that disappeared with disk paths that
// appeared carrying the same checksum, rewriting the entity in place to
// avoid id and permalink churn. Candidates pair in lexical order; paths
// consumed here are excluded from the create/delete phases. Returns the
// set of disk paths handled as moves.
func (e *Engine) correlateMoves(report *Report, dead, created map[string]string, stored, disk map[string]string) map[string]bool {
	byChecksum := make(map[string][]string)
	for _, path := range sortedKeys(dead) {
		cs := stored[path]
		byChecksum[cs] = append(byChecksum[cs], path)
	}

	handled := make(map[string]bool)
	for _, newPath := range sortedKeys(created) {
		candidates := byChecksum[disk[newPath]]
		if len(candidates) == 0 {
			continue
		}
		oldPath := candidates[0]
		byChecksum[disk[newPath]] = candidates[1:]

		entity, err := e.store.MoveEntity(oldPath, newPath, e.opts.UpdatePermalinksOnMove)
		if err != nil {
			report.Failures[newPath] = err.Error()
			continue
		}
		if err := e.reindexMoved(entity); err != nil {
			report.Failures[newPath] = err.Error()
		}

		delete(dead, oldPath)
		delete(created, newPath)
		handled[newPath] = true
		report.Moved = append(report.Moved, Move{From: oldPath, To: newPath})
		e.logger.Debug("sync: moved", slog.String("from", oldPath), slog.String("to", newPath))
	}
	return handled
}

// reindexMoved refreshes index rows after an in-place move: content is
// unchanged, but file_path, directory, and possibly permalink moved.
func (e *Engine) reindexMoved(entity models.Entity) error {
	data, err := e.files.Read(entity.FilePath)
	if err != nil {
		return err
	}
	res := markdown.Parse(data, entity.FilePath)

	obsByEntity, err := e.store.ObservationsForEntities([]int64{entity.ID})
	if err != nil {
		return err
	}
	rels, err := e.store.RelationsForEntity(entity.ID)
	if err != nil {
		return err
	}
	outgoing := rels[:0]
	for _, r := range rels {
		if r.FromID == entity.ID {
			outgoing = append(outgoing, r)
		}
	}
	return e.reindexEntity(entity, res, obsByEntity[entity.ID], outgoing)
}

func diffPaths(stored, disk map[string]string) (dead, created map[string]string) {
	dead = make(map[string]string)
	created = make(map[string]string)
	for path := range stored {
		if _, ok := disk[path]; !ok {
			dead[path] = stored[path]
		}
	}
	for path := range disk {
		if _, ok := stored[path]; !ok {
			created[path] = disk[path]
		}
	}
	return dead, created
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func buildStems(res *markdown.Result) string {
	var b strings.Builder
	b.WriteString(res.Title)
	b.WriteByte('\n')
	b.WriteString(res.Body)
	for _, o := range res.Observations {
		b.WriteByte('\n')
		b.WriteString(o.Content)
	}
	return b.String()
}

func buildSnippet(res *markdown.Result) string {
	const max = 250
	if len(res.Body) <= max {
		return res.Body
	}
	return res.Body[:max]
}
