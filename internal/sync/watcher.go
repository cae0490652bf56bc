package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is invoked after a watcher-driven change lands in the
// store and index. kind is one of "created", "updated", "deleted".
type EventCallback func(kind, path string)

// Status is the operational readout of one project's watcher.
type Status struct {
	Running     bool      `json:"running"`
	LastScan    time.Time `json:"last_scan"`
	ErrorCount  int       `json:"error_count"`
	SyncedFiles int       `json:"synced_files"`
}

// Watcher drives live reconciliation for one project: a catch-up pass at
// startup, then fsnotify events coalesced per debounce interval into
// micro-batches for the engine. The engine's own mutex serializes these
// passes against any concurrent on-demand Sync calls.
type Watcher struct {
	engine   *Engine
	root     string
	debounce time.Duration
	logger   *slog.Logger
	cb       EventCallback

	mu     gosync.Mutex
	status Status
}

// NewWatcher creates a watcher for the project rooted at root (absolute
// path). cb may be nil.
func NewWatcher(engine *Engine, root string, debounce time.Duration, logger *slog.Logger, cb EventCallback) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{engine: engine, root: root, debounce: debounce, logger: logger, cb: cb}
}

// Status returns a snapshot of the watcher's operational state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run performs the catch-up sync, then processes file-system events until
// ctx is cancelled. An in-flight pass finishes its current file's
// parse-upsert-index triple before stopping.
func (w *Watcher) Run(ctx context.Context) error {
	w.setRunning(true)
	defer w.setRunning(false)

	report, err := w.engine.Sync(ctx)
	w.recordPass(report, err)
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("watcher: catch-up sync failed", slog.String("root", w.root), slog.String("error", err.Error()))
	}
	w.emit(report)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := addDirsRecursive(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.root))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(w.debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			w.logger.Info("watcher: stopped", slog.String("root", w.root))
			return nil

		case <-flushCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]struct{})
			w.flush(ctx, paths)

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			// New directories join the watch list; their contents are
			// queued so files dropped in with the directory get synced.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fsw, absPath); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath), slog.String("error", addErr.Error()))
					}
					for _, rel := range w.markdownFilesUnder(absPath) {
						pending[rel] = struct{}{}
					}
					if len(pending) > 0 {
						scheduleFlush()
					}
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(w.root, absPath)
			if relErr != nil {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				pending[filepath.ToSlash(rel)] = struct{}{}
				scheduleFlush()
			}

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.bumpErrors(1)
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// flush applies one coalesced micro-batch. When any queued path is gone
// from disk a full pass runs instead, so renames get move-correlated by
// checksum rather than churned through delete+create.
func (w *Watcher) flush(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}

	full := false
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(p))); os.IsNotExist(err) {
			full = true
			break
		}
	}

	var report *Report
	var err error
	if full {
		report, err = w.engine.Sync(ctx)
	} else {
		report, err = w.engine.SyncPaths(ctx, paths)
	}
	w.recordPass(report, err)
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("watcher: pass failed", slog.String("error", err.Error()))
	}
	w.emit(report)
}

// emit forwards pass results to the event callback.
func (w *Watcher) emit(report *Report) {
	if w.cb == nil || report == nil {
		return
	}
	for _, p := range report.New {
		w.cb("created", p)
	}
	for _, p := range report.Modified {
		w.cb("updated", p)
	}
	for _, p := range report.Deleted {
		w.cb("deleted", p)
	}
	for _, m := range report.Moved {
		w.cb("deleted", m.From)
		w.cb("created", m.To)
	}
}

func (w *Watcher) markdownFilesUnder(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		if rel, relErr := filepath.Rel(w.root, path); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

func (w *Watcher) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Running = running
}

func (w *Watcher) recordPass(report *Report, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastScan = time.Now()
	if report != nil {
		w.status.SyncedFiles += report.Total()
		w.status.ErrorCount += len(report.Failures)
	}
	if err != nil {
		w.status.ErrorCount++
	}
}

func (w *Watcher) bumpErrors(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.ErrorCount += n
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
