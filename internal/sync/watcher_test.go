package sync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/starford/mimir/internal/testutil"
)

func TestWatcher_CatchUpAndLiveEvents(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "pre.md", "# Pre\n")

	var mu gosync.Mutex
	events := map[string]string{}
	cb := func(kind, path string) {
		mu.Lock()
		events[path] = kind
		mu.Unlock()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(engine, root, 50*time.Millisecond, logger, cb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Catch-up pass picks up the pre-existing file.
	if !testutil.Eventually(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return events["pre.md"] == "created"
	}) {
		t.Fatal("catch-up pass never synced pre.md")
	}
	if !w.Status().Running {
		t.Error("status not running")
	}

	writeFile(t, root, "live.md", "# Live\n")
	if !testutil.Eventually(t, 3*time.Second, func() bool {
		_, err := store.EntityByPath("live.md")
		return err == nil
	}) {
		t.Fatal("watcher never synced live.md")
	}

	if err := os.Remove(filepath.Join(root, "live.md")); err != nil {
		t.Fatal(err)
	}
	if !testutil.Eventually(t, 3*time.Second, func() bool {
		_, err := store.EntityByPath("live.md")
		return err != nil
	}) {
		t.Fatal("watcher never removed live.md")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
	if w.Status().Running {
		t.Error("status still running after stop")
	}
}

func TestWatcher_NewDirectoryWatched(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(engine, root, 50*time.Millisecond, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if !testutil.Eventually(t, 3*time.Second, func() bool { return w.Status().Running }) {
		t.Fatal("watcher never started")
	}
	// Give the fsnotify watch list a moment to settle.
	time.Sleep(100 * time.Millisecond)

	if err := os.MkdirAll(filepath.Join(root, "fresh"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	writeFile(t, root, "fresh/inside.md", "# Inside\n")

	if !testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := store.EntityByPath("fresh/inside.md")
		return err == nil
	}) {
		t.Fatal("file in new directory never synced")
	}
}

func TestWatcher_StatusCounts(t *testing.T) {
	engine, _, _, root := testEngine(t, Options{})
	writeFile(t, root, "a.md", "# A\n")
	writeFile(t, root, "b.md", "# B\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(engine, root, 50*time.Millisecond, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if !testutil.Eventually(t, 3*time.Second, func() bool {
		st := w.Status()
		return st.SyncedFiles == 2 && !st.LastScan.IsZero()
	}) {
		t.Fatalf("status = %+v, want 2 synced files", w.Status())
	}
	if w.Status().ErrorCount != 0 {
		t.Errorf("error count = %d", w.Status().ErrorCount)
	}
}
