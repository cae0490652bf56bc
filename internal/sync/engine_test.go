package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/graph"
	"github.com/starford/mimir/internal/search"
	"github.com/starford/mimir/internal/testutil"
)

func testEngine(t *testing.T, opts Options) (*Engine, *graph.Store, *search.DB, string) {
	t.Helper()
	root, files := testutil.TestVault(t)
	store := testutil.TestStore(t)

	idx, err := search.New(store.Conn())
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, idx, files, opts, logger), store, idx, root
}

// flakyIndex fails a configured number of writes, then delegates.
type flakyIndex struct {
	search.Index
	failUpserts int
	failDeletes int
}

func (f *flakyIndex) Upsert(r search.Row) error {
	if f.failUpserts > 0 {
		f.failUpserts--
		return errors.New("index unavailable")
	}
	return f.Index.Upsert(r)
}

func (f *flakyIndex) DeleteForEntity(entityID int64) error {
	if f.failDeletes > 0 {
		f.failDeletes--
		return errors.New("index unavailable")
	}
	return f.Index.DeleteForEntity(entityID)
}

func testFlakyEngine(t *testing.T, opts Options) (*Engine, *graph.Store, *flakyIndex, string) {
	t.Helper()
	root, files := testutil.TestVault(t)
	store := testutil.TestStore(t)

	idx, err := search.New(store.Conn())
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}
	flaky := &flakyIndex{Index: idx}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, flaky, files, opts, logger), store, flaky, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSync_NewFilesAndResolution(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "a.md", "# Alpha\n\n- links_to [[Beta]]\n")
	writeFile(t, root, "b.md", "# Beta\n\nbody\n")

	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.New) != 2 || report.New[0] != "a.md" || report.New[1] != "b.md" {
		t.Fatalf("new = %v, want [a.md b.md]", report.New)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("failures = %v", report.Failures)
	}

	a, err := store.EntityByPath("a.md")
	if err != nil {
		t.Fatal(err)
	}
	rels, err := store.RelationsForEntity(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || !rels[0].Resolved() {
		t.Fatalf("relations = %+v, want one resolved", rels)
	}
}

func TestSync_Idempotent(t *testing.T) {
	engine, _, _, root := testEngine(t, Options{})
	writeFile(t, root, "note.md", "# Note\n\ncontent\n")

	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if report.Total() != 0 {
		t.Errorf("second pass touched %d paths: %+v", report.Total(), report)
	}
}

func TestSync_ModifiedFile(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "note.md", "# Note\n\nv1\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := store.EntityByPath("note.md")

	writeFile(t, root, "note.md", "# Note\n\nv2\n\n- [fact] updated\n")
	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Modified) != 1 || report.Modified[0] != "note.md" {
		t.Fatalf("modified = %v", report.Modified)
	}

	after, err := store.EntityByPath("note.md")
	if err != nil {
		t.Fatal(err)
	}
	if after.ID != before.ID {
		t.Errorf("id changed on modify: %d -> %d", before.ID, after.ID)
	}
	obs, err := store.ObservationsForEntities([]int64{after.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(obs[after.ID]) != 1 || obs[after.ID][0].Content != "updated" {
		t.Errorf("observations = %+v", obs[after.ID])
	}
}

func TestSync_DeleteUnresolvesIncoming(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "a.md", "# Alpha\n\n- links_to [[Beta]]\n")
	writeFile(t, root, "b.md", "# Beta\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "b.md")); err != nil {
		t.Fatal(err)
	}
	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "b.md" {
		t.Fatalf("deleted = %v", report.Deleted)
	}

	a, _ := store.EntityByPath("a.md")
	rels, err := store.RelationsForEntity(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].Resolved() {
		t.Fatalf("relations = %+v, want one unresolved", rels)
	}
	if rels[0].ToName != "Beta" {
		t.Errorf("to_name = %q, want Beta", rels[0].ToName)
	}
}

func TestSync_MoveKeepsIdentity(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "notes/x.md", "# X\n\nstable body\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := store.EntityByPath("notes/x.md")

	if err := os.MkdirAll(filepath.Join(root, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(root, "notes", "x.md"), filepath.Join(root, "archive", "x.md")); err != nil {
		t.Fatal(err)
	}

	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Moved) != 1 || report.Moved[0].From != "notes/x.md" || report.Moved[0].To != "archive/x.md" {
		t.Fatalf("moved = %+v", report.Moved)
	}
	if len(report.New) != 0 || len(report.Deleted) != 0 {
		t.Fatalf("move leaked into new/deleted: %+v", report)
	}

	after, err := store.EntityByPath("archive/x.md")
	if err != nil {
		t.Fatal(err)
	}
	if after.ID != before.ID {
		t.Errorf("id changed on move: %d -> %d", before.ID, after.ID)
	}
	if after.Permalink != before.Permalink {
		t.Errorf("permalink churned on move: %q -> %q", before.Permalink, after.Permalink)
	}
}

func TestSync_MoveUpdatesPermalinkWhenConfigured(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{UpdatePermalinksOnMove: true})
	writeFile(t, root, "notes/x.md", "# X\n\nstable body\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(root, "final"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(root, "notes", "x.md"), filepath.Join(root, "final", "x.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	e, err := store.EntityByPermalink("final/x")
	if err != nil {
		t.Fatalf("entity by new permalink: %v", err)
	}
	if e.FilePath != "final/x.md" {
		t.Errorf("file_path = %q", e.FilePath)
	}
}

func TestSync_ForwardReferenceResolvesLater(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "a.md", "# Alpha\n\n- links_to [[missing-target]]\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, _ := store.EntityByPath("a.md")
	rels, _ := store.RelationsForEntity(a.ID)
	if len(rels) != 1 || rels[0].Resolved() {
		t.Fatalf("expected pending relation, got %+v", rels)
	}

	writeFile(t, root, "missing-target.md", "# Target\n")
	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Resolved != 1 {
		t.Errorf("resolved = %d, want 1", report.Resolved)
	}
	rels, _ = store.RelationsForEntity(a.ID)
	if len(rels) != 1 || !rels[0].Resolved() {
		t.Fatalf("relation stayed unresolved: %+v", rels)
	}
}

func TestSync_IndexRowsFollowEntity(t *testing.T) {
	engine, _, idx, root := testEngine(t, Options{})
	writeFile(t, root, "notes/c.md", "# Coffee\n\ndistinctiveword notes\n\n- [taste] bright acidity\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search("distinctiveword", search.Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].FilePath != "notes/c.md" {
		t.Fatalf("hits = %+v", hits)
	}

	if err := os.Remove(filepath.Join(root, "notes", "c.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	hits, err = idx.Search("distinctiveword", search.Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("stale index rows after delete: %+v", hits)
	}
}

func TestSyncPaths_ChecksumGate(t *testing.T) {
	engine, _, _, root := testEngine(t, Options{})
	writeFile(t, root, "note.md", "# Note\n\nbody\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	report, err := engine.SyncPaths(context.Background(), []string{"note.md"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 0 {
		t.Errorf("unchanged path touched: %+v", report)
	}

	writeFile(t, root, "note.md", "# Note\n\nchanged\n")
	report, err = engine.SyncPaths(context.Background(), []string{"note.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Modified) != 1 {
		t.Errorf("modified = %v", report.Modified)
	}
}

func TestSyncPaths_MissingPathDeletes(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "gone.md", "# Gone\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "gone.md")); err != nil {
		t.Fatal(err)
	}
	report, err := engine.SyncPaths(context.Background(), []string{"gone.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "gone.md" {
		t.Fatalf("deleted = %v", report.Deleted)
	}
	if _, err := store.EntityByPath("gone.md"); err == nil {
		t.Error("entity survived deletion")
	}
}

func TestSync_IndexWriteFailureHealsOnRerun(t *testing.T) {
	engine, store, flaky, root := testFlakyEngine(t, Options{})
	writeFile(t, root, "note.md", "# Note\n\nhealword body\n")

	flaky.failUpserts = 1
	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := report.Failures["note.md"]; !ok {
		t.Fatalf("failures = %v, want note.md", report.Failures)
	}
	if _, err := store.EntityByPath("note.md"); err != nil {
		t.Fatalf("entity missing from store after index failure: %v", err)
	}
	hits, err := flaky.Search("healword", search.Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits before healing = %+v", hits)
	}

	// A clean re-run must re-apply the file, not skip it at the
	// checksum gate.
	report, err = engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(report.Modified) != 1 || report.Modified[0] != "note.md" {
		t.Fatalf("second pass = %+v, want note.md re-applied", report)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("second pass failures = %v", report.Failures)
	}
	hits, err = flaky.Search("healword", search.Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].FilePath != "note.md" {
		t.Fatalf("index never healed: hits = %+v", hits)
	}
}

func TestSync_DeleteIndexFailureHealsOnRerun(t *testing.T) {
	engine, store, flaky, root := testFlakyEngine(t, Options{})
	writeFile(t, root, "ghost.md", "# Ghost\n\nghostword body\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "ghost.md")); err != nil {
		t.Fatal(err)
	}

	flaky.failDeletes = 1
	report, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := report.Failures["ghost.md"]; !ok {
		t.Fatalf("failures = %v, want ghost.md", report.Failures)
	}
	if _, err := store.EntityByPath("ghost.md"); err != nil {
		t.Fatal("store row removed before the index rows were cleaned")
	}

	report, err = engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != "ghost.md" {
		t.Fatalf("second pass = %+v, want ghost.md deleted", report)
	}
	hits, err := flaky.Search("ghostword", search.Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("ghost search hits after clean re-run: %+v", hits)
	}
}

func TestSyncPaths_StoreUnavailableIsPassFatal(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "note.md", "# Note\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	store.Close()
	_, err := engine.SyncPaths(context.Background(), []string{"note.md"})
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestSync_PermalinkCollisionSuffix(t *testing.T) {
	engine, store, _, root := testEngine(t, Options{})
	writeFile(t, root, "dup.md", "---\npermalink: shared\n---\n# One\n")
	writeFile(t, root, "other.md", "---\npermalink: shared\n---\n# Two\n")
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, err := store.EntityByPath("dup.md")
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.EntityByPath("other.md")
	if err != nil {
		t.Fatal(err)
	}
	if a.Permalink != "shared" {
		t.Errorf("first permalink = %q, want shared", a.Permalink)
	}
	if b.Permalink != "shared-2" {
		t.Errorf("second permalink = %q, want shared-2", b.Permalink)
	}
}
