package directory

import (
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/search"
)

func testService(t *testing.T) *Service {
	t.Helper()
	f, err := os.CreateTemp("", "mimir-directory-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	conn, err := sql.Open("sqlite3", f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	idx, err := search.New(conn)
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}

	now := time.Now().UTC()
	seed := []struct {
		id    int64
		title string
		path  string
	}{
		{1, "Readme", "readme.md"},
		{2, "Coffee", "notes/coffee.md"},
		{3, "Tea", "notes/tea.md"},
		{4, "Deep", "notes/archive/deep.md"},
		{5, "Plan", "work/plan.md"},
	}
	for _, s := range seed {
		e := models.Entity{
			ID: s.id, Title: s.title, Permalink: s.title, FilePath: s.path,
			EntityType: "note", ContentType: "text/markdown",
			CreatedAt: now, UpdatedAt: now,
		}
		if err := idx.Upsert(search.EntityRow(e, "", "")); err != nil {
			t.Fatalf("seed %s: %v", s.path, err)
		}
	}
	return NewService(idx)
}

func TestList_RootDirsFirstSorted(t *testing.T) {
	svc := testService(t)
	nodes, err := svc.List("", true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	for _, n := range nodes {
		got = append(got, n.Type+":"+n.Name)
	}
	want := []string{"directory:notes", "directory:work", "file:readme.md"}
	if len(got) != len(want) {
		t.Fatalf("nodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("node[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !nodes[0].HasChildren {
		t.Error("directory node should report children")
	}
	if nodes[2].EntityID != 1 || nodes[2].ParentPath != "/" || nodes[2].Path != "/readme.md" {
		t.Errorf("file node = %+v", nodes[2])
	}
}

func TestList_ExcludeFiles(t *testing.T) {
	svc := testService(t)
	nodes, err := svc.List("notes", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].Name != "archive" || nodes[0].Type != NodeDirectory {
		t.Fatalf("nodes = %+v, want only archive dir", nodes)
	}
}

func TestList_UnknownPathEmpty(t *testing.T) {
	svc := testService(t)
	nodes, err := svc.List("no/such/place", true)
	if err != nil {
		t.Fatalf("unknown path errored: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("nodes = %+v, want empty", nodes)
	}
}

func TestTree_DepthCutoff(t *testing.T) {
	svc := testService(t)

	tree, err := svc.Tree("", 1, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range tree {
		if len(n.Children) != 0 {
			t.Errorf("depth 1 expanded %s", n.Name)
		}
	}

	tree, err = svc.Tree("", 3, true)
	if err != nil {
		t.Fatal(err)
	}
	var notes *Node
	for _, n := range tree {
		if n.Name == "notes" {
			notes = n
		}
	}
	if notes == nil {
		t.Fatal("notes dir missing from tree")
	}
	// archive dir first, then coffee.md, tea.md.
	if len(notes.Children) != 3 || notes.Children[0].Name != "archive" {
		t.Fatalf("notes children = %+v", notes.Children)
	}
	archive := notes.Children[0]
	if len(archive.Children) != 1 || archive.Children[0].Name != "deep.md" {
		t.Fatalf("archive children = %+v", archive.Children)
	}
	if archive.Children[0].Path != "/notes/archive/deep.md" {
		t.Errorf("deep path = %q", archive.Children[0].Path)
	}
}
