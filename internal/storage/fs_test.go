package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func testFS(t *testing.T) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return f, dir
}

func TestWriteReadDelete(t *testing.T) {
	f, _ := testFS(t)
	if err := f.Write("notes/a.md", []byte("# A")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := f.Read("notes/a.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "# A" {
		t.Errorf("content = %q", data)
	}
	if err := f.Delete("notes/a.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.Read("notes/a.md"); err == nil {
		t.Error("expected read error after delete")
	}
}

func TestList_SortedAndFiltered(t *testing.T) {
	f, dir := testFS(t)
	_ = f.Write("b.md", []byte("b"))
	_ = f.Write("a.md", []byte("a"))
	_ = f.Write("sub/c.md", []byte("c"))
	_ = os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644)

	infos, err := f.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("len = %d, want 3", len(infos))
	}
	want := []string{"a.md", "b.md", "sub/c.md"}
	for i, w := range want {
		if infos[i].Path != w {
			t.Errorf("infos[%d].Path = %q, want %q", i, infos[i].Path, w)
		}
		if infos[i].Checksum == "" {
			t.Errorf("infos[%d] missing checksum", i)
		}
	}
}

func TestSafePath_RejectsTraversal(t *testing.T) {
	f, _ := testFS(t)
	if _, err := f.Read("../escape.md"); err == nil {
		t.Error("expected traversal rejection")
	}
	if err := f.Write("/abs.md", []byte("x")); err == nil {
		t.Error("expected absolute path rejection")
	}
}

func TestMove(t *testing.T) {
	f, _ := testFS(t)
	_ = f.Write("notes/x.md", []byte("content"))
	if err := f.Move("notes/x.md", "archive/x.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := f.Read("notes/x.md"); err == nil {
		t.Error("old path still readable")
	}
	data, err := f.Read("archive/x.md")
	if err != nil || string(data) != "content" {
		t.Errorf("new path read = %q, %v", data, err)
	}
}
