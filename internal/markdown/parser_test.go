package markdown

import (
	"reflect"
	"testing"
)

func TestParse_FrontmatterAndTitle(t *testing.T) {
	input := []byte("---\ntitle: Coffee Brewing\ntype: guide\n---\n# Heading\nBody text.\n")
	r := Parse(input, "notes/coffee.md")
	if r.Title != "Coffee Brewing" {
		t.Errorf("title = %q, want %q", r.Title, "Coffee Brewing")
	}
	if r.EntityType != "guide" {
		t.Errorf("entity type = %q, want guide", r.EntityType)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", r.Warnings)
	}
}

func TestParse_TitleFallbacks(t *testing.T) {
	r := Parse([]byte("# H1 Title\ntext"), "x.md")
	if r.Title != "H1 Title" {
		t.Errorf("title = %q, want H1 Title", r.Title)
	}
	r = Parse([]byte("no heading here"), "notes/My Note.md")
	if r.Title != "My Note" {
		t.Errorf("title = %q, want filename stem", r.Title)
	}
}

func TestParse_InvalidFrontmatterDegrades(t *testing.T) {
	input := []byte("---\n: bad: yaml: {{{\n---\nBody\n")
	r := Parse(input, "x.md")
	if len(r.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", r.Warnings)
	}
	if len(r.Frontmatter) != 0 {
		t.Errorf("expected empty frontmatter, got %v", r.Frontmatter)
	}
	if r.Body != "Body\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_Observations(t *testing.T) {
	input := []byte(`# Note
- [decision] Use SQLite for storage (keeps deploys simple)
- [task] Write the migration
- not an observation
`)
	r := Parse(input, "x.md")
	want := []ObservationDraft{
		{Category: "decision", Content: "Use SQLite for storage", Context: "keeps deploys simple"},
		{Category: "task", Content: "Write the migration"},
	}
	if !reflect.DeepEqual(r.Observations, want) {
		t.Errorf("observations = %+v, want %+v", r.Observations, want)
	}
}

func TestParse_Relations(t *testing.T) {
	input := []byte(`# Note
- requires [[Coffee Beans]]
- pairs_with [[Breakfast|morning meal]]
Inline link to [[Coffee Beans]] and [[Another]].
`)
	r := Parse(input, "x.md")
	want := []RelationDraft{
		{RelationType: "requires", Target: "Coffee Beans"},
		{RelationType: "pairs_with", Target: "Breakfast"},
		{RelationType: "links_to", Target: "Coffee Beans"},
		{RelationType: "links_to", Target: "Another"},
	}
	if !reflect.DeepEqual(r.Relations, want) {
		t.Errorf("relations = %+v, want %+v", r.Relations, want)
	}
}

func TestParse_DuplicateRelationsDeduplicated(t *testing.T) {
	input := []byte("See [[Target]] and [[Target]] and [[Target|alias]].")
	r := Parse(input, "x.md")
	if len(r.Relations) != 1 {
		t.Errorf("relations = %+v, want single links_to Target", r.Relations)
	}
}

func TestParse_PermalinkOverride(t *testing.T) {
	input := []byte("---\npermalink: Custom Slug\n---\nbody")
	r := Parse(input, "x.md")
	if r.Permalink != "custom-slug" {
		t.Errorf("permalink = %q, want custom-slug", r.Permalink)
	}
}

func TestParse_Deterministic(t *testing.T) {
	input := []byte("---\ntitle: T\n---\n- [note] fact one\n- rel [[A]]\n[[B]]\n")
	a := Parse(input, "x.md")
	b := Parse(input, "x.md")
	if !reflect.DeepEqual(a, b) {
		t.Error("identical input produced different results")
	}
}
