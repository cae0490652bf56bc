// Package markdown extracts structured facts from note documents: a title,
// frontmatter metadata, observation drafts, and relation drafts.
//
// Parsing is deterministic (identical input bytes always yield an identical
// Result) so checksum-gated re-parsing is safe, and it never fails a sync:
// malformed frontmatter degrades to an empty metadata map with a warning.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/mimir/internal/pathutil"
)

// DefaultRelationType is assigned to bare inline wikilinks.
const DefaultRelationType = "links_to"

var (
	observationRe = regexp.MustCompile(`^-\s+\[([A-Za-z][\w-]*)\]\s+(.+)$`)
	relationRe    = regexp.MustCompile(`^-\s+([a-z][\w-]*)\s+\[\[(.+?)\]\]\s*$`)
	wikilinkRe    = regexp.MustCompile(`\[\[(.*?)\]\]`)
	contextRe     = regexp.MustCompile(`\s+\(([^()]+)\)$`)
)

// ObservationDraft is a typed fact extracted from a document, not yet owned
// by an entity row.
type ObservationDraft struct {
	Category string
	Content  string
	Context  string
}

// RelationDraft is a typed link as written in the document. Target is the
// identifier as written; resolution against real entities is the sync
// engine's job.
type RelationDraft struct {
	RelationType string
	Target       string
}

// Result holds the output of parsing one document.
type Result struct {
	Title        string
	Frontmatter  map[string]any
	EntityType   string
	ContentType  string
	Permalink    string // frontmatter override, empty when absent
	Body         string
	Observations []ObservationDraft
	Relations    []RelationDraft
	Warnings     []string
}

// Parse extracts structured facts from raw document bytes. filePath supplies
// the fallback title when neither frontmatter nor a heading provides one.
func Parse(data []byte, filePath string) *Result {
	res := &Result{
		ContentType: "text/markdown",
		EntityType:  "note",
		Frontmatter: map[string]any{},
	}

	fm, body, warn := splitFrontmatter(data)
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	if fm != nil {
		res.Frontmatter = fm
	}
	res.Body = body

	if t, ok := stringField(fm, "type"); ok {
		res.EntityType = t
	}
	// Slash-separated segments survive slugging so path-shaped overrides
	// like "notes/coffee" stay path-shaped.
	if p, ok := stringField(fm, "permalink"); ok {
		res.Permalink = pathutil.Permalink(p)
	}

	res.Title = deriveTitle(fm, body, filePath)
	res.Observations, res.Relations = extractFacts(body)
	return res
}

// splitFrontmatter separates YAML frontmatter (between leading ---
// delimiters) from the body. Invalid YAML degrades to body-only with a
// warning rather than an error.
func splitFrontmatter(data []byte) (map[string]any, string, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), ""
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), ""
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, body, fmt.Sprintf("invalid frontmatter: %v", err)
	}
	return fm, body, ""
}

// extractFacts scans the body line by line. Lines of the form
// "- [category] content (context)" become observation drafts; lines of the
// form "- relation_type [[Target]]" become relation drafts; any remaining
// inline [[wikilinks]] become links_to relation drafts. Relation drafts are
// deduplicated by (type, target).
func extractFacts(body string) ([]ObservationDraft, []RelationDraft) {
	var obs []ObservationDraft
	var rels []RelationDraft
	seen := make(map[string]struct{})

	addRel := func(relType, target string) {
		target = normalizeTarget(target)
		if target == "" {
			return
		}
		key := relType + "\x00" + target
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		rels = append(rels, RelationDraft{RelationType: relType, Target: target})
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if m := relationRe.FindStringSubmatch(trimmed); m != nil {
			addRel(m[1], m[2])
			continue
		}

		if m := observationRe.FindStringSubmatch(trimmed); m != nil {
			content := strings.TrimSpace(m[2])
			var obsContext string
			if cm := contextRe.FindStringSubmatch(content); cm != nil {
				obsContext = cm[1]
				content = strings.TrimSpace(content[:len(content)-len(cm[0])])
			}
			if content != "" {
				obs = append(obs, ObservationDraft{
					Category: strings.ToLower(m[1]),
					Content:  content,
					Context:  obsContext,
				})
			}
			continue
		}

		for _, lm := range wikilinkRe.FindAllStringSubmatch(trimmed, -1) {
			addRel(DefaultRelationType, lm[1])
		}
	}
	return obs, rels
}

// normalizeTarget strips the alias part of [[Target|Alias]] links.
func normalizeTarget(raw string) string {
	if i := strings.Index(raw, "|"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// deriveTitle returns the frontmatter "title" if present, otherwise the
// first H1 heading, otherwise the file name stem.
func deriveTitle(fm map[string]any, body, filePath string) string {
	if t, ok := stringField(fm, "title"); ok {
		return t
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return pathutil.Stem(filePath)
}

func stringField(fm map[string]any, key string) (string, bool) {
	if fm == nil {
		return "", false
	}
	if v, ok := fm[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
