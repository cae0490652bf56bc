// Package pathutil provides path normalisation and permalink derivation
// shared by the graph store, search index, and sync engine.
//
// File paths are always relative to a project root and use forward slashes.
// Directory values carry a leading slash and no trailing slash; the root
// directory is "/".
package pathutil

import (
	"path"
	"strings"
)

// Normalize cleans a project-relative file path: forward slashes, no
// leading "./" or "/".
func Normalize(rel string) string {
	p := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Directory returns the parent directory of a file path in canonical form:
// "/" for root-level files, "/notes" for "notes/x.md".
func Directory(filePath string) string {
	dir := path.Dir(Normalize(filePath))
	if dir == "." || dir == "" {
		return "/"
	}
	return "/" + dir
}

// NormalizeDir brings a user-supplied directory path into canonical form.
// "" and "/" both mean the root.
func NormalizeDir(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return "/"
	}
	return "/" + path.Clean(p)
}

// Slug lowercases s and collapses every run of non-alphanumeric characters
// into a single hyphen.
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		} else {
			pendingDash = true
		}
	}
	return b.String()
}

// Stem returns the file name without directory or extension.
func Stem(filePath string) string {
	base := path.Base(Normalize(filePath))
	if ext := path.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}

// Permalink derives the canonical permalink slug for a file path:
// each path segment slugged, extension dropped. "notes/My File.md"
// becomes "notes/my-file".
func Permalink(filePath string) string {
	p := Normalize(filePath)
	if ext := path.Ext(p); ext != "" {
		p = p[:len(p)-len(ext)]
	}
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if slug := Slug(s); slug != "" {
			out = append(out, slug)
		}
	}
	return strings.Join(out, "/")
}

// IsDescendant reports whether dir is a strict descendant of base.
// Both must be canonical directory paths (see Directory).
func IsDescendant(dir, base string) bool {
	if dir == base {
		return false
	}
	if base == "/" {
		return strings.HasPrefix(dir, "/") && dir != "/"
	}
	return strings.HasPrefix(dir, base+"/")
}

// NextSegment returns the immediate child segment of base on the way to
// dir, or "" when dir is not a strict descendant of base. For base "/a"
// and dir "/a/b/c" it returns "b".
func NextSegment(dir, base string) string {
	if !IsDescendant(dir, base) {
		return ""
	}
	rest := strings.TrimPrefix(dir, base)
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i]
	}
	return rest
}
