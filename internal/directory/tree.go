// Package directory exposes the vault's folder structure as synthesized
// from indexed entity rows. Folders have no rows of their own; they exist
// because an entity's materialized directory column implies them.
package directory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/mimir/internal/pathutil"
	"github.com/starford/mimir/internal/search"
)

// Node types.
const (
	NodeDirectory = "directory"
	NodeFile      = "file"
)

// Node is one directory listing entry. File nodes carry the entity's
// identity; directory nodes are synthesized and carry none. Children is
// populated only by Tree.
type Node struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	ParentPath  string  `json:"parent_path"`
	Type        string  `json:"type"`
	Title       string  `json:"title,omitempty"`
	Permalink   string  `json:"permalink,omitempty"`
	EntityID    int64   `json:"entity_id,omitempty"`
	HasChildren bool    `json:"has_children"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
	Children    []*Node `json:"children,omitempty"`
}

// Service reads directory structure out of the search index.
type Service struct {
	index search.Index
}

// NewService creates a directory service over idx.
func NewService(idx search.Index) *Service {
	return &Service{index: idx}
}

// List returns the immediate children of path as a flat, sorted slice:
// directories first, then files, each group case-insensitively by name.
// Unknown paths return an empty slice, not an error. File nodes are
// omitted when includeFiles is false.
func (s *Service) List(path string, includeFiles bool) ([]Node, error) {
	base := pathutil.NormalizeDir(path)
	files, subdirs, err := s.index.ListDirectory(path)
	if err != nil {
		return nil, fmt.Errorf("directory: list %q: %w", path, err)
	}

	nodes := make([]Node, 0, len(subdirs)+len(files))
	for _, name := range subdirs {
		nodes = append(nodes, Node{
			Name:        name,
			Path:        childPath(base, name),
			ParentPath:  base,
			Type:        NodeDirectory,
			HasChildren: true,
		})
	}
	if includeFiles {
		for _, row := range files {
			nodes = append(nodes, fileNode(base, row))
		}
	}
	sortNodes(nodes)
	return nodes, nil
}

// Tree returns the subtree rooted at path down to depth levels. depth 1 is
// the immediate children. Directory nodes deeper than the cutoff keep
// HasChildren set so a client can expand lazily.
func (s *Service) Tree(path string, depth int, includeFiles bool) ([]*Node, error) {
	if depth <= 0 {
		depth = 1
	}
	return s.walk(path, depth, includeFiles)
}

func (s *Service) walk(path string, depth int, includeFiles bool) ([]*Node, error) {
	nodes, err := s.List(path, includeFiles)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(nodes))
	for i := range nodes {
		n := nodes[i]
		if n.Type == NodeDirectory && depth > 1 {
			children, err := s.walk(strings.TrimPrefix(n.Path, "/"), depth-1, includeFiles)
			if err != nil {
				return nil, err
			}
			n.Children = children
		}
		out = append(out, &n)
	}
	return out, nil
}

// fileNode projects an entity index row into a listing entry.
func fileNode(base string, row search.Row) Node {
	name := row.FilePath
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return Node{
		Name:       name,
		Path:       childPath(base, name),
		ParentPath: base,
		Type:       NodeFile,
		Title:      row.Title,
		Permalink:  row.Permalink,
		EntityID:   row.ID,
		UpdatedAt:  row.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func childPath(base, name string) string {
	if base == "/" {
		return "/" + name
	}
	return base + "/" + name
}

// sortNodes orders directories before files, then case-insensitively by
// name within each group.
func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == NodeDirectory
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
}
