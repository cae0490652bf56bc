// Package models defines the domain types for Mimir's knowledge graph.
package models

import "time"

// Entity is a graph node corresponding one-to-one to a synced markdown file.
type Entity struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Permalink   string    `json:"permalink"`
	FilePath    string    `json:"file_path"`
	EntityType  string    `json:"entity_type"`
	ContentType string    `json:"content_type"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Observation is a typed atomic fact owned by exactly one entity.
// Observations are fully regenerated from document content on every
// (re)parse; they have no identity outside their owning document.
type Observation struct {
	ID       int64  `json:"id"`
	EntityID int64  `json:"entity_id"`
	Content  string `json:"content"`
	Category string `json:"category"`
	Context  string `json:"context,omitempty"`
}

// Relation is a typed directed edge between entities. ToID is nil while the
// target entity does not exist yet (a forward reference); ToName preserves
// the identifier as written so the relation can resolve later.
type Relation struct {
	ID           int64  `json:"id"`
	FromID       int64  `json:"from_id"`
	ToID         *int64 `json:"to_id,omitempty"`
	ToName       string `json:"to_name"`
	RelationType string `json:"relation_type"`
}

// Resolved reports whether the relation points at a live entity.
func (r Relation) Resolved() bool { return r.ToID != nil }

// FileInfo is the lightweight listing produced by the storage provider.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
