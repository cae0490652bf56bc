package api

import (
	"github.com/starford/mimir/internal/directory"
	"github.com/starford/mimir/internal/models"
)

// ProjectsResponse lists the configured project names.
type ProjectsResponse struct {
	Projects []string `json:"projects"`
}

// SearchHit is a single ranked search result.
type SearchHit struct {
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Permalink    string  `json:"permalink"`
	FilePath     string  `json:"file_path"`
	Directory    string  `json:"directory,omitempty"`
	Category     string  `json:"category,omitempty"`
	RelationType string  `json:"relation_type,omitempty"`
	Score        float64 `json:"score"`
	Snippet      string  `json:"snippet,omitempty"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// EntityDetail is an entity with its facts and edges.
type EntityDetail struct {
	Entity       models.Entity        `json:"entity"`
	Observations []models.Observation `json:"observations"`
	Relations    []models.Relation    `json:"relations"`
}

// DirectoryResponse wraps a directory listing or tree.
type DirectoryResponse struct {
	Path  string            `json:"path"`
	Nodes []*directory.Node `json:"nodes"`
}

// RelationsResponse wraps an entity's relations.
type RelationsResponse struct {
	Relations []models.Relation `json:"relations"`
}

// ObservationsResponse maps entity id (as a string key) to its observations.
type ObservationsResponse struct {
	Observations map[string][]models.Observation `json:"observations"`
}
