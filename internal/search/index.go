// Package search maintains the denormalized search/directory index: a
// query-optimized projection of graph rows with a materialized directory
// column, kept eventually consistent with the graph store by the sync
// engine, which is its only writer.
package search

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/pathutil"
)

// Row type discriminators.
const (
	TypeEntity      = "entity"
	TypeObservation = "observation"
	TypeRelation    = "relation"
)

// Row is one denormalized index row. ID is the graph row id within its
// type's keyspace. Directory is set only for entity rows.
type Row struct {
	ID             int64
	Type           string
	Title          string
	ContentStems   string
	ContentSnippet string
	Permalink      string
	FilePath       string
	Directory      *string
	FromID         int64
	ToID           int64
	RelationType   string
	EntityID       int64
	Category       string
	Metadata       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Match is one ranked search hit.
type Match struct {
	Row
	Score   float64
	Snippet string
}

// Filters narrows a search.
type Filters struct {
	Types     []string // row types to include; empty means all
	Category  string   // observation category
	Directory string   // entity directory prefix
}

// Index is the interface the read side and the sync engine depend on.
type Index interface {
	Upsert(r Row) error
	Delete(id int64, rowType string) error
	DeleteForEntity(entityID int64) error
	Search(query string, f Filters, limit int) ([]Match, error)
	ListDirectory(path string) ([]Row, []string, error)
}

// DB implements Index on a SQLite connection shared with the graph store.
type DB struct {
	conn *sql.DB
}

var _ Index = (*DB)(nil)

// New attaches the search index schema to an open connection.
func New(conn *sql.DB) (*DB, error) {
	if err := initSchema(conn); err != nil {
		return nil, fmt.Errorf("search: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// EntityRow builds the index row for an entity. The directory column is
// computed here, at write time, so directory listing is an exact match
// instead of a path-parsing scan.
func EntityRow(e models.Entity, stems, snippet string) Row {
	dir := pathutil.Directory(e.FilePath)
	return Row{
		ID:             e.ID,
		Type:           TypeEntity,
		Title:          e.Title,
		ContentStems:   stems,
		ContentSnippet: snippet,
		Permalink:      e.Permalink,
		FilePath:       e.FilePath,
		Directory:      &dir,
		Metadata:       "{}",
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// ObservationRow builds the index row for an observation owned by e.
func ObservationRow(o models.Observation, e models.Entity) Row {
	return Row{
		ID:           o.ID,
		Type:         TypeObservation,
		Title:        e.Title,
		ContentStems: o.Content,
		Permalink:    e.Permalink,
		FilePath:     e.FilePath,
		EntityID:     o.EntityID,
		Category:     o.Category,
		Metadata:     "{}",
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// RelationRow builds the index row for a relation owned by from.
func RelationRow(r models.Relation, from models.Entity) Row {
	var toID int64
	if r.ToID != nil {
		toID = *r.ToID
	}
	return Row{
		ID:           r.ID,
		Type:         TypeRelation,
		Title:        from.Title,
		ContentStems: r.RelationType + " " + r.ToName,
		Permalink:    from.Permalink,
		FilePath:     from.FilePath,
		FromID:       r.FromID,
		ToID:         toID,
		RelationType: r.RelationType,
		Metadata:     "{}",
		CreatedAt:    from.CreatedAt,
		UpdatedAt:    from.UpdatedAt,
	}
}

// Upsert replaces the row for (id, type). The FTS5 table has no conflict
// clause, so upsert is delete-then-insert in one transaction.
func (db *DB) Upsert(r Row) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM search_index WHERE id = ? AND type = ?`, r.ID, r.Type); err != nil {
		return fmt.Errorf("search: clear row: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO search_index (id, title, content_stems, content_snippet, permalink,
			file_path, directory, type, from_id, to_id, relation_type, entity_id,
			category, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.ContentStems, r.ContentSnippet, r.Permalink,
		r.FilePath, r.Directory, r.Type, r.FromID, r.ToID, r.RelationType,
		r.EntityID, r.Category, r.Metadata,
		r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("search: insert row: %w", err)
	}
	return tx.Commit()
}

// Delete removes the row for (id, type).
func (db *DB) Delete(id int64, rowType string) error {
	if _, err := db.conn.Exec(`DELETE FROM search_index WHERE id = ? AND type = ?`, id, rowType); err != nil {
		return fmt.Errorf("search: delete row: %w", err)
	}
	return nil
}

// DeleteForEntity removes the entity row and every observation/relation row
// it owns, in one statement so a cascade never leaves orphans behind.
func (db *DB) DeleteForEntity(entityID int64) error {
	_, err := db.conn.Exec(`
		DELETE FROM search_index
		WHERE (type = 'entity' AND id = ?)
		   OR (type = 'observation' AND entity_id = ?)
		   OR (type = 'relation' AND from_id = ?)`,
		entityID, entityID, entityID)
	if err != nil {
		return fmt.Errorf("search: delete for entity: %w", err)
	}
	return nil
}

// ListDirectory returns the entity rows whose directory is exactly path,
// plus the deduplicated next-segment names of deeper descendants
// (synthesized subdirectories). Unknown paths yield empty results, never
// an error.
func (db *DB) ListDirectory(path string) ([]Row, []string, error) {
	base := pathutil.NormalizeDir(path)

	rows, err := db.conn.Query(selectRowSQL+` WHERE type = 'entity' AND directory = ?`, base)
	if err != nil {
		return nil, nil, fmt.Errorf("search: list directory: %w", err)
	}
	files, err := scanRows(rows)
	if err != nil {
		return nil, nil, err
	}

	pattern := base + "/%"
	if base == "/" {
		pattern = "/%"
	}
	dirRows, err := db.conn.Query(
		`SELECT DISTINCT directory FROM search_index WHERE type = 'entity' AND directory LIKE ? AND directory != ?`,
		pattern, base)
	if err != nil {
		return nil, nil, fmt.Errorf("search: list subdirectories: %w", err)
	}
	defer dirRows.Close()

	seen := make(map[string]struct{})
	var subdirs []string
	for dirRows.Next() {
		var dir string
		if err := dirRows.Scan(&dir); err != nil {
			return nil, nil, err
		}
		seg := pathutil.NextSegment(dir, base)
		if seg == "" {
			continue
		}
		if _, dup := seen[seg]; dup {
			continue
		}
		seen[seg] = struct{}{}
		subdirs = append(subdirs, seg)
	}
	if err := dirRows.Err(); err != nil {
		return nil, nil, err
	}
	sort.Slice(subdirs, func(i, j int) bool {
		return strings.ToLower(subdirs[i]) < strings.ToLower(subdirs[j])
	})
	return files, subdirs, nil
}

const selectRowSQL = `
	SELECT id, title, content_stems, content_snippet, permalink, file_path,
	       directory, type, from_id, to_id, relation_type, entity_id,
	       category, metadata, created_at, updated_at
	FROM search_index`

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRow(rows *sql.Rows) (Row, error) {
	var r Row
	var dir sql.NullString
	var created, updated string
	err := rows.Scan(&r.ID, &r.Title, &r.ContentStems, &r.ContentSnippet,
		&r.Permalink, &r.FilePath, &dir, &r.Type, &r.FromID, &r.ToID,
		&r.RelationType, &r.EntityID, &r.Category, &r.Metadata, &created, &updated)
	if err != nil {
		return Row{}, err
	}
	if dir.Valid {
		r.Directory = &dir.String
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return r, nil
}

// typeFilterSQL renders an AND clause for the requested row types.
func typeFilterSQL(types []string) (string, []any) {
	if len(types) == 0 {
		return "", nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = t
	}
	return " AND type IN (" + ph + ")", args
}
