package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/pathutil"
)

// maxPermalinkSuffix bounds the collision suffix search before the upsert
// surfaces apperr.ErrPermalinkExhausted.
const maxPermalinkSuffix = 100

const entityColumns = `id, title, permalink, file_path, entity_type, content_type, checksum, created_at, updated_at`

// EntityUpsert is the input for UpsertEntity. Permalink, when non-empty, is
// a frontmatter override; otherwise the permalink derives from FilePath.
type EntityUpsert struct {
	Title       string
	Permalink   string
	FilePath    string
	EntityType  string
	ContentType string
	Checksum    string
}

// UpsertEntity inserts or updates the entity identified by file_path and
// returns the stored row together with a created flag. Permalinks are kept
// globally unique by suffixing on collision.
func (s *Store) UpsertEntity(in EntityUpsert) (models.Entity, bool, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return models.Entity{}, false, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	desired := in.Permalink
	if desired == "" {
		desired = pathutil.Permalink(in.FilePath)
	}
	now := time.Now().UTC()

	existing, err := scanEntity(tx.QueryRow(
		`SELECT `+entityColumns+` FROM entities WHERE file_path = ?`, in.FilePath))
	switch {
	case err == nil:
		permalink := existing.Permalink
		if !permalinkMatches(permalink, desired) {
			permalink, err = uniquePermalink(tx, desired, in.FilePath)
			if err != nil {
				return models.Entity{}, false, err
			}
		}
		_, err = tx.Exec(`
			UPDATE entities SET title = ?, permalink = ?, entity_type = ?,
				content_type = ?, checksum = ?, updated_at = ?
			WHERE id = ?`,
			in.Title, permalink, in.EntityType, in.ContentType, in.Checksum, now, existing.ID)
		if err != nil {
			return models.Entity{}, false, fmt.Errorf("graph: update entity: %w", err)
		}
		existing.Title = in.Title
		existing.Permalink = permalink
		existing.EntityType = in.EntityType
		existing.ContentType = in.ContentType
		existing.Checksum = in.Checksum
		existing.UpdatedAt = now
		return existing, false, tx.Commit()

	case errors.Is(err, sql.ErrNoRows):
		permalink, err := uniquePermalink(tx, desired, in.FilePath)
		if err != nil {
			return models.Entity{}, false, err
		}
		res, err := tx.Exec(`
			INSERT INTO entities (title, permalink, file_path, entity_type, content_type, checksum, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			in.Title, permalink, in.FilePath, in.EntityType, in.ContentType, in.Checksum, now, now)
		if err != nil {
			return models.Entity{}, false, fmt.Errorf("graph: insert entity: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return models.Entity{}, false, fmt.Errorf("graph: last insert id: %w", err)
		}
		e := models.Entity{
			ID:          id,
			Title:       in.Title,
			Permalink:   permalink,
			FilePath:    in.FilePath,
			EntityType:  in.EntityType,
			ContentType: in.ContentType,
			Checksum:    in.Checksum,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return e, true, tx.Commit()

	default:
		return models.Entity{}, false, fmt.Errorf("graph: lookup entity: %w", err)
	}
}

// permalinkMatches reports whether stored is desired itself or one of its
// collision-suffixed forms. A stored suffixed permalink is kept stable
// across re-syncs rather than churned back toward the contested base.
func permalinkMatches(stored, desired string) bool {
	if stored == desired {
		return true
	}
	if len(stored) > len(desired)+1 && stored[:len(desired)+1] == desired+"-" {
		for _, r := range stored[len(desired)+1:] {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// uniquePermalink returns desired, or the first "desired-N" not taken by a
// different file.
func uniquePermalink(tx *sql.Tx, desired, filePath string) (string, error) {
	candidate := desired
	for i := 1; i <= maxPermalinkSuffix; i++ {
		var owner string
		err := tx.QueryRow(`SELECT file_path FROM entities WHERE permalink = ?`, candidate).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner == filePath) {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("graph: permalink lookup: %w", err)
		}
		candidate = fmt.Sprintf("%s-%d", desired, i+1)
	}
	return "", fmt.Errorf("graph: permalink %q: %w", desired, apperr.ErrPermalinkExhausted)
}

// MoveEntity rewrites the file_path of the entity at oldPath in place,
// keeping its id. When updatePermalink is set, the permalink is re-derived
// from the new path (uniqued as usual).
func (s *Store) MoveEntity(oldPath, newPath string, updatePermalink bool) (models.Entity, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return models.Entity{}, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	e, err := scanEntity(tx.QueryRow(
		`SELECT `+entityColumns+` FROM entities WHERE file_path = ?`, oldPath))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("graph: lookup entity: %w", err)
	}

	permalink := e.Permalink
	if updatePermalink {
		permalink, err = uniquePermalink(tx, pathutil.Permalink(newPath), oldPath)
		if err != nil {
			return models.Entity{}, err
		}
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE entities SET file_path = ?, permalink = ?, updated_at = ? WHERE id = ?`,
		newPath, permalink, now, e.ID); err != nil {
		return models.Entity{}, fmt.Errorf("graph: move entity: %w", err)
	}
	e.FilePath = newPath
	e.Permalink = permalink
	e.UpdatedAt = now
	return e, tx.Commit()
}

// DeleteEntityByPath removes the entity at path and returns the deleted
// row. Observations and outgoing relations cascade; relations that targeted
// the entity revert to unresolved (to_id NULL) while keeping their to_name.
func (s *Store) DeleteEntityByPath(path string) (models.Entity, error) {
	e, err := s.EntityByPath(path)
	if err != nil {
		return models.Entity{}, err
	}
	if _, err := s.conn.Exec(`DELETE FROM entities WHERE id = ?`, e.ID); err != nil {
		return models.Entity{}, fmt.Errorf("graph: delete entity: %w", err)
	}
	return e, nil
}

// EntityByPath looks up an entity by its file path.
func (s *Store) EntityByPath(path string) (models.Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(
		`SELECT `+entityColumns+` FROM entities WHERE file_path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("graph: entity by path: %w", err)
	}
	return e, nil
}

// EntityByID looks up an entity by its id.
func (s *Store) EntityByID(id int64) (models.Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("graph: entity by id: %w", err)
	}
	return e, nil
}

// EntityByPermalink looks up an entity by its permalink.
func (s *Store) EntityByPermalink(permalink string) (models.Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(
		`SELECT `+entityColumns+` FROM entities WHERE permalink = ?`, permalink))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("graph: entity by permalink: %w", err)
	}
	return e, nil
}

// AllChecksums returns file_path → checksum for every stored entity.
func (s *Store) AllChecksums() (map[string]string, error) {
	rows, err := s.conn.Query(`SELECT file_path, checksum FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("graph: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ClearChecksum blanks the stored checksum so the next reconciliation pass
// re-applies the file regardless of its on-disk content.
func (s *Store) ClearChecksum(id int64) error {
	if _, err := s.conn.Exec(`UPDATE entities SET checksum = '' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("graph: clear checksum: %w", err)
	}
	return nil
}

// Lookup is a snapshot of entity identifiers used by the relation
// resolution pass.
type Lookup struct {
	ByPermalink map[string]int64
	ByTitle     map[string]int64 // lowercased titles
	ByPath      map[string]int64
}

// IdentifierLookup loads permalink, title, and path maps in one scan.
func (s *Store) IdentifierLookup() (*Lookup, error) {
	rows, err := s.conn.Query(`SELECT id, permalink, lower(title), file_path FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("graph: identifier lookup: %w", err)
	}
	defer rows.Close()

	l := &Lookup{
		ByPermalink: make(map[string]int64),
		ByTitle:     make(map[string]int64),
		ByPath:      make(map[string]int64),
	}
	for rows.Next() {
		var id int64
		var permalink, title, path string
		if err := rows.Scan(&id, &permalink, &title, &path); err != nil {
			return nil, err
		}
		l.ByPermalink[permalink] = id
		if title != "" {
			l.ByTitle[title] = id
		}
		l.ByPath[path] = id
	}
	return l, rows.Err()
}

// Add registers a newly created or renamed entity in the snapshot so later
// files in the same pass can resolve against it.
func (l *Lookup) Add(e models.Entity) {
	l.ByPermalink[e.Permalink] = e.ID
	if e.Title != "" {
		l.ByTitle[strings.ToLower(e.Title)] = e.ID
	}
	l.ByPath[e.FilePath] = e.ID
}

// Resolve maps a relation target identifier to an entity id, trying the
// permalink as written, its slugged form, the title, and the file path.
func (l *Lookup) Resolve(target string) (int64, bool) {
	if id, ok := l.ByPermalink[target]; ok {
		return id, true
	}
	if id, ok := l.ByPermalink[pathutil.Permalink(target)]; ok {
		return id, true
	}
	if id, ok := l.ByTitle[strings.ToLower(target)]; ok {
		return id, true
	}
	if id, ok := l.ByPath[pathutil.Normalize(target)]; ok {
		return id, true
	}
	return 0, false
}

func scanEntity(row *sql.Row) (models.Entity, error) {
	var e models.Entity
	err := row.Scan(&e.ID, &e.Title, &e.Permalink, &e.FilePath, &e.EntityType,
		&e.ContentType, &e.Checksum, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}
