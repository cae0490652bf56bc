//go:build !sqlite_fts5

package search

import (
	"database/sql"
	"fmt"
)

// Fallback projection when FTS5 is not compiled in: same columns as the
// virtual table, searched with LIKE.
func initSchema(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS search_index (
			id              INTEGER NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			content_stems   TEXT NOT NULL DEFAULT '',
			content_snippet TEXT NOT NULL DEFAULT '',
			permalink       TEXT NOT NULL DEFAULT '',
			file_path       TEXT NOT NULL DEFAULT '',
			directory       TEXT,
			type            TEXT NOT NULL,
			from_id         INTEGER NOT NULL DEFAULT 0,
			to_id           INTEGER NOT NULL DEFAULT 0,
			relation_type   TEXT NOT NULL DEFAULT '',
			entity_id       INTEGER NOT NULL DEFAULT 0,
			category        TEXT NOT NULL DEFAULT '',
			metadata        TEXT NOT NULL DEFAULT '{}',
			created_at      TEXT NOT NULL DEFAULT '',
			updated_at      TEXT NOT NULL DEFAULT '',
			UNIQUE(id, type)
		);
		CREATE INDEX IF NOT EXISTS idx_search_directory ON search_index(directory);
		CREATE INDEX IF NOT EXISTS idx_search_entity ON search_index(entity_id);
		CREATE INDEX IF NOT EXISTS idx_search_from ON search_index(from_id);
	`)
	return err
}

// Search performs a LIKE-based scan over title and content stems.
func (db *DB) Search(query string, f Filters, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	where := ` WHERE (title LIKE ? OR content_stems LIKE ? OR permalink LIKE ?)`
	args := []any{like, like, like}

	typeSQL, typeArgs := typeFilterSQL(f.Types)
	where += typeSQL
	args = append(args, typeArgs...)

	if f.Category != "" {
		where += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Directory != "" {
		where += ` AND (directory = ? OR directory LIKE ?)`
		args = append(args, f.Directory, f.Directory+"/%")
	}
	args = append(args, limit)

	rows, err := db.conn.Query(selectRowSQL+where+` ORDER BY title LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	found, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Match, len(found))
	for i, r := range found {
		out[i] = Match{Row: r, Snippet: truncate(r.ContentSnippet, 200)}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
