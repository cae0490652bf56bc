//go:build sqlite_fts5

package search

import (
	"database/sql"
	"fmt"
)

// The FTS5 projection. file_path stays unindexed; directory is tokenized
// with '/' as a token character and prefix indexes so path fragments are
// searchable.
func initSchema(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS search_index USING fts5(
			id UNINDEXED,
			title,
			content_stems,
			content_snippet,
			permalink,
			file_path UNINDEXED,
			directory,
			type UNINDEXED,
			from_id UNINDEXED,
			to_id UNINDEXED,
			relation_type UNINDEXED,
			entity_id UNINDEXED,
			category UNINDEXED,
			metadata UNINDEXED,
			created_at UNINDEXED,
			updated_at UNINDEXED,
			tokenize='unicode61 tokenchars 0x2F',
			prefix='1,2,3,4'
		);
	`)
	return err
}

// Search runs an FTS5 match ranked by bm25, with a generated snippet.
func (db *DB) Search(query string, f Filters, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	where := ` WHERE search_index MATCH ?`
	args := []any{query}

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

	rows, err := db.conn.Query(`
		SELECT id, title, content_stems, content_snippet, permalink, file_path,
		       directory, type, from_id, to_id, relation_type, entity_id,
		       category, metadata, created_at, updated_at,
		       bm25(search_index),
		       snippet(search_index, 2, '<b>', '</b>', '...', 24)
		FROM search_index`+where+`
		ORDER BY rank
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var dir sql.NullString
		var created, updated string
		if err := rows.Scan(&m.ID, &m.Title, &m.ContentStems, &m.ContentSnippet,
			&m.Permalink, &m.FilePath, &dir, &m.Type, &m.FromID, &m.ToID,
			&m.RelationType, &m.EntityID, &m.Category, &m.Metadata,
			&created, &updated, &m.Score, &m.Snippet); err != nil {
			return nil, err
		}
		if dir.Valid {
			m.Directory = &dir.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
