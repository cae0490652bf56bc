// Package graph provides durable relational storage for the knowledge
// graph: entities, observations, and relations, with referential and
// uniqueness invariants enforced by SQLite.
package graph

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL DEFAULT '',
	permalink    TEXT NOT NULL UNIQUE,
	file_path    TEXT NOT NULL UNIQUE,
	entity_type  TEXT NOT NULL DEFAULT 'note',
	content_type TEXT NOT NULL DEFAULT 'text/markdown',
	checksum     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	content   TEXT NOT NULL,
	category  TEXT NOT NULL DEFAULT 'note',
	context   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS relations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id       INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	to_id         INTEGER REFERENCES entities(id) ON DELETE SET NULL,
	to_name       TEXT NOT NULL,
	relation_type TEXT NOT NULL DEFAULT 'links_to',
	UNIQUE(from_id, to_name, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);
CREATE INDEX IF NOT EXISTS idx_relations_unresolved ON relations(id) WHERE to_id IS NULL;
`

// Store wraps a sql.DB with graph-specific operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("graph: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Conn exposes the underlying connection so the search index can live in
// the same database file.
func (s *Store) Conn() *sql.DB { return s.conn }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
