package graph

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/mimir/internal/markdown"
	"github.com/starford/mimir/internal/models"
)

// ReplaceObservations deletes every observation owned by entityID and
// inserts the given drafts, returning the stored rows. Observations are
// regenerated wholesale from document content, never patched.
func (s *Store) ReplaceObservations(entityID int64, drafts []markdown.ObservationDraft) ([]models.Observation, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM observations WHERE entity_id = ?`, entityID); err != nil {
		return nil, fmt.Errorf("graph: delete observations: %w", err)
	}

	out := make([]models.Observation, 0, len(drafts))
	if len(drafts) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO observations (entity_id, content, category, context) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return nil, fmt.Errorf("graph: prepare observation insert: %w", err)
		}
		defer stmt.Close()
		for _, d := range drafts {
			res, err := stmt.Exec(entityID, d.Content, d.Category, d.Context)
			if err != nil {
				return nil, fmt.Errorf("graph: insert observation: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("graph: observation id: %w", err)
			}
			out = append(out, models.Observation{
				ID:       id,
				EntityID: entityID,
				Content:  d.Content,
				Category: d.Category,
				Context:  d.Context,
			})
		}
	}
	return out, tx.Commit()
}

// ReplaceRelations deletes every outgoing relation of entityID and inserts
// the given drafts. Targets are resolved opportunistically against lookup;
// unmatched targets are stored unresolved (to_id NULL) with their
// identifier preserved in to_name.
func (s *Store) ReplaceRelations(entityID int64, drafts []markdown.RelationDraft, lookup *Lookup) ([]models.Relation, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM relations WHERE from_id = ?`, entityID); err != nil {
		return nil, fmt.Errorf("graph: delete relations: %w", err)
	}

	out := make([]models.Relation, 0, len(drafts))
	if len(drafts) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO relations (from_id, to_id, to_name, relation_type) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return nil, fmt.Errorf("graph: prepare relation insert: %w", err)
		}
		defer stmt.Close()
		for _, d := range drafts {
			var toID *int64
			if lookup != nil {
				if id, ok := lookup.Resolve(d.Target); ok && id != entityID {
					toID = &id
				}
			}
			res, err := stmt.Exec(entityID, toID, d.Target, d.RelationType)
			if err != nil {
				return nil, fmt.Errorf("graph: insert relation: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("graph: relation id: %w", err)
			}
			out = append(out, models.Relation{
				ID:           id,
				FromID:       entityID,
				ToID:         toID,
				ToName:       d.Target,
				RelationType: d.RelationType,
			})
		}
	}
	return out, tx.Commit()
}

// ObservationsForEntities bulk-fetches observations for an id set in a
// single query, keyed by owning entity.
func (s *Store) ObservationsForEntities(ids []int64) (map[int64][]models.Observation, error) {
	out := make(map[int64][]models.Observation)
	if len(ids) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(
		`SELECT id, entity_id, content, category, context FROM observations WHERE entity_id IN (%s) ORDER BY entity_id, id`,
		placeholders(len(ids)))
	rows, err := s.conn.Query(query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("graph: observations for entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Content, &o.Category, &o.Context); err != nil {
			return nil, err
		}
		out[o.EntityID] = append(out[o.EntityID], o)
	}
	return out, rows.Err()
}

// RelationsForEntity returns every relation touching the entity, outgoing
// and incoming.
func (s *Store) RelationsForEntity(id int64) ([]models.Relation, error) {
	rows, err := s.conn.Query(
		`SELECT id, from_id, to_id, to_name, relation_type FROM relations WHERE from_id = ? OR to_id = ? ORDER BY id`,
		id, id)
	if err != nil {
		return nil, fmt.Errorf("graph: relations for entity: %w", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

// RelationsTargeting returns relations whose resolved target is the entity.
func (s *Store) RelationsTargeting(id int64) ([]models.Relation, error) {
	rows, err := s.conn.Query(
		`SELECT id, from_id, to_id, to_name, relation_type FROM relations WHERE to_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("graph: relations targeting: %w", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

// UnresolvedRelations returns up to limit unresolved relations with id
// greater than afterID, in id order. The resolution pass pages through the
// full set with repeated calls rather than holding one long transaction.
func (s *Store) UnresolvedRelations(limit int, afterID int64) ([]models.Relation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.conn.Query(
		`SELECT id, from_id, to_id, to_name, relation_type FROM relations WHERE to_id IS NULL AND id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: unresolved relations: %w", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

// ResolveRelation populates to_id for a previously unresolved relation.
func (s *Store) ResolveRelation(relationID, toID int64) error {
	if _, err := s.conn.Exec(`UPDATE relations SET to_id = ? WHERE id = ?`, toID, relationID); err != nil {
		return fmt.Errorf("graph: resolve relation: %w", err)
	}
	return nil
}

func scanRelations(rows *sql.Rows) ([]models.Relation, error) {
	var out []models.Relation
	for rows.Next() {
		var r models.Relation
		var toID sql.NullInt64
		if err := rows.Scan(&r.ID, &r.FromID, &toID, &r.ToName, &r.RelationType); err != nil {
			return nil, err
		}
		if toID.Valid {
			r.ToID = &toID.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
