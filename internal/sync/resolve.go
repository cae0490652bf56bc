package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/search"
)

// resolvePass scans every presently-unresolved relation in the graph, not
// just ones touched by the current pass, and populates to_id where the
// target identifier now matches a live entity. It runs after every pass
// because a single new file can resolve dangling relations across the
// whole graph. Idempotent; relations that stay unresolved are a valid
// pending state.
//
// The scan pages in id-ordered batches so no single long transaction is
// held; cancellation is honored between batches.
func (e *Engine) resolvePass(ctx context.Context) (int, error) {
	lookup, err := e.store.IdentifierLookup()
	if err != nil {
		return 0, fmt.Errorf("sync: %w: %v", apperr.ErrStoreUnavailable, err)
	}

	resolved := 0
	afterID := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		batch, err := e.store.UnresolvedRelations(e.opts.ResolveBatchSize, afterID)
		if err != nil {
			return resolved, fmt.Errorf("sync: %w: %v", apperr.ErrStoreUnavailable, err)
		}
		if len(batch) == 0 {
			return resolved, nil
		}
		afterID = batch[len(batch)-1].ID

		for _, rel := range batch {
			toID, ok := lookup.Resolve(rel.ToName)
			if !ok || toID == rel.FromID {
				continue
			}
			if err := e.store.ResolveRelation(rel.ID, toID); err != nil {
				e.logger.Warn("sync: resolve failed", slog.Int64("relation", rel.ID), slog.String("error", err.Error()))
				continue
			}
			from, err := e.store.EntityByID(rel.FromID)
			if err != nil {
				continue
			}
			rel.ToID = &toID
			if err := e.index.Upsert(search.RelationRow(rel, from)); err != nil {
				e.logger.Warn("sync: resolve reindex failed", slog.Int64("relation", rel.ID), slog.String("error", err.Error()))
			}
			resolved++
		}
	}
}
