// Package match reduces raw similarity hits into a deduplicated, group-aware
// match summary.
package match

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/patchdb/patchdb/internal/catalog"
	"github.com/patchdb/patchdb/internal/models"
)

// unknownGroupName is reported when a matched patch references a group whose
// row is missing.
const unknownGroupName = "Unknown Group"

// Lookup is the slice of the catalog the reconciler needs.
type Lookup interface {
	GetPatchByID(ctx context.Context, id int64) (*models.Patch, error)
	GetPatchGroupByID(ctx context.Context, id int64) (*models.PatchGroup, error)
}

// Reconciler joins raw similarity hits against the catalog. Grouped hits
// collapse to the best-scoring member per group; ungrouped hits pass through
// 1:1. Hits referencing patches no longer in the catalog are skipped with a
// warning; the index may briefly reference a patch whose delete did not reach
// the vector store.
type Reconciler struct {
	lookup Lookup
	logger *zap.Logger
}

// NewReconciler creates a reconciler. logger may be nil.
func NewReconciler(lookup Lookup, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{lookup: lookup, logger: logger}
}

// Reconcile converts raw hits into grouped and ungrouped match lists. The
// input is normally sorted by descending score, but the best-per-group
// comparison does not rely on that: a later, strictly greater score replaces
// the group's current best.
func (r *Reconciler) Reconcile(ctx context.Context, hits []models.RawMatch) ([]models.ReconciledMatch, []models.ReconciledMatch, error) {
	bestPerGroup := make(map[int64]models.ReconciledMatch)
	groupOrder := make([]int64, 0, len(hits))
	ungrouped := make([]models.ReconciledMatch, 0, len(hits))

	for _, hit := range hits {
		patch, err := r.lookup.GetPatchByID(ctx, hit.PatchID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				r.logger.Warn("index references missing patch, skipping",
					zap.Int64("patch_id", hit.PatchID))
				continue
			}
			return nil, nil, err
		}

		if patch.GroupID == nil {
			ungrouped = append(ungrouped, models.ReconciledMatch{
				ID:    patch.ID,
				Path:  patch.Path,
				Score: hit.Score,
			})
			continue
		}

		groupID := *patch.GroupID
		if current, ok := bestPerGroup[groupID]; ok && current.Score >= hit.Score {
			continue
		}
		name := unknownGroupName
		group, err := r.lookup.GetPatchGroupByID(ctx, groupID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, err
		}
		if group != nil {
			name = group.Name
		}
		if _, ok := bestPerGroup[groupID]; !ok {
			groupOrder = append(groupOrder, groupID)
		}
		bestPerGroup[groupID] = models.ReconciledMatch{
			ID:        patch.ID,
			GroupID:   &groupID,
			GroupName: &name,
			Path:      patch.Path,
			Score:     hit.Score,
		}
	}

	matches := make([]models.ReconciledMatch, 0, len(bestPerGroup))
	for _, groupID := range groupOrder {
		matches = append(matches, bestPerGroup[groupID])
	}
	return matches, ungrouped, nil
}
