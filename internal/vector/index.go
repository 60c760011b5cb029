// Package vector provides the per-namespace patch vector index and its
// on-disk persistence.
package vector

import (
	"errors"

	"github.com/patchdb/patchdb/internal/models"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index's fixed dimension. This indicates embedding model or config drift,
// not a runtime condition to recover from.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Index defines vector storage and thresholded similarity search for one
// namespace. The flat exact implementation is the default; the interface is
// the swap point for an approximate backend.
type Index interface {
	// Add inserts or replaces the entry for id. An empty index adopts the
	// vector's length as its dimension.
	Add(id int64, vec []float32) error
	// Remove deletes the entry for id; removing an absent id is a no-op.
	Remove(id int64)
	// Search returns up to k entries with similarity >= minScore, ordered by
	// descending score, ties broken by ascending id. The just-inserted id is
	// NOT excluded; that is the caller's responsibility.
	Search(query []float32, k int, minScore float64) []models.RawMatch
	// Size returns the number of stored vectors.
	Size() int
	// Dimension returns the fixed vector dimension, or 0 before the first Add.
	Dimension() int
}
