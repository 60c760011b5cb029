package vector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/patchdb/patchdb/internal/models"
)

// Flat is a brute-force exact cosine index mapping patch IDs to unit vectors.
// The dimension is fixed by the first vector added. Suitable for per-user
// collections (hundreds to low thousands of vectors).
type Flat struct {
	dimension int
	entries   map[int64][]float32
	mu        sync.RWMutex
}

// NewFlat creates an empty flat index. The dimension is adopted from the
// first vector added.
func NewFlat() *Flat {
	return &Flat{entries: make(map[int64][]float32)}
}

// newFlatWithDimension creates a flat index with a fixed dimension, used when
// loading a persisted blob.
func newFlatWithDimension(dimension int) *Flat {
	return &Flat{dimension: dimension, entries: make(map[int64][]float32)}
}

// Add inserts or replaces the entry for id. Returns ErrDimensionMismatch if
// vec's length differs from the index dimension.
func (f *Flat) Add(id int64, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for id %d: %w", id, ErrDimensionMismatch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dimension == 0 {
		f.dimension = len(vec)
	}
	if len(vec) != f.dimension {
		return fmt.Errorf("id %d: got %d, index has %d: %w", id, len(vec), f.dimension, ErrDimensionMismatch)
	}
	stored := make([]float32, f.dimension)
	copy(stored, vec)
	f.entries[id] = stored
	return nil
}

// Remove deletes the entry for id if present.
func (f *Flat) Remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

// Search returns up to k entries with similarity >= minScore, descending by
// score, ties broken by ascending id so results are deterministic.
func (f *Flat) Search(query []float32, k int, minScore float64) []models.RawMatch {
	f.mu.RLock()
	defer f.mu.RUnlock()
	hits := make([]models.RawMatch, 0, k)
	if k <= 0 || len(f.entries) == 0 || len(query) != f.dimension {
		return hits
	}
	for id, vec := range f.entries {
		score := InnerProduct(query, vec)
		if score >= minScore {
			hits = append(hits, models.RawMatch{PatchID: id, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PatchID < hits[j].PatchID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Size returns the number of stored vectors.
func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Dimension returns the fixed dimension, or 0 before the first Add.
func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}

// ids returns all stored IDs in ascending order (stable blob layout).
func (f *Flat) ids() []int64 {
	out := make([]int64, 0, len(f.entries))
	for id := range f.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
