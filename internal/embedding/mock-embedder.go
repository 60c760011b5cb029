package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/patchdb/patchdb/internal/vector"
)

// MockEmbedder is a deterministic embedder for tests and model-less runs. It
// validates that the bytes decode as an image, then derives a fixed-dimension
// unit vector from a hash of the bytes so identical images always get the
// same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit-norm embedding based on the image bytes.
func (e *MockEmbedder) Embed(ctx context.Context, imageBytes []byte) ([]float32, error) {
	if _, err := DecodeImage(imageBytes); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write(imageBytes)
	seed := h.Sum64()

	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(seed%10007)*float64(i+1)) + 0.01)
	}
	vector.Normalize(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
