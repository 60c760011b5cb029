// Package embedding provides image embedding for similarity search.
package embedding

import (
	"context"
	"errors"
)

// ErrUnreadableImage is returned when uploaded bytes cannot be decoded as an
// image.
var ErrUnreadableImage = errors.New("unreadable image")

// Embedder produces unit-norm vector embeddings for images. Implementations
// must be safe for concurrent use; the model is loaded once at startup and
// reused read-only across requests.
type Embedder interface {
	Embed(ctx context.Context, imageBytes []byte) ([]float32, error)
	Dimensions() int
	Close() error
}
