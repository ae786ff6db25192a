package vision

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/store"
)

// ErrEmbeddingUnavailable is returned when no embedding could be computed for an image.
// Callers treat it as "no signal", never as a hard failure.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Extractor computes a feature embedding of store.EmbeddingDimension components.
// Implementations do not retry.
type Extractor interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
}

// validateEmbedding rejects vectors of the wrong size or with non-finite components.
func validateEmbedding(v []float32) error {
	if len(v) != store.EmbeddingDimension {
		return errors.Wrapf(ErrEmbeddingUnavailable, "got %d components, want %d", len(v), store.EmbeddingDimension)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return errors.Wrapf(ErrEmbeddingUnavailable, "component %d is not finite", i)
		}
	}
	return nil
}
