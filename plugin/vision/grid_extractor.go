package vision

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

const gridSide = 16

// GridExtractor is a deterministic on-device feature print: the mean RGB intensity of each
// cell of a 16x16 grid, composited over black, mean-centered and L2-normalized.
// 16 * 16 * 3 = 768 components.
type GridExtractor struct{}

// NewGridExtractor creates a grid extractor.
func NewGridExtractor() *GridExtractor {
	return &GridExtractor{}
}

func (*GridExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, err.Error())
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "empty image")
	}

	grid := imaging.Resize(img, gridSide, gridSide, imaging.Box)
	features := make([]float64, 0, gridSide*gridSide*3)
	for y := 0; y < gridSide; y++ {
		for x := 0; x < gridSide; x++ {
			i := y*grid.Stride + x*4
			alpha := float64(grid.Pix[i+3]) / 255
			for c := 0; c < 3; c++ {
				features = append(features, float64(grid.Pix[i+c])/255*alpha)
			}
		}
	}

	var mean float64
	for _, f := range features {
		mean += f
	}
	mean /= float64(len(features))

	var norm float64
	for i := range features {
		features[i] -= mean
		norm += features[i] * features[i]
	}
	norm = math.Sqrt(norm)
	if norm < 1e-9 {
		return nil, errors.Wrap(ErrEmbeddingUnavailable, "image has no variance")
	}

	vector := make([]float32, len(features))
	for i, f := range features {
		vector[i] = float32(f / norm)
	}
	if err := validateEmbedding(vector); err != nil {
		return nil, err
	}
	return vector, nil
}
