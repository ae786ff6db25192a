package vision

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// EdgeSaliencyDetector is an on-device saliency model based on gradient energy. The image
// is reduced to a coarse grayscale grid; cells whose edge energy exceeds a threshold form
// the salient region. SaliencyObjectness uses a lower threshold so the region covers whole
// objects rather than their most contrasted part.
type EdgeSaliencyDetector struct {
	// GridSize is the side of the analysis grid. Defaults to 32.
	GridSize int
}

// DetectSaliency returns at most one region, or none for images without structure.
func (d *EdgeSaliencyDetector) DetectSaliency(ctx context.Context, img image.Image, kind SaliencyKind) ([]Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := d.GridSize
	if n <= 0 {
		n = 32
	}
	b := img.Bounds()
	if b.Dx() < 2 || b.Dy() < 2 {
		return nil, nil
	}

	gray := imaging.Resize(imaging.Grayscale(img), n, n, imaging.Box)
	lum := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x*4])
	}

	energy := make([]float64, n*n)
	var sum, peak float64
	for y := 1; y < n-1; y++ {
		for x := 1; x < n-1; x++ {
			gx := lum(x+1, y) - lum(x-1, y)
			gy := lum(x, y+1) - lum(x, y-1)
			e := math.Hypot(gx, gy)
			energy[y*n+x] = e
			sum += e
			peak = math.Max(peak, e)
		}
	}
	if peak == 0 {
		return nil, nil
	}

	ratio := 0.5
	if kind == SaliencyObjectness {
		ratio = 0.25
	}
	threshold := peak * ratio

	minX, minY, maxX, maxY := n, n, -1, -1
	var selected float64
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			e := energy[y*n+x]
			if e < threshold {
				continue
			}
			selected += e
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < 0 {
		return nil, nil
	}

	cell := 1 / float64(n)
	rect := NormalizedRect{
		X:      float64(minX) * cell,
		Y:      1 - float64(maxY+1)*cell,
		Width:  float64(maxX-minX+1) * cell,
		Height: float64(maxY-minY+1) * cell,
	}
	return []Region{{Rect: rect, Confidence: selected / sum}}, nil
}
