package vision

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultTargetSize is the canvas every preprocessed image is letterboxed into.
var DefaultTargetSize = image.Pt(100, 100)

// regionOutset is the margin in pixels added around a detected region.
const regionOutset = 16

// Preprocessor turns a captured image into the canvases fed to an extractor.
type Preprocessor struct {
	saliency SaliencyDetector
	faces    FaceDetector
}

// NewPreprocessor creates a preprocessor. Either detector may be nil, in which case the
// corresponding attention mode falls back to a centered square crop.
func NewPreprocessor(saliency SaliencyDetector, faces FaceDetector) *Preprocessor {
	return &Preprocessor{saliency: saliency, faces: faces}
}

// Process applies attention to img and letterboxes every resulting crop into target.
// A zero target selects DefaultTargetSize. AttentionZoom yields one image per factor,
// every other mode yields exactly one.
func (p *Preprocessor) Process(ctx context.Context, img image.Image, attention Attention, target image.Point) ([]image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	if target.X <= 0 || target.Y <= 0 {
		target = DefaultTargetSize
	}
	if attention == nil {
		attention = AttentionNone{}
	}

	var crops []image.Image
	switch a := attention.(type) {
	case AttentionNone:
		crops = []image.Image{img}
	case AttentionSaliency:
		var regions []Region
		if p.saliency != nil {
			var err error
			regions, err = p.saliency.DetectSaliency(ctx, img, a.Kind)
			if err != nil {
				slog.Debug("saliency detection failed", "kind", a.Kind.String(), "error", err)
			}
		}
		crops = []image.Image{cropToRegion(img, regions)}
	case AttentionFace:
		var regions []Region
		if p.faces != nil {
			var err error
			regions, err = p.faces.DetectFaces(ctx, img)
			if err != nil {
				slog.Debug("face detection failed", "error", err)
			}
		}
		crops = []image.Image{cropToRegion(img, regions)}
	case AttentionZoom:
		crops = zoomCrops(img, a.Factors)
	default:
		return nil, errors.Errorf("unsupported attention %T", attention)
	}

	outputs := make([]image.Image, 0, len(crops))
	for _, crop := range crops {
		outputs = append(outputs, Letterbox(crop, target))
	}
	return outputs, nil
}

// Letterbox scales img uniformly by min(1, tw/sw, th/sh), so it is never upscaled, and
// centers it on a transparent canvas of the target size.
func Letterbox(img image.Image, target image.Point) *image.NRGBA {
	canvas := imaging.New(target.X, target.Y, color.NRGBA{})
	b := img.Bounds()
	scale := math.Min(1, math.Min(float64(target.X)/float64(b.Dx()), float64(target.Y)/float64(b.Dy())))
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))

	var scaled image.Image = img
	if w != b.Dx() || h != b.Dy() {
		scaled = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	return imaging.PasteCenter(canvas, scaled)
}

// cropToRegion crops to the most confident region grown by regionOutset pixels, or to the
// centered square when there is no usable region.
func cropToRegion(img image.Image, regions []Region) image.Image {
	best, ok := bestRegion(regions)
	if !ok {
		return centerSquare(img)
	}
	bounds := img.Bounds()
	rect := toPixelRect(best.Rect, bounds).Inset(-regionOutset).Intersect(bounds)
	if rect.Empty() {
		return centerSquare(img)
	}
	return imaging.Crop(img, rect)
}

func centerSquare(img image.Image) image.Image {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	return imaging.CropCenter(img, side, side)
}

// zoom crops the centered rectangle that removes (1-1/f)/2 of the width and height on each
// side. Factors up to 1 keep the full image.
func zoom(img image.Image, factor float64) image.Image {
	return zoomCrops(img, []float64{factor})[0]
}

// zoomCrops returns one centered crop per factor. Crops of increasing factors are strictly
// nested for as long as the image has pixels left to remove.
func zoomCrops(img image.Image, factors []float64) []image.Image {
	b := img.Bounds()
	margins := zoomMargins(b.Size(), factors)
	crops := make([]image.Image, len(factors))
	for i, m := range margins {
		if m == (image.Point{}) {
			crops[i] = img
			continue
		}
		crops[i] = imaging.Crop(img, image.Rect(b.Min.X+m.X, b.Min.Y+m.Y, b.Max.X-m.X, b.Max.Y-m.Y))
	}
	return crops
}

// zoomMargins returns the per side pixel margin of each factor. Rounding alone can give two
// close factors the same margin on a small image, so a larger factor removes at least one
// more pixel per side than the next smaller one. Margins never leave less than one pixel.
func zoomMargins(size image.Point, factors []float64) []image.Point {
	order := make([]int, len(factors))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return factors[order[a]] < factors[order[b]] })

	limit := image.Pt(max(0, (size.X-1)/2), max(0, (size.Y-1)/2))
	margins := make([]image.Point, len(factors))
	var prev image.Point
	prevFactor := 1.0
	for _, i := range order {
		f := factors[i]
		if !(f > 1) {
			continue
		}
		m := prev
		if f > prevFactor {
			margin := (1 - 1/f) / 2
			m = image.Pt(
				max(int(math.Round(float64(size.X)*margin)), prev.X+1),
				max(int(math.Round(float64(size.Y)*margin)), prev.Y+1),
			)
		}
		m = image.Pt(min(m.X, limit.X), min(m.Y, limit.Y))
		margins[i] = m
		prev, prevFactor = m, f
	}
	return margins
}
