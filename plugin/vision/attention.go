package vision

import (
	"context"
	"image"
)

// Attention selects the region of an image the preprocessor keeps.
// It is one of AttentionNone, AttentionSaliency, AttentionFace or AttentionZoom.
type Attention interface {
	attention()
}

// AttentionNone passes the image through.
type AttentionNone struct{}

// AttentionSaliency crops to the most salient region.
type AttentionSaliency struct {
	Kind SaliencyKind
}

// AttentionFace crops to the most confident face.
type AttentionFace struct{}

// AttentionZoom produces one centered crop per zoom factor.
type AttentionZoom struct {
	Factors []float64
}

func (AttentionNone) attention()     {}
func (AttentionSaliency) attention() {}
func (AttentionFace) attention()     {}
func (AttentionZoom) attention()     {}

// DefaultZoom is the zoom used for product lookups.
var DefaultZoom = AttentionZoom{Factors: []float64{1, 2}}

// SaliencyKind is the saliency model asked for regions.
type SaliencyKind int

const (
	// SaliencyAttention finds where a viewer would look first.
	SaliencyAttention SaliencyKind = iota
	// SaliencyObjectness finds regions likely to hold whole objects.
	SaliencyObjectness
)

func (k SaliencyKind) String() string {
	switch k {
	case SaliencyAttention:
		return "attention"
	case SaliencyObjectness:
		return "objectness"
	}
	return "unknown"
}

// NormalizedRect is a rectangle in unit coordinates with the origin at the bottom left.
type NormalizedRect struct {
	X, Y          float64
	Width, Height float64
}

// Region is a detected area with its confidence.
type Region struct {
	Rect       NormalizedRect
	Confidence float64
}

// SaliencyDetector returns salient regions of an image.
type SaliencyDetector interface {
	DetectSaliency(ctx context.Context, img image.Image, kind SaliencyKind) ([]Region, error)
}

// FaceDetector returns the faces found in an image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, img image.Image) ([]Region, error)
}

// bestRegion returns the region with the highest confidence. The first one wins ties.
func bestRegion(regions []Region) (Region, bool) {
	if len(regions) == 0 {
		return Region{}, false
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best, true
}

// toPixelRect converts a normalized bottom-left rect to pixel coordinates with a top-left
// origin inside bounds.
func toPixelRect(r NormalizedRect, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := int(r.X*w + 0.5)
	x1 := int((r.X+r.Width)*w + 0.5)
	y0 := int((1-r.Y-r.Height)*h + 0.5)
	y1 := int((1-r.Y)*h + 0.5)
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min)
}
