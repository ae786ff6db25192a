package test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/shelfscan/store"
)

// uniqueID keeps ids distinct when several tests share one postgres database.
func uniqueID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func testImage(t *testing.T, shade uint8) *store.Blob {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return store.NewBlob(buf.Bytes(), "image/png")
}

func newProduct(id, name, price, category string) *store.Record {
	return &store.Record{
		ID:   id,
		Kind: store.KindProduct,
		Product: &store.Product{
			Name:     name,
			Price:    decimal.RequireFromString(price),
			Category: category,
			Location: "Aisle 1",
		},
	}
}

// vectorAtDistance returns a unit vector whose cosine distance to axisVector() is d.
func vectorAtDistance(d float64) []float32 {
	theta := math.Acos(1 - d)
	v := make([]float32, store.EmbeddingDimension)
	v[0] = float32(math.Cos(theta))
	v[1] = float32(math.Sin(theta))
	return v
}

func axisVector() []float32 {
	return vectorAtDistance(0)
}
