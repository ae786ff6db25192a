package vision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZXingDecoder(t *testing.T) {
	ctx := context.Background()
	decoder := NewZXingDecoder(true)

	t.Run("qr code", func(t *testing.T) {
		matrix, err := qrcode.NewQRCodeWriter().Encode("4006381333931", gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
		require.NoError(t, err)
		text, err := decoder.Decode(ctx, matrix)
		require.NoError(t, err)
		assert.Equal(t, "4006381333931", text)
	})

	t.Run("no barcode", func(t *testing.T) {
		text, err := decoder.Decode(ctx, solidImage(120, 120, color.White))
		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("empty image", func(t *testing.T) {
		text, err := decoder.Decode(ctx, image.NewNRGBA(image.Rect(0, 0, 0, 0)))
		require.NoError(t, err)
		assert.Empty(t, text)
	})
}
