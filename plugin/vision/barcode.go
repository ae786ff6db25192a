package vision

import (
	"context"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"
)

// BarcodeDecoder returns the first payload decodable from an image, or "" when there is
// none.
type BarcodeDecoder interface {
	Decode(ctx context.Context, img image.Image) (string, error)
}

// ZXingDecoder tries QR, Data Matrix, EAN/UPC, Code 128 and Code 39 in that order.
type ZXingDecoder struct {
	tryHarder bool
}

// NewZXingDecoder creates a decoder. tryHarder trades speed for accuracy.
func NewZXingDecoder(tryHarder bool) *ZXingDecoder {
	return &ZXingDecoder{tryHarder: tryHarder}
}

// Readers keep decoding state and are created per call.
func newBarcodeReaders() []gozxing.Reader {
	return []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
		oned.NewMultiFormatUPCEANReader(nil),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
	}
}

func (d *ZXingDecoder) Decode(ctx context.Context, img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", nil
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errors.Wrap(err, "failed to binarize image")
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if d.tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	for _, reader := range newBarcodeReaders() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := reader.Decode(bmp, hints)
		if err != nil {
			// NotFound, checksum and format errors all mean this symbology is absent.
			continue
		}
		if text := result.GetText(); text != "" {
			return text, nil
		}
	}
	return "", nil
}
