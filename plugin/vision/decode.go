package vision

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	// Register the WebP decoder for image.Decode.
	_ "golang.org/x/image/webp"
)

// MaxImagePixels bounds the decoded size of an image. Decoders allocate the full pixel
// buffer from the header, so the check runs before any pixel data is read.
const MaxImagePixels = 40_000_000

// ErrImageTooLarge is returned for images whose declared size exceeds MaxImagePixels.
var ErrImageTooLarge = errors.New("image too large")

// DecodeImage decodes JPEG, PNG, GIF, BMP, TIFF or WebP data and applies the EXIF
// orientation so the image is upright.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, errors.Wrapf(ErrImageTooLarge, "%dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxImagePixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}
