package capture

import (
	"context"
	"image"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/plugin/vision"
)

// FileSource replays image files as camera frames, one every interval.
type FileSource struct {
	paths    []string
	interval time.Duration
	next     int
}

func NewFileSource(paths []string, interval time.Duration) *FileSource {
	return &FileSource{paths: paths, interval: interval}
}

// NextFrame returns io.EOF after the last file.
func (f *FileSource) NextFrame(ctx context.Context) (image.Image, error) {
	if f.next >= len(f.paths) {
		return nil, io.EOF
	}
	if f.next > 0 && f.interval > 0 {
		select {
		case <-time.After(f.interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	path := f.paths[f.next]
	f.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read frame %s", path)
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode frame %s", path)
	}
	return img, nil
}
