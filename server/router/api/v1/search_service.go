package v1

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/shelfscan/plugin/vision"
	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
	"github.com/hrygo/shelfscan/server/retrieval"
)

// ImageSearchResponse carries the matched records and the path that matched them.
type ImageSearchResponse struct {
	Path    string    `json:"path"`
	Records []*Record `json:"records"`
}

// TextSearchResponse carries the matched products and, per record id, the spans the query
// matched.
type TextSearchResponse struct {
	Records    []*Record                        `json:"records"`
	Highlights map[string][]retrieval.Highlight `json:"highlights"`
}

// SearchImage recognizes the uploaded image.
// POST /api/v1/search/image (multipart field "image")
func (s *APIV1Service) SearchImage(c echo.Context) error {
	ctx := c.Request().Context()
	file, err := c.FormFile("image")
	if err != nil {
		return apierrors.InvalidArgument("multipart field \"image\" is required")
	}
	if file.Size > MaxUploadBufferSizeBytes {
		return apierrors.InvalidArgument("image is too large")
	}
	src, err := file.Open()
	if err != nil {
		return apierrors.Internal("failed to open upload", err)
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, MaxUploadBufferSizeBytes))
	if err != nil {
		return apierrors.Internal("failed to read upload", err)
	}

	if err := s.extractSemaphore.Acquire(ctx, 1); err != nil {
		return apierrors.From(err)
	}
	defer s.extractSemaphore.Release(1)

	img, err := vision.DecodeImage(data)
	if err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeInvalidArgument, "image could not be decoded")
	}
	result, err := s.Coordinator.SearchImage(ctx, img)
	if err != nil {
		return apierrors.From(err)
	}
	s.recordSearch(string(result.Path))
	return c.JSON(http.StatusOK, &ImageSearchResponse{
		Path:    string(result.Path),
		Records: s.convertRecordsFromStore(result.Records),
	})
}

// SearchText finds products by name or category prefix.
// GET /api/v1/search/text?q=
func (s *APIV1Service) SearchText(c echo.Context) error {
	query := c.QueryParam("q")
	records, err := s.Coordinator.SearchByText(c.Request().Context(), query)
	if err != nil {
		return apierrors.Internal("failed to search products", err)
	}
	s.recordSearch("text")
	highlights := make(map[string][]retrieval.Highlight, len(records))
	for _, r := range records {
		if h := retrieval.HighlightRecord(r, query); len(h) > 0 {
			highlights[r.ID] = h
		}
	}
	return c.JSON(http.StatusOK, &TextSearchResponse{
		Records:    s.convertRecordsFromStore(records),
		Highlights: highlights,
	})
}

func (s *APIV1Service) recordSearch(path string) {
	if s.Stats != nil {
		s.Stats.RecordSearch(path)
	}
}
