package v1

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
	"github.com/hrygo/shelfscan/store"
)

// Record is the API representation of a store record.
type Record struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle"`
	Details     string   `json:"details"`
	DetailsHTML string   `json:"details_html,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Product     *Product `json:"product,omitempty"`
	Booking     *Booking `json:"booking,omitempty"`
	Cart        *Cart    `json:"cart,omitempty"`
	CreatedTs   int64    `json:"created_ts"`
	UpdatedTs   int64    `json:"updated_ts"`
}

type Product struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Location string `json:"location"`
	Category string `json:"category"`
	Barcode  string `json:"barcode,omitempty"`
}

type Booking struct {
	FaceURL string `json:"face_url,omitempty"`
}

type CartLine struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type Cart struct {
	Items []CartLine `json:"items"`
	Total string     `json:"total"`
}

func blobURL(digest string) string {
	if digest == "" {
		return ""
	}
	return "/api/v1/blobs/" + digest
}

func (s *APIV1Service) convertRecordFromStore(r *store.Record) *Record {
	display := r.Display()
	record := &Record{
		ID:        r.ID,
		Type:      r.Kind.String(),
		Title:     display.Title,
		Subtitle:  display.Subtitle,
		Details:   display.Details,
		ImageURL:  blobURL(r.ImageDigest()),
		CreatedTs: r.CreatedTs,
		UpdatedTs: r.UpdatedTs,
	}
	if display.Details != "" {
		var buf bytes.Buffer
		if err := s.markdown.Convert([]byte(display.Details), &buf); err != nil {
			slog.Warn("failed to render record details", "id", r.ID, "error", err)
		} else {
			record.DetailsHTML = buf.String()
		}
	}
	switch {
	case r.Product != nil:
		record.Product = &Product{
			Name:     r.Product.Name,
			Price:    r.Product.Price.StringFixed(2),
			Location: r.Product.Location,
			Category: r.Product.Category,
			Barcode:  r.Product.Barcode,
		}
	case r.Booking != nil:
		record.Booking = &Booking{FaceURL: blobURL(r.FaceDigest())}
	case r.Cart != nil:
		record.Cart = convertCart(r.Cart.Items, r.Cart.Total.StringFixed(2))
	}
	return record
}

func convertCart(items []store.CartLine, total string) *Cart {
	cart := &Cart{Items: make([]CartLine, 0, len(items)), Total: total}
	for _, item := range items {
		cart.Items = append(cart.Items, CartLine{Name: item.Name, Price: item.Price.StringFixed(2)})
	}
	return cart
}

func (s *APIV1Service) convertRecordsFromStore(list []*store.Record) []*Record {
	records := make([]*Record, 0, len(list))
	for _, r := range list {
		records = append(records, s.convertRecordFromStore(r))
	}
	return records
}

// ListRecordsResponse is the body of record listings and searches.
type ListRecordsResponse struct {
	Records []*Record `json:"records"`
}

// GetRecord returns one record.
// GET /api/v1/records/:id
func (s *APIV1Service) GetRecord(c echo.Context) error {
	id := c.Param("id")
	record, err := s.Store.GetRecord(c.Request().Context(), id)
	if err != nil {
		return apierrors.Internal("failed to get record", err)
	}
	if record == nil {
		return apierrors.NotFound("record not found: " + id)
	}
	return c.JSON(http.StatusOK, s.convertRecordFromStore(record))
}

// ListRecords lists records ordered by name.
// GET /api/v1/records?kind=&filter=&limit=
func (s *APIV1Service) ListRecords(c echo.Context) error {
	find := &store.FindRecord{
		Filter:  strings.TrimSpace(c.QueryParam("filter")),
		OrderBy: []store.OrderBy{{Field: "name"}},
	}
	if kind := store.Kind(c.QueryParam("kind")); kind != "" {
		if !kind.Valid() {
			return apierrors.InvalidArgument("invalid kind: " + string(kind))
		}
		find.Kind = &kind
	}
	limit := DefaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apierrors.InvalidArgument("limit must be a positive integer")
		}
		limit = n
	}
	find.Limit = &limit

	list, err := s.Store.ListRecords(c.Request().Context(), find)
	if err != nil {
		if errors.Is(err, store.ErrInvalidFilter) {
			return apierrors.Wrap(err, apierrors.ErrCodeInvalidArgument, err.Error())
		}
		return apierrors.Internal("failed to list records", err)
	}
	return c.JSON(http.StatusOK, &ListRecordsResponse{Records: s.convertRecordsFromStore(list)})
}

// GetBlob returns the raw content of a blob. Blobs are immutable and cached for a year.
// GET /api/v1/blobs/:digest
func (s *APIV1Service) GetBlob(c echo.Context) error {
	digest := c.Param("digest")
	blob, err := s.Store.GetBlob(c.Request().Context(), digest)
	if err != nil {
		return apierrors.Internal("failed to get blob", err)
	}
	if blob == nil {
		return apierrors.NotFound("blob not found: " + digest)
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	c.Response().Header().Set("ETag", `"`+blob.Digest+`"`)
	return c.Blob(http.StatusOK, contentType, blob.Data)
}
