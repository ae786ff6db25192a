package catalog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hrygo/shelfscan/store"
)

// Row is one line of a catalog CSV file. Image and face are file names relative to the
// image directory.
type Row struct {
	ID       string `csv:"id"`
	Type     string `csv:"type"`
	Name     string `csv:"name"`
	Price    string `csv:"price"`
	Location string `csv:"location"`
	Category string `csv:"category"`
	Barcode  string `csv:"barcode"`
	Image    string `csv:"image"`
	Face     string `csv:"face"`
	Title    string `csv:"title"`
	Subtitle string `csv:"subtitle"`
	Details  string `csv:"details"`
}

// ImportResult counts the rows of an import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Importer loads products and bookings from CSV into the store.
type Importer struct {
	store *store.Store
}

func NewImporter(st *store.Store) *Importer {
	return &Importer{store: st}
}

// ImportCSV upserts every valid row of r. Invalid rows are logged and skipped; only a
// malformed file or a cancelled context fails the import.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader, imageDir string) (*ImportResult, error) {
	rows := []*Row{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog csv")
	}

	result := &ImportResult{}
	for n, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		record, err := row.toRecord(imageDir)
		if err == nil {
			_, err = i.store.UpsertRecord(ctx, record)
		}
		if err != nil {
			slog.Warn("skipping catalog row", "line", n+2, "id", row.ID, "error", err)
			result.Skipped++
			continue
		}
		result.Imported++
	}
	slog.Info("catalog imported", "imported", result.Imported, "skipped", result.Skipped)
	return result, nil
}

func (row *Row) toRecord(imageDir string) (*store.Record, error) {
	kind := store.Kind(strings.ToLower(strings.TrimSpace(row.Type)))
	if kind == "" {
		kind = store.KindProduct
	}
	id := strings.TrimSpace(row.ID)
	if id == "" {
		id = uuid.NewString()
	}
	record := &store.Record{
		ID:   id,
		Kind: kind,
		DisplayFields: store.DisplayFields{
			Title:    row.Title,
			Subtitle: row.Subtitle,
			Details:  row.Details,
		},
	}

	var err error
	if record.Image, err = loadBlob(imageDir, row.Image); err != nil {
		return nil, err
	}
	switch kind {
	case store.KindProduct:
		price := decimal.Zero
		if s := strings.TrimSpace(row.Price); s != "" {
			if price, err = decimal.NewFromString(s); err != nil {
				return nil, errors.Wrapf(err, "invalid price %q", row.Price)
			}
		}
		record.Product = &store.Product{
			Name:     strings.TrimSpace(row.Name),
			Price:    price,
			Location: row.Location,
			Category: row.Category,
			Barcode:  strings.TrimSpace(row.Barcode),
		}
	case store.KindBooking:
		face, err := loadBlob(imageDir, row.Face)
		if err != nil {
			return nil, err
		}
		if record.Title == "" {
			record.Title = row.Name
		}
		record.Booking = &store.Booking{Face: face}
	default:
		return nil, errors.Errorf("type %q cannot be imported", row.Type)
	}
	return record, nil
}

func loadBlob(dir, name string) (*store.Blob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %s", name)
	}
	return store.NewBlob(data, http.DetectContentType(data)), nil
}
