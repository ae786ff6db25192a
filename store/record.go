package store

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// EmbeddingDimension is the number of components of every stored feature embedding.
const EmbeddingDimension = 768

// Kind is the document type discriminator.
type Kind string

const (
	KindProduct Kind = "product"
	KindBooking Kind = "booking"
	KindCart    Kind = "cart"
)

// String returns the persisted type value.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProduct, KindBooking, KindCart:
		return true
	}
	return false
}

// Blob is binary content addressed by the SHA-256 digest of its data.
type Blob struct {
	Digest      string
	ContentType string
	Data        []byte
}

// NewBlob creates a blob and computes its digest.
func NewBlob(data []byte, contentType string) *Blob {
	return &Blob{
		Digest:      Digest(data),
		ContentType: contentType,
		Data:        data,
	}
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DisplayFields are the strings a client renders for any record.
type DisplayFields struct {
	Title    string
	Subtitle string
	Details  string
}

// Record is a catalog document. Exactly one of Product, Booking or Cart is set,
// matching Kind.
type Record struct {
	ID   string
	Kind Kind
	DisplayFields

	Image *Blob

	Product *Product
	Booking *Booking
	Cart    *Cart

	CreatedTs int64
	UpdatedTs int64
}

// Product holds the product specific fields.
type Product struct {
	Name     string
	Price    decimal.Decimal
	Location string
	Category string
	Barcode  string

	// Embedding is maintained by the index runner and is read-only for everyone else.
	Embedding []float32
}

// Booking holds the booking specific fields.
type Booking struct {
	Face *Blob

	// FaceEmbedding is maintained by the index runner and is read-only for everyone else.
	FaceEmbedding []float32
}

// CartLine is an immutable cart entry.
type CartLine struct {
	Name  string
	Price decimal.Decimal
}

// Cart is the singleton shopping cart document.
type Cart struct {
	Items []CartLine
	Total decimal.Decimal
}

// FindRecord is the find condition for records.
type FindRecord struct {
	ID      *string
	IDList  []string
	Kind    *Kind
	Barcode *string

	// Filter is a CEL expression evaluated against each candidate record.
	Filter string

	// IncludeEmbedding loads the stored vectors into Product.Embedding and Booking.FaceEmbedding.
	IncludeEmbedding bool

	OrderBy []OrderBy
	Limit   *int
}

// OrderBy is a sort key. Only "name", "created_ts" and "updated_ts" are supported.
type OrderBy struct {
	Field string
	Desc  bool
}

// ImageDigest returns the digest of the record image, or "" when absent.
func (r *Record) ImageDigest() string {
	if r == nil || r.Image == nil {
		return ""
	}
	return r.Image.Digest
}

// FaceDigest returns the digest of the booking face, or "" when absent.
func (r *Record) FaceDigest() string {
	if r == nil || r.Booking == nil || r.Booking.Face == nil {
		return ""
	}
	return r.Booking.Face.Digest
}

// Name returns the product name, or the title for other kinds.
func (r *Record) Name() string {
	if r.Product != nil {
		return r.Product.Name
	}
	return r.Title
}

// Display returns the display fields, deriving product defaults for empty values.
func (r *Record) Display() DisplayFields {
	d := r.DisplayFields
	if r.Kind == KindProduct && r.Product != nil {
		if d.Title == "" {
			d.Title = r.Product.Name
		}
		if d.Subtitle == "" {
			d.Subtitle = r.Product.Price.StringFixed(2)
		}
		if d.Details == "" {
			d.Details = r.Product.Location
		}
	}
	return d
}

// Equal reports whether two records show the same content. Identity is structural
// over the display fields and the image digest, not the record id.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Display() == o.Display() && r.ImageDigest() == o.ImageDigest()
}

// Validate checks the invariants a record must satisfy before it is persisted.
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.New("record id is required")
	}
	if !r.Kind.Valid() {
		return errors.Errorf("invalid record kind %q", r.Kind)
	}
	for _, b := range []*Blob{r.Image, faceOf(r)} {
		if b == nil {
			continue
		}
		if len(b.Data) > 0 && b.Digest != Digest(b.Data) {
			return errors.Errorf("blob digest mismatch for record %s", r.ID)
		}
	}
	switch r.Kind {
	case KindProduct:
		if r.Product == nil {
			return errors.New("product fields are required")
		}
		if r.Product.Name == "" {
			return errors.New("product name is required")
		}
		if r.Product.Price.IsNegative() {
			return errors.Errorf("product price must not be negative: %s", r.Product.Price)
		}
	case KindBooking:
		if r.Booking == nil {
			return errors.New("booking fields are required")
		}
	case KindCart:
		if r.Cart == nil {
			return errors.New("cart fields are required")
		}
		if !r.Cart.Total.Equal(SumLines(r.Cart.Items)) {
			return errors.New("cart total does not match its items")
		}
	}
	return nil
}

// SumLines returns the exact decimal sum of all line prices.
func SumLines(items []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price)
	}
	return total
}

func faceOf(r *Record) *Blob {
	if r.Booking == nil {
		return nil
	}
	return r.Booking.Face
}
