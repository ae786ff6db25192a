package replication

import (
	"github.com/shopspring/decimal"

	"github.com/hrygo/shelfscan/store"
)

// Change is one entry of a remote change feed.
type Change struct {
	Seq     int64          `json:"seq"`
	ID      string         `json:"id"`
	Deleted bool           `json:"deleted"`
	Record  *RecordPayload `json:"record,omitempty"`
}

// ChangesResponse is the body of GET /changes.
type ChangesResponse struct {
	LastSeq int64    `json:"last_seq"`
	Changes []Change `json:"changes"`
}

// BlobPayload carries blob content inline, base64 encoded.
type BlobPayload struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// RecordPayload is the wire shape of a replicated record.
type RecordPayload struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Title    string       `json:"title,omitempty"`
	Subtitle string       `json:"subtitle,omitempty"`
	Details  string       `json:"details,omitempty"`
	Image    *BlobPayload `json:"image,omitempty"`

	Name     string           `json:"name,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Location string           `json:"location,omitempty"`
	Category string           `json:"category,omitempty"`
	Barcode  string           `json:"barcode,omitempty"`

	Face *BlobPayload `json:"face,omitempty"`

	Items []LinePayload    `json:"items,omitempty"`
	Total *decimal.Decimal `json:"total,omitempty"`
}

type LinePayload struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func toBlob(p *BlobPayload) *store.Blob {
	if p == nil || len(p.Data) == 0 {
		return nil
	}
	return store.NewBlob(p.Data, p.ContentType)
}

func fromBlob(b *store.Blob) *BlobPayload {
	if b == nil {
		return nil
	}
	return &BlobPayload{ContentType: b.ContentType, Data: b.Data}
}

// ToRecord converts the payload into a store record. Vectors are never replicated, each
// replica computes its own.
func (p *RecordPayload) ToRecord() *store.Record {
	r := &store.Record{
		ID:   p.ID,
		Kind: store.Kind(p.Type),
		DisplayFields: store.DisplayFields{
			Title:    p.Title,
			Subtitle: p.Subtitle,
			Details:  p.Details,
		},
		Image: toBlob(p.Image),
	}
	switch r.Kind {
	case store.KindProduct:
		r.Product = &store.Product{
			Name:     p.Name,
			Location: p.Location,
			Category: p.Category,
			Barcode:  p.Barcode,
		}
		if p.Price != nil {
			r.Product.Price = *p.Price
		}
	case store.KindBooking:
		r.Booking = &store.Booking{Face: toBlob(p.Face)}
	case store.KindCart:
		items := make([]store.CartLine, 0, len(p.Items))
		for _, item := range p.Items {
			items = append(items, store.CartLine{Name: item.Name, Price: item.Price})
		}
		r.Cart = &store.Cart{Items: items, Total: store.SumLines(items)}
	}
	return r
}

// NewRecordPayload converts a store record into its wire shape. Blob data must be loaded.
func NewRecordPayload(r *store.Record) *RecordPayload {
	p := &RecordPayload{
		ID:       r.ID,
		Type:     r.Kind.String(),
		Title:    r.Title,
		Subtitle: r.Subtitle,
		Details:  r.Details,
		Image:    fromBlob(r.Image),
	}
	switch {
	case r.Product != nil:
		price := r.Product.Price
		p.Name = r.Product.Name
		p.Price = &price
		p.Location = r.Product.Location
		p.Category = r.Product.Category
		p.Barcode = r.Product.Barcode
	case r.Booking != nil:
		p.Face = fromBlob(r.Booking.Face)
	case r.Cart != nil:
		total := r.Cart.Total
		p.Total = &total
		for _, item := range r.Cart.Items {
			p.Items = append(p.Items, LinePayload{Name: item.Name, Price: item.Price})
		}
	}
	return p
}
