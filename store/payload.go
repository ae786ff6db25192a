package store

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// cartPayload is the persisted JSON shape of a cart. Prices are JSON numbers.
type cartPayload struct {
	Items []cartLinePayload `json:"items"`
	Total json.Number       `json:"total"`
}

type cartLinePayload struct {
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
}

// MarshalPayload encodes the kind specific fields that are not stored in columns.
func MarshalPayload(r *Record) ([]byte, error) {
	if r.Kind != KindCart || r.Cart == nil {
		return []byte("{}"), nil
	}
	payload := cartPayload{
		Items: make([]cartLinePayload, 0, len(r.Cart.Items)),
		Total: json.Number(r.Cart.Total.String()),
	}
	for _, item := range r.Cart.Items {
		payload.Items = append(payload.Items, cartLinePayload{Name: item.Name, Price: json.Number(item.Price.String())})
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal cart payload")
	}
	return bytes, nil
}

// UnmarshalPayload restores the kind specific fields of r from its stored payload.
func UnmarshalPayload(r *Record, data []byte) error {
	if r.Kind != KindCart {
		return nil
	}
	payload := cartPayload{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return errors.Wrapf(err, "failed to unmarshal cart payload of %s", r.ID)
		}
	}
	cart := &Cart{Items: make([]CartLine, 0, len(payload.Items))}
	for _, item := range payload.Items {
		price, err := decimal.NewFromString(item.Price.String())
		if err != nil {
			return errors.Wrapf(err, "invalid cart line price %q", item.Price)
		}
		cart.Items = append(cart.Items, CartLine{Name: item.Name, Price: price})
	}
	if payload.Total != "" {
		total, err := decimal.NewFromString(payload.Total.String())
		if err != nil {
			return errors.Wrapf(err, "invalid cart total %q", payload.Total)
		}
		cart.Total = total
	}
	r.Cart = cart
	return nil
}
