package cart

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hrygo/shelfscan/store"
)

// CartID is the id of the singleton cart document.
const CartID = "cart"

// Ledger records purchases in the singleton cart document. Every mutation is a single
// read-modify-write on the store, so concurrent additions are never lost.
type Ledger struct {
	store *store.Store
}

// NewLedger creates a ledger backed by st.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// AddToCart appends the product name and price to the cart, creating the cart if needed,
// and returns the new total.
func (l *Ledger) AddToCart(ctx context.Context, product *store.Record) (decimal.Decimal, error) {
	if product == nil || product.Kind != store.KindProduct || product.Product == nil {
		return decimal.Zero, errors.New("only products can be added to the cart")
	}
	line := store.CartLine{Name: product.Product.Name, Price: product.Product.Price}

	updated, err := l.store.UpdateRecord(ctx, CartID, func(current *store.Record) (*store.Record, error) {
		var items []store.CartLine
		if current != nil && current.Cart != nil {
			items = append(items, current.Cart.Items...)
		}
		items = append(items, line)
		return &store.Record{
			ID:   CartID,
			Kind: store.KindCart,
			DisplayFields: store.DisplayFields{
				Title: "Cart",
			},
			Cart: &store.Cart{Items: items, Total: store.SumLines(items)},
		}, nil
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to add %s to cart", product.ID)
	}
	slog.Info("added to cart", "product", product.ID, "price", line.Price.StringFixed(2), "total", updated.Cart.Total.StringFixed(2))
	return updated.Cart.Total, nil
}

// CartTotal returns the persisted total, zero when there is no cart.
func (l *Ledger) CartTotal(ctx context.Context) (decimal.Decimal, error) {
	cart, err := l.load(ctx)
	if err != nil || cart == nil {
		return decimal.Zero, err
	}
	return cart.Total, nil
}

// Cart returns the cart lines in insertion order.
func (l *Ledger) Cart(ctx context.Context) ([]store.CartLine, error) {
	cart, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return []store.CartLine{}, nil
	}
	return cart.Items, nil
}

// ClearCart removes the cart document.
func (l *Ledger) ClearCart(ctx context.Context) error {
	if err := l.store.DeleteRecord(ctx, CartID); err != nil {
		return errors.Wrap(err, "failed to clear cart")
	}
	return nil
}

func (l *Ledger) load(ctx context.Context) (*store.Cart, error) {
	record, err := l.store.GetRecord(ctx, CartID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load cart")
	}
	if record == nil || record.Cart == nil {
		return nil, nil
	}
	return record.Cart, nil
}
