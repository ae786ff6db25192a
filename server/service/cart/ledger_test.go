package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/shelfscan/store"
	teststore "github.com/hrygo/shelfscan/store/test"
)

func product(id, name, price string) *store.Record {
	return &store.Record{
		ID:      id,
		Kind:    store.KindProduct,
		Product: &store.Product{Name: name, Price: decimal.RequireFromString(price)},
	}
}

func TestLedgerTotals(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(teststore.NewTestingStore(ctx, t))

	total, err := ledger.CartTotal(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	lines, err := ledger.Cart(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	for _, p := range []*store.Record{
		product("milk", "Milk", "1.49"),
		product("bread", "Bread", "0.99"),
		product("cheese", "Cheese", "2.49"),
	} {
		_, err := ledger.AddToCart(ctx, p)
		require.NoError(t, err)
	}

	total, err = ledger.CartTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4.97", total.StringFixed(2))
	assert.True(t, total.Equal(decimal.RequireFromString("4.97")))

	lines, err = ledger.Cart(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "Milk", lines[0].Name)
	assert.Equal(t, "Cheese", lines[2].Name)

	require.NoError(t, ledger.ClearCart(ctx))
	total, err = ledger.CartTotal(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	// Clearing an empty cart is a no-op.
	require.NoError(t, ledger.ClearCart(ctx))
}

func TestLedgerConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(teststore.NewTestingStore(ctx, t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.AddToCart(ctx, product("gum", "Gum", "0.10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := ledger.CartTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.80", total.StringFixed(2))
}

func TestLedgerRejectsNonProducts(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(teststore.NewTestingStore(ctx, t))

	_, err := ledger.AddToCart(ctx, &store.Record{ID: "b", Kind: store.KindBooking, Booking: &store.Booking{}})
	require.Error(t, err)
	_, err = ledger.AddToCart(ctx, nil)
	require.Error(t, err)
}
