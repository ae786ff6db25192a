package stats

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/shelfscan/store"
	"github.com/hrygo/shelfscan/store/test"
)

func pngBlob(t *testing.T) *store.Blob {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return store.NewBlob(buf.Bytes(), "image/png")
}

func TestCollector_Collect(t *testing.T) {
	ctx := context.Background()
	ts := test.NewTestingStore(ctx, t)

	for _, r := range []*store.Record{
		{ID: "p1", Kind: store.KindProduct, Image: pngBlob(t), Product: &store.Product{Name: "Chips", Price: decimal.RequireFromString("1.49")}},
		{ID: "p2", Kind: store.KindProduct, Product: &store.Product{Name: "Soda", Price: decimal.RequireFromString("0.99")}},
		{ID: "b1", Kind: store.KindBooking, DisplayFields: store.DisplayFields{Title: "Ada"}, Booking: &store.Booking{}},
	} {
		_, err := ts.UpsertRecord(ctx, r)
		require.NoError(t, err)
	}

	collector := NewCollector(ts)
	require.NoError(t, collector.Collect(ctx))

	stats := collector.GetStats()
	assert.False(t, stats.LastUpdated.IsZero())
	assert.Equal(t, int64(2), stats.Records[store.KindProduct])
	assert.Equal(t, int64(1), stats.Records[store.KindBooking])
	assert.Equal(t, int64(1), stats.ProductsNoImage)
	assert.Equal(t, int64(1), stats.BookingsNoFace)
	assert.Equal(t, int64(1), stats.StaleByIndex[store.ProductImageIndex.Name])
	assert.Equal(t, int64(0), stats.StaleByIndex[store.BookingFaceIndex.Name])
}

func TestCollector_RecordSearch(t *testing.T) {
	collector := NewCollector(nil)
	collector.RecordSearch("barcode")
	collector.RecordSearch("product")
	collector.RecordSearch("")

	stats := collector.GetStats()
	assert.Equal(t, int64(3), stats.TotalSearches)
	assert.Equal(t, int64(3), stats.SearchesToday)
	assert.Equal(t, map[string]int64{"barcode": 1, "product": 1, "none": 1}, stats.SearchesByPath)

	// The returned copy is detached from the collector.
	stats.SearchesByPath["barcode"] = 42
	assert.Equal(t, int64(1), collector.GetStats().SearchesByPath["barcode"])
}

func TestCollector_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := test.NewTestingStore(ctx, t)
	collector := NewCollector(ts).WithInterval(time.Hour)

	done := make(chan struct{})
	go func() {
		collector.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return !collector.GetStats().LastUpdated.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestStats_GetSummary(t *testing.T) {
	stats := &Stats{
		Records:         map[store.Kind]int64{store.KindProduct: 12, store.KindBooking: 3},
		ProductsNoImage: 2,
		StaleByIndex:    map[string]int64{"product_image": 4, "booking_face": 0},
		TotalSearches:   9,
		SearchesToday:   5,
		SearchesByPath:  map[string]int64{"barcode": 6, "face": 3},
		LastUpdated:     time.Now(),
	}

	summary := stats.GetSummary()
	for _, want := range []string{
		"products: 12 (2 without image)",
		"bookings: 3 (0 without face)",
		"booking_face: 0 stale",
		"product_image: 4 stale",
		"total: 9",
		"by barcode: 6",
		"last: never",
	} {
		assert.True(t, strings.Contains(summary, want), "summary missing %q:\n%s", want, summary)
	}
}
