package retrieval

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/shelfscan/plugin/vision"
	"github.com/hrygo/shelfscan/store"
	teststore "github.com/hrygo/shelfscan/store/test"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type staticDecoder string

func (d staticDecoder) Decode(context.Context, image.Image) (string, error) {
	return string(d), nil
}

// vectorAtDistance returns a unit vector at cosine distance d from the first axis.
func vectorAtDistance(d float64) []float32 {
	theta := math.Acos(1 - d)
	v := make([]float32, store.EmbeddingDimension)
	v[0] = float32(math.Cos(theta))
	v[1] = float32(math.Sin(theta))
	return v
}

func testImage(shade uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 6), B: uint8(y * 6), A: 255})
		}
	}
	return img
}

func blobOf(t *testing.T, shade uint8) *store.Blob {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(shade)))
	return store.NewBlob(buf.Bytes(), "image/png")
}

func addProduct(ctx context.Context, t *testing.T, ts *store.Store, id, name, category, barcode string, vector []float32) {
	t.Helper()
	record := &store.Record{
		ID:    id,
		Kind:  store.KindProduct,
		Image: blobOf(t, uint8(len(id)*20)),
		Product: &store.Product{
			Name:     name,
			Price:    decimal.RequireFromString("1.25"),
			Category: category,
			Barcode:  barcode,
		},
	}
	_, err := ts.UpsertRecord(ctx, record)
	require.NoError(t, err)
	if vector != nil {
		require.NoError(t, ts.CommitIndexBatch(ctx, store.ProductImageIndex, []*store.IndexEntry{
			{DocID: id, SourceDigest: record.Image.Digest, Vector: vector},
		}))
	}
}

func addBooking(ctx context.Context, t *testing.T, ts *store.Store, id string, vector []float32) {
	t.Helper()
	record := &store.Record{
		ID:            id,
		Kind:          store.KindBooking,
		DisplayFields: store.DisplayFields{Title: "Table for two"},
		Image:         blobOf(t, 90),
		Booking:       &store.Booking{Face: blobOf(t, 91)},
	}
	_, err := ts.UpsertRecord(ctx, record)
	require.NoError(t, err)
	require.NoError(t, ts.CommitIndexBatch(ctx, store.BookingFaceIndex, []*store.IndexEntry{
		{DocID: id, SourceDigest: record.Booking.Face.Digest, Vector: vector},
	}))
}

func recordIDs(records []*store.Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func matchesAt(distances ...float64) []*store.VectorMatch {
	matches := make([]*store.VectorMatch, 0, len(distances))
	for _, d := range distances {
		matches = append(matches, &store.VectorMatch{Record: &store.Record{ID: decimal.NewFromFloat(d).String()}, Distance: d})
	}
	return matches
}

func TestFilterRelative(t *testing.T) {
	tests := []struct {
		name      string
		distances []float64
		want      int
	}{
		{name: "keeps close neighbours", distances: []float64{0.05, 0.06, 0.08, 0.12}, want: 2},
		{name: "single match", distances: []float64{0.2}, want: 1},
		{name: "exact match only keeps zeros", distances: []float64{0, 0, 0.01}, want: 2},
		{name: "empty", distances: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterRelative(matchesAt(tt.distances...), RelativeDistanceRatio)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestLastNonEmpty(t *testing.T) {
	first := matchesAt(0.1)
	second := matchesAt(0.2, 0.21)
	assert.Equal(t, second, lastNonEmpty([][]*store.VectorMatch{first, second}))
	assert.Equal(t, first, lastNonEmpty([][]*store.VectorMatch{first, {}}))
	assert.Nil(t, lastNonEmpty(nil))
}

func TestPrefixQuery(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{query: "ban", want: "ban*"},
		{query: "  ban  ", want: "ban*"},
		{query: "ban*", want: "ban*"},
		{query: "red ban", want: "red ban*"},
		{query: "   ", want: ""},
		{query: "", want: ""},
		{query: "coca-cola", want: "coca cola*"},
		{query: "7-up", want: "7 up*"},
		{query: "ben's  cookies", want: "ben s cookies*"},
		{query: "--", want: ""},
		{query: `"unterminated`, want: `"unterminated*`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prefixQuery(tt.query), "query %q", tt.query)
	}
}

func TestSearchByImagePrecedence(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	addProduct(ctx, t, ts, "apple", "Apple", "fruit", "4006381333931", vectorAtDistance(0.3))
	addProduct(ctx, t, ts, "pear", "Pear", "fruit", "", vectorAtDistance(0.02))
	addBooking(ctx, t, ts, "booking", vectorAtDistance(0.05))

	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(vectorAtDistance(0), nil)
	preprocessor := vision.NewPreprocessor(nil, nil)

	t.Run("barcode wins", func(t *testing.T) {
		c := NewCoordinator(ts, preprocessor, extractor, staticDecoder("4006381333931"))
		result, err := c.SearchImage(ctx, testImage(10))
		require.NoError(t, err)
		assert.Equal(t, MatchBarcode, result.Path)
		assert.Equal(t, []string{"apple"}, recordIDs(result.Records))
	})

	t.Run("face wins over product", func(t *testing.T) {
		c := NewCoordinator(ts, preprocessor, extractor, staticDecoder(""))
		result, err := c.SearchImage(ctx, testImage(10))
		require.NoError(t, err)
		assert.Equal(t, MatchFace, result.Path)
		assert.Equal(t, []string{"booking"}, recordIDs(result.Records))
	})

	t.Run("unknown barcode falls through", func(t *testing.T) {
		c := NewCoordinator(ts, preprocessor, extractor, staticDecoder("000"))
		records, err := c.SearchByImage(ctx, testImage(10))
		require.NoError(t, err)
		assert.Equal(t, []string{"booking"}, recordIDs(records))
	})
}

func TestSearchByImageProductPath(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	addProduct(ctx, t, ts, "apple", "Apple", "fruit", "", vectorAtDistance(0.05))
	addProduct(ctx, t, ts, "pear", "Pear", "fruit", "", vectorAtDistance(0.06))
	addProduct(ctx, t, ts, "plum", "Plum", "fruit", "", vectorAtDistance(0.08))
	addProduct(ctx, t, ts, "kiwi", "Kiwi", "fruit", "", vectorAtDistance(0.3))

	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(vectorAtDistance(0), nil)
	c := NewCoordinator(ts, vision.NewPreprocessor(nil, nil), extractor, nil)

	result, err := c.SearchImage(ctx, testImage(10))
	require.NoError(t, err)
	assert.Equal(t, MatchProduct, result.Path)
	assert.Equal(t, []string{"apple", "pear"}, recordIDs(result.Records))
}

func TestSearchByImageWithoutSignal(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	addProduct(ctx, t, ts, "apple", "Apple", "fruit", "", vectorAtDistance(0.05))

	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(nil, vision.ErrEmbeddingUnavailable)
	c := NewCoordinator(ts, vision.NewPreprocessor(nil, nil), extractor, nil)

	result, err := c.SearchImage(ctx, testImage(10))
	require.NoError(t, err)
	assert.Equal(t, MatchNone, result.Path)
	assert.Empty(t, result.Records)

	records, err := c.SearchByImage(ctx, image.NewRGBA(image.Rectangle{}))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSearchByImageCancelled(t *testing.T) {
	ts := teststore.NewTestingStore(context.Background(), t)
	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(nil, context.Canceled)
	c := NewCoordinator(ts, vision.NewPreprocessor(nil, nil), extractor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SearchByImage(ctx, testImage(10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchByText(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	addProduct(ctx, t, ts, "banana", "Banana", "fruit", "", nil)
	addProduct(ctx, t, ts, "bread", "Bread", "bakery", "", nil)
	addProduct(ctx, t, ts, "milk", "Milk", "dairy", "", nil)
	addProduct(ctx, t, ts, "cola", "Coca-Cola", "drinks", "", nil)
	addProduct(ctx, t, ts, "7up", "7-Up", "drinks", "", nil)
	c := NewCoordinator(ts, vision.NewPreprocessor(nil, nil), &mockExtractor{}, nil)

	records, err := c.SearchByText(ctx, "  ban ")
	require.NoError(t, err)
	assert.Equal(t, []string{"banana"}, recordIDs(records))

	records, err = c.SearchByText(ctx, "bak")
	require.NoError(t, err)
	assert.Equal(t, []string{"bread"}, recordIDs(records))

	records, err = c.SearchByText(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = c.SearchByText(ctx, "coca-co")
	require.NoError(t, err)
	assert.Equal(t, []string{"cola"}, recordIDs(records))

	records, err = c.SearchByText(ctx, "7-up")
	require.NoError(t, err)
	assert.Equal(t, []string{"7up"}, recordIDs(records))

	records, err = c.SearchByText(ctx, `"unterminated`)
	require.NoError(t, err)
	assert.Empty(t, records)
}
