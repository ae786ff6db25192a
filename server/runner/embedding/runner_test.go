package embedding

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
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
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

// funcExtractor adapts a function to vision.Extractor.
type funcExtractor func(ctx context.Context, img image.Image) ([]float32, error)

func (f funcExtractor) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	return f(ctx, img)
}

func unitVector() []float32 {
	v := make([]float32, store.EmbeddingDimension)
	v[0] = 1
	return v
}

func pngBlob(t *testing.T, shade uint8) *store.Blob {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 20), B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return store.NewBlob(buf.Bytes(), "image/png")
}

func seedProducts(ctx context.Context, t *testing.T, ts *store.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("product-%d", i)
		_, err := ts.UpsertRecord(ctx, &store.Record{
			ID:    id,
			Kind:  store.KindProduct,
			Image: pngBlob(t, uint8(i*30)),
			Product: &store.Product{
				Name:  fmt.Sprintf("Product %d", i),
				Price: decimal.RequireFromString("1.00"),
			},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func countStale(ctx context.Context, t *testing.T, ts *store.Store) int {
	t.Helper()
	entries, err := ts.ListStaleEntries(ctx, store.ProductImageIndex, 100, nil)
	require.NoError(t, err)
	return len(entries)
}

func newTestRunner(ts *store.Store, extractor vision.Extractor) *Runner {
	return NewRunner(ts, store.ProductImageIndex, vision.NewPreprocessor(nil, nil), extractor)
}

func TestRunnerDrainsAllStaleEntries(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	ids := seedProducts(ctx, t, ts, 3)

	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(unitVector(), nil)

	runner := newTestRunner(ts, extractor).WithBatchSize(2)
	assert.True(t, runner.Trigger(ctx))
	extractor.AssertNumberOfCalls(t, "Embed", 3)
	assert.Equal(t, 0, countStale(ctx, t, ts))

	for _, id := range ids {
		record, err := ts.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Len(t, record.Product.Embedding, store.EmbeddingDimension)
	}

	// Nothing is recomputed when the index is up to date.
	assert.True(t, runner.Trigger(ctx))
	extractor.AssertNumberOfCalls(t, "Embed", 3)
}

func TestRunnerResumesAfterInterrupt(t *testing.T) {
	ts := teststore.NewTestingStore(context.Background(), t)
	seedProducts(context.Background(), t, ts, 4)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	extractor := funcExtractor(func(context.Context, image.Image) ([]float32, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return unitVector(), nil
	})

	runner := newTestRunner(ts, extractor).WithBatchSize(2)
	runner.Trigger(ctx)
	// The first batch was committed, the interrupted one was discarded.
	assert.Equal(t, 2, countStale(context.Background(), t, ts))

	runner.Trigger(context.Background())
	assert.Equal(t, 0, countStale(context.Background(), t, ts))
	assert.Equal(t, int32(5), calls.Load())
}

func TestRunnerSkipsFailingEntries(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	seedProducts(ctx, t, ts, 3)

	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.Wrap(vision.ErrEmbeddingUnavailable, "model offline"))

	runner := newTestRunner(ts, extractor)
	assert.True(t, runner.Trigger(ctx))
	extractor.AssertNumberOfCalls(t, "Embed", 3)
	assert.Equal(t, 3, countStale(ctx, t, ts))
}

func TestRunnerSingleFlight(t *testing.T) {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	seedProducts(ctx, t, ts, 2)

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var active, maxActive atomic.Int32
	extractor := funcExtractor(func(ctx context.Context, _ image.Image) ([]float32, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		return unitVector(), nil
	})
	runner := newTestRunner(ts, extractor)

	var wg sync.WaitGroup
	var first bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = runner.Trigger(ctx)
	}()

	<-entered
	assert.True(t, runner.IsDraining())
	assert.False(t, runner.Trigger(ctx))

	// A product added during the drain is picked up before the runner goes idle.
	seedMore := &store.Record{
		ID:      "late",
		Kind:    store.KindProduct,
		Image:   pngBlob(t, 250),
		Product: &store.Product{Name: "Late", Price: decimal.RequireFromString("2.00")},
	}
	_, err := ts.UpsertRecord(ctx, seedMore)
	require.NoError(t, err)

	close(release)
	wg.Wait()

	assert.True(t, first)
	assert.False(t, runner.IsDraining())
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, countStale(ctx, t, ts))
}

func TestRunnerRunReactsToChanges(t *testing.T) {
	ts := teststore.NewTestingStore(context.Background(), t)

	extractor := &mockExtractor{}
	extractor.On("Embed", mock.Anything, mock.Anything).Return(unitVector(), nil)
	runner := newTestRunner(ts, extractor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()

	seedProducts(context.Background(), t, ts, 2)
	require.Eventually(t, func() bool {
		entries, err := ts.ListStaleEntries(context.Background(), store.ProductImageIndex, 100, nil)
		return err == nil && len(entries) == 0 && !runner.IsDraining()
	}, 5*time.Second, 20*time.Millisecond)

	record, err := ts.GetRecord(context.Background(), "product-1")
	require.NoError(t, err)
	assert.Len(t, record.Product.Embedding, store.EmbeddingDimension)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNewRunnerAttention(t *testing.T) {
	preprocessor := vision.NewPreprocessor(nil, nil)
	assert.IsType(t, vision.AttentionNone{}, NewRunner(nil, store.ProductImageIndex, preprocessor, nil).attention)
	assert.IsType(t, vision.AttentionFace{}, NewRunner(nil, store.BookingFaceIndex, preprocessor, nil).attention)
}
