package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/shelfscan/internal/profile"
	"github.com/hrygo/shelfscan/plugin/vision"
	"github.com/hrygo/shelfscan/server/retrieval"
	"github.com/hrygo/shelfscan/server/runner/embedding"
	"github.com/hrygo/shelfscan/server/service/cart"
	"github.com/hrygo/shelfscan/server/stats"
	"github.com/hrygo/shelfscan/store"
	teststore "github.com/hrygo/shelfscan/store/test"
)

type testServer struct {
	echo    *echo.Echo
	store   *store.Store
	service *APIV1Service
	runner  *embedding.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	preprocessor := vision.NewPreprocessor(&vision.EdgeSaliencyDetector{}, nil)
	extractor := vision.NewGridExtractor()
	runner := embedding.NewRunner(ts, store.ProductImageIndex, preprocessor, extractor)
	coordinator := retrieval.NewCoordinator(ts, preprocessor, extractor, nil)

	service := NewAPIV1Service(&profile.Profile{Mode: "dev", MaxConcurrentExtractions: 2}, ts, coordinator, cart.NewLedger(ts), []*embedding.Runner{runner})
	e := echo.New()
	service.Register(ctx, e)
	return &testServer{echo: e, store: ts, service: service, runner: runner}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return s.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func gradientPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: uint8((x + y) * 2), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (s *testServer) addProduct(t *testing.T, id, name, price, details string, image []byte) *store.Record {
	t.Helper()
	record := &store.Record{
		ID:            id,
		Kind:          store.KindProduct,
		DisplayFields: store.DisplayFields{Details: details},
		Product: &store.Product{
			Name:     name,
			Price:    decimal.RequireFromString(price),
			Location: "Aisle 3",
			Category: "snacks",
		},
	}
	if image != nil {
		record.Image = store.NewBlob(image, "image/png")
	}
	saved, err := s.store.UpsertRecord(context.Background(), record)
	require.NoError(t, err)
	return saved
}

func TestGetRecord(t *testing.T) {
	s := newTestServer(t)
	saved := s.addProduct(t, "chips", "Chips", "1.5", "**Salted**", gradientPNG(t))

	rec := s.get(t, "/api/v1/records/chips")
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[Record](t, rec)
	assert.Equal(t, "product", record.Type)
	assert.Equal(t, "Chips", record.Title)
	assert.Equal(t, "1.50", record.Subtitle)
	assert.Equal(t, "<p><strong>Salted</strong></p>\n", record.DetailsHTML)
	require.NotNil(t, record.Product)
	assert.Equal(t, "1.50", record.Product.Price)
	assert.Equal(t, "/api/v1/blobs/"+saved.Image.Digest, record.ImageURL)

	rec = s.get(t, record.ImageURL)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, gradientPNG(t), rec.Body.Bytes())

	rec = s.get(t, "/api/v1/records/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, rec).Code)

	rec = s.get(t, "/api/v1/blobs/deadbeef")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRecords(t *testing.T) {
	s := newTestServer(t)
	s.addProduct(t, "chips", "Chips", "1.50", "", nil)
	s.addProduct(t, "apple", "Apple", "0.40", "", nil)
	s.addProduct(t, "nuts", "Nuts", "3.20", "", nil)

	tests := []struct {
		name   string
		query  string
		status int
		ids    []string
	}{
		{name: "all by name", query: "kind=product", status: http.StatusOK, ids: []string{"apple", "chips", "nuts"}},
		{name: "limit", query: "limit=2", status: http.StatusOK, ids: []string{"apple", "chips"}},
		{name: "filter", query: "filter=price+%3E+1.0", status: http.StatusOK, ids: []string{"chips", "nuts"}},
		{name: "invalid kind", query: "kind=widget", status: http.StatusBadRequest},
		{name: "invalid limit", query: "limit=-1", status: http.StatusBadRequest},
		{name: "invalid filter", query: "filter=price+%2B", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(t, "/api/v1/records?"+tt.query)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				assert.Equal(t, "INVALID_ARGUMENT", decode[ErrorResponse](t, rec).Code)
				return
			}
			resp := decode[ListRecordsResponse](t, rec)
			ids := make([]string, 0, len(resp.Records))
			for _, r := range resp.Records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.addProduct(t, "milk", "Milk", "1.49", "", nil)
	s.addProduct(t, "bread", "Bread", "0.99", "", nil)

	add := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return s.do(t, req)
	}

	require.Equal(t, http.StatusOK, add(`{"product_id":"milk"}`).Code)
	rec := add(`{"product_id":"bread"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cartResp := decode[Cart](t, rec)
	assert.Equal(t, "2.48", cartResp.Total)
	assert.Len(t, cartResp.Items, 2)

	assert.Equal(t, http.StatusNotFound, add(`{"product_id":"cheese"}`).Code)
	assert.Equal(t, http.StatusBadRequest, add(`{}`).Code)

	rec = s.get(t, "/api/v1/cart")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2.48", decode[Cart](t, rec).Total)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.get(t, "/api/v1/cart")
	assert.Equal(t, "0.00", decode[Cart](t, rec).Total)
	assert.Empty(t, decode[Cart](t, rec).Items)
}

func TestSearchText(t *testing.T) {
	s := newTestServer(t)
	s.addProduct(t, "chips", "Chips", "1.50", "", nil)
	s.addProduct(t, "chocolate", "Chocolate", "2.00", "", nil)
	s.addProduct(t, "apple", "Apple", "0.40", "", nil)

	rec := s.get(t, "/api/v1/search/text?q=ch")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TextSearchResponse](t, rec)
	assert.Len(t, resp.Records, 2)
	require.Contains(t, resp.Highlights, "chips")
	assert.Equal(t, retrieval.Highlight{Field: "name", Start: 0, End: 2, MatchedText: "Ch"}, resp.Highlights["chips"][0])

	rec = s.get(t, "/api/v1/search/text?q=")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[TextSearchResponse](t, rec).Records)
}

func TestSearchImage(t *testing.T) {
	s := newTestServer(t)
	data := gradientPNG(t)
	s.addProduct(t, "chips", "Chips", "1.50", "", data)
	require.True(t, s.runner.Trigger(context.Background()))

	upload := func(field string, content []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile(field, "frame.png")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, writer.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/search/image", &body)
		req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
		return s.do(t, req)
	}

	rec := upload("image", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ImageSearchResponse](t, rec)
	assert.Equal(t, string(retrieval.MatchProduct), resp.Path)
	require.NotEmpty(t, resp.Records)
	assert.Equal(t, "chips", resp.Records[0].ID)

	rec = upload("image", []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = upload("photo", data)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReindexAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/indexes/product_image/reindex", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "product_image", decode[ReindexResponse](t, rec).Index)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/indexes/unknown/reindex", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.get(t, "/api/v1/system/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[MetricsOverviewResponse](t, rec)
	assert.Equal(t, int64(2), overview.TotalRequests)
	assert.Contains(t, overview.Indexes, "product_image")
}

func TestSystemStats(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/v1/system/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.service.Stats = stats.NewCollector(s.store)
	rec = s.get(t, "/api/v1/search/text?q=anything")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, s.service.Stats.Collect(context.Background()))

	rec = s.get(t, "/api/v1/system/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatsResponse](t, rec)
	assert.Equal(t, int64(1), resp.TotalSearches)
	assert.Equal(t, int64(1), resp.SearchesByPath["text"])
	assert.Contains(t, resp.StaleByIndex, store.ProductImageIndex.Name)
	assert.NotZero(t, resp.UpdatedTs)
}
