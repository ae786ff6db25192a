package retrieval

import (
	"context"
	"image"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/shelfscan/plugin/vision"
	"github.com/hrygo/shelfscan/store"
)

const (
	// FaceMaxDistance is the exclusive upper bound for a booking face match.
	FaceMaxDistance = 0.1
	// ProductMaxDistance is the inclusive upper bound for a product image match.
	ProductMaxDistance = 0.25
	// ProductCandidates is the number of nearest products considered per zoom level.
	ProductCandidates = 10
	// RelativeDistanceRatio drops matches further than this multiple of the best distance.
	RelativeDistanceRatio = 1.40
	// TextSearchLimit caps the number of products returned by a text search.
	TextSearchLimit = 50
)

// MatchPath names the search path whose results were returned.
type MatchPath string

const (
	MatchNone    MatchPath = ""
	MatchBarcode MatchPath = "barcode"
	MatchFace    MatchPath = "face"
	MatchProduct MatchPath = "product"
)

// ImageSearchResult is the outcome of an image search.
type ImageSearchResult struct {
	Path    MatchPath
	Records []*store.Record
}

// Coordinator answers image and text queries against the store.
//
// An image is searched along three independent paths: barcode lookup, booking face
// recognition and product appearance. All paths run concurrently and the first non-empty
// result in that order wins. A path that fails contributes no results.
type Coordinator struct {
	store        *store.Store
	preprocessor *vision.Preprocessor
	extractor    vision.Extractor
	barcodes     vision.BarcodeDecoder
	zoom         vision.AttentionZoom
}

// NewCoordinator creates a coordinator. barcodes may be nil to disable barcode lookup.
func NewCoordinator(st *store.Store, preprocessor *vision.Preprocessor, extractor vision.Extractor, barcodes vision.BarcodeDecoder) *Coordinator {
	return &Coordinator{
		store:        st,
		preprocessor: preprocessor,
		extractor:    extractor,
		barcodes:     barcodes,
		zoom:         vision.DefaultZoom,
	}
}

// WithZoom overrides the zoom factors of the product path.
func (c *Coordinator) WithZoom(zoom vision.AttentionZoom) *Coordinator {
	if len(zoom.Factors) > 0 {
		c.zoom = zoom
	}
	return c
}

// SearchByImage returns the records recognized in img.
func (c *Coordinator) SearchByImage(ctx context.Context, img image.Image) ([]*store.Record, error) {
	result, err := c.SearchImage(ctx, img)
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// SearchImage is SearchByImage that also reports which path matched. It only fails when
// ctx is done.
func (c *Coordinator) SearchImage(ctx context.Context, img image.Image) (*ImageSearchResult, error) {
	requestID := shortuuid.New()
	start := time.Now()
	if img == nil || img.Bounds().Empty() {
		return &ImageSearchResult{Records: []*store.Record{}}, nil
	}

	var barcodeRecords, faceRecords, productRecords []*store.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		barcodeRecords = c.searchBarcode(gctx, requestID, img)
		return nil
	})
	g.Go(func() error {
		faceRecords = c.searchFace(gctx, requestID, img)
		return nil
	})
	g.Go(func() error {
		productRecords = c.searchProduct(gctx, requestID, img)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "image search cancelled")
	}

	result := &ImageSearchResult{Records: []*store.Record{}}
	switch {
	case len(barcodeRecords) > 0:
		result.Path, result.Records = MatchBarcode, barcodeRecords
	case len(faceRecords) > 0:
		result.Path, result.Records = MatchFace, faceRecords
	case len(productRecords) > 0:
		result.Path, result.Records = MatchProduct, productRecords
	}

	slog.InfoContext(ctx, "image search completed",
		"request_id", requestID,
		"path", string(result.Path),
		"results", len(result.Records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// SearchByText returns products whose name or category starts with the query terms.
func (c *Coordinator) SearchByText(ctx context.Context, query string) ([]*store.Record, error) {
	query = prefixQuery(query)
	if query == "" {
		return []*store.Record{}, nil
	}
	requestID := shortuuid.New()
	records, err := c.store.FullTextSearch(ctx, &store.FullTextSearchOptions{
		Kind:  store.KindProduct,
		Query: query,
		Limit: TextSearchLimit,
	})
	if err != nil {
		slog.ErrorContext(ctx, "text search failed", "request_id", requestID, "query", query, "error", err)
		return nil, errors.Wrap(err, "failed to search products")
	}
	slog.InfoContext(ctx, "text search completed", "request_id", requestID, "query", query, "results", len(records))
	return records, nil
}

// prefixQuery turns the last term of query into a prefix match. Punctuation other than
// quotes and '*' separates terms the way the full-text tokenizer does, so "coca-cola"
// searches for "coca cola*".
func prefixQuery(query string) string {
	query = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '"' || r == '*' {
			return r
		}
		return ' '
	}, query)
	query = strings.Join(strings.Fields(query), " ")
	if query == "" || strings.HasSuffix(query, "*") {
		return query
	}
	return query + "*"
}

func (c *Coordinator) searchBarcode(ctx context.Context, requestID string, img image.Image) []*store.Record {
	if c.barcodes == nil {
		return nil
	}
	code, err := c.barcodes.Decode(ctx, img)
	if err != nil {
		slog.DebugContext(ctx, "barcode decoding failed", "request_id", requestID, "error", err)
		return nil
	}
	if code == "" {
		return nil
	}
	records, err := c.store.FindProductsByBarcode(ctx, code)
	if err != nil {
		slog.WarnContext(ctx, "barcode lookup failed", "request_id", requestID, "barcode", code, "error", err)
		return nil
	}
	return records
}

func (c *Coordinator) searchFace(ctx context.Context, requestID string, img image.Image) []*store.Record {
	vectors := c.embed(ctx, requestID, img, vision.AttentionFace{})
	if len(vectors) == 0 {
		return nil
	}
	matches, err := c.store.VectorSearch(ctx, &store.VectorSearchOptions{
		Index:        store.BookingFaceIndex,
		Vector:       vectors[0],
		MaxDistance:  FaceMaxDistance,
		ExclusiveMax: true,
		Limit:        1,
	})
	if err != nil {
		slog.WarnContext(ctx, "face search failed", "request_id", requestID, "error", err)
		return nil
	}
	return recordsOf(matches)
}

func (c *Coordinator) searchProduct(ctx context.Context, requestID string, img image.Image) []*store.Record {
	vectors := c.embed(ctx, requestID, img, c.zoom)
	perZoom := make([][]*store.VectorMatch, 0, len(vectors))
	for _, vector := range vectors {
		matches, err := c.store.VectorSearch(ctx, &store.VectorSearchOptions{
			Index:       store.ProductImageIndex,
			Vector:      vector,
			Candidates:  ProductCandidates,
			MaxDistance: ProductMaxDistance,
		})
		if err != nil {
			slog.WarnContext(ctx, "product search failed", "request_id", requestID, "error", err)
			continue
		}
		perZoom = append(perZoom, filterRelative(matches, RelativeDistanceRatio))
	}
	return recordsOf(lastNonEmpty(perZoom))
}

// embed preprocesses img with attention and extracts one vector per resulting image.
// Images whose extraction fails are skipped.
func (c *Coordinator) embed(ctx context.Context, requestID string, img image.Image, attention vision.Attention) [][]float32 {
	images, err := c.preprocessor.Process(ctx, img, attention, vision.DefaultTargetSize)
	if err != nil {
		slog.WarnContext(ctx, "preprocessing failed", "request_id", requestID, "error", err)
		return nil
	}
	vectors := make([][]float32, 0, len(images))
	for _, processed := range images {
		vector, err := c.extractor.Embed(ctx, processed)
		if err != nil {
			slog.DebugContext(ctx, "embedding unavailable", "request_id", requestID, "error", err)
			continue
		}
		vectors = append(vectors, vector)
	}
	return vectors
}

// filterRelative keeps the matches within ratio times the best distance. matches must be
// ordered by distance.
func filterRelative(matches []*store.VectorMatch, ratio float64) []*store.VectorMatch {
	if len(matches) == 0 {
		return matches
	}
	limit := matches[0].Distance * ratio
	filtered := make([]*store.VectorMatch, 0, len(matches))
	for _, m := range matches {
		if m.Distance <= limit {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// lastNonEmpty returns the result of the highest zoom level that matched anything.
func lastNonEmpty(results [][]*store.VectorMatch) []*store.VectorMatch {
	var chosen []*store.VectorMatch
	for _, r := range results {
		if len(r) > 0 {
			chosen = r
		}
	}
	return chosen
}

func recordsOf(matches []*store.VectorMatch) []*store.Record {
	records := make([]*store.Record, 0, len(matches))
	for _, m := range matches {
		records = append(records, m.Record)
	}
	return records
}
