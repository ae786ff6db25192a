package v1

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hrygo/shelfscan/internal/profile"
	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
	"github.com/hrygo/shelfscan/server/internal/observability"
	shelfmiddleware "github.com/hrygo/shelfscan/server/middleware"
	"github.com/hrygo/shelfscan/server/retrieval"
	"github.com/hrygo/shelfscan/server/runner/embedding"
	"github.com/hrygo/shelfscan/server/service/cart"
	"github.com/hrygo/shelfscan/server/stats"
	"github.com/hrygo/shelfscan/store"
)

const (
	// The upload memory buffer is 32 MiB.
	MaxUploadBufferSizeBytes = 32 << 20
	// DefaultListLimit is the page size of record listings without a limit.
	DefaultListLimit = 100
)

type APIV1Service struct {
	Profile     *profile.Profile
	Store       *store.Store
	Coordinator *retrieval.Coordinator
	Ledger      *cart.Ledger
	Runners     map[string]*embedding.Runner
	Metrics     *observability.Metrics
	// Stats is optional; searches are not counted when it is nil.
	Stats *stats.Collector

	markdown goldmark.Markdown
	// extractSemaphore limits concurrent image decoding and extraction to bound memory use.
	extractSemaphore *semaphore.Weighted
	searchLimiter    *shelfmiddleware.RateLimiter

	// ctx outlives requests and scopes background work such as reindexing.
	ctx context.Context
}

func NewAPIV1Service(profile *profile.Profile, st *store.Store, coordinator *retrieval.Coordinator, ledger *cart.Ledger, runners []*embedding.Runner) *APIV1Service {
	concurrency := int64(profile.MaxConcurrentExtractions)
	if concurrency <= 0 {
		concurrency = 4
	}
	byName := make(map[string]*embedding.Runner, len(runners))
	for _, r := range runners {
		byName[r.Index().Name] = r
	}
	return &APIV1Service{
		Profile:          profile,
		Store:            st,
		Coordinator:      coordinator,
		Ledger:           ledger,
		Runners:          byName,
		Metrics:          observability.NewMetrics(1000),
		markdown:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
		extractSemaphore: semaphore.NewWeighted(concurrency),
		// 10 searches per second per client, with burst of 20.
		searchLimiter: shelfmiddleware.NewRateLimiter(rate.Limit(10), 20),
		ctx:           context.Background(),
	}
}

// Register registers the API routes with the given Echo instance. ctx scopes background
// work started by requests.
func (s *APIV1Service) Register(ctx context.Context, echoServer *echo.Echo) {
	s.ctx = ctx
	echoServer.HTTPErrorHandler = s.handleError

	api := echoServer.Group("/api/v1")
	api.Use(middleware.CORS())
	api.Use(shelfmiddleware.Observe(slog.Default(), s.Metrics))

	search := api.Group("/search", s.searchLimiter.Middleware())
	search.POST("/image", s.SearchImage)
	search.GET("/text", s.SearchText)

	api.GET("/records", s.ListRecords)
	api.GET("/records/:id", s.GetRecord)
	api.GET("/blobs/:digest", s.GetBlob)

	api.GET("/cart", s.GetCart)
	api.POST("/cart/items", s.AddCartItem)
	api.DELETE("/cart", s.ClearCart)

	api.POST("/indexes/:name/reindex", s.Reindex)
	api.GET("/system/metrics", s.GetMetricsOverview)
	api.GET("/system/stats", s.GetStats)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *APIV1Service) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var resp ErrorResponse
	status := http.StatusInternalServerError
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		resp = ErrorResponse{Code: http.StatusText(he.Code), Message: http.StatusText(he.Code)}
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		}
	} else {
		apiErr := apierrors.From(err)
		status = apiErr.HTTPStatus()
		resp = ErrorResponse{Code: string(apiErr.Code), Message: apiErr.Message}
	}
	if err := c.JSON(status, resp); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
