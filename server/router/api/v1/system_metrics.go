package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
	"github.com/hrygo/shelfscan/server/internal/observability"
)

// MetricsOverviewResponse represents the overview response of system metrics
type MetricsOverviewResponse struct {
	TotalRequests int64                                   `json:"total_requests"`
	SuccessRate   float64                                 `json:"success_rate"`
	P50LatencyMs  int64                                   `json:"p50_latency_ms"`
	P95LatencyMs  int64                                   `json:"p95_latency_ms"`
	ErrorCount    int64                                   `json:"error_count"`
	Routes        map[string]*observability.RouteSnapshot `json:"routes"`
	Indexes       map[string]bool                         `json:"indexes_draining"`
}

// GetMetricsOverview returns the request metrics since startup and the runner states.
// GET /api/v1/system/metrics
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	snap := s.Metrics.Snapshot()
	indexes := make(map[string]bool, len(s.Runners))
	for name, runner := range s.Runners {
		indexes[name] = runner.IsDraining()
	}
	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		TotalRequests: snap.RequestTotal,
		SuccessRate:   snap.SuccessRate(),
		P50LatencyMs:  snap.P50LatencyMs,
		P95LatencyMs:  snap.P95LatencyMs,
		ErrorCount:    snap.RequestFailed,
		Routes:        snap.Routes,
		Indexes:       indexes,
	})
}

// StatsResponse summarizes the catalog and the searches served.
type StatsResponse struct {
	Records         map[string]int64 `json:"records"`
	ProductsNoImage int64            `json:"products_without_image"`
	BookingsNoFace  int64            `json:"bookings_without_face"`
	StaleByIndex    map[string]int64 `json:"stale_by_index"`
	TotalSearches   int64            `json:"total_searches"`
	SearchesToday   int64            `json:"searches_today"`
	SearchesByPath  map[string]int64 `json:"searches_by_path"`
	UpdatedTs       int64            `json:"updated_ts"`
}

// GetStats returns the latest catalog counts and search statistics.
// GET /api/v1/system/stats
func (s *APIV1Service) GetStats(c echo.Context) error {
	if s.Stats == nil {
		return apierrors.ServiceUnavailable("stats are not collected")
	}
	snap := s.Stats.GetStats()
	records := make(map[string]int64, len(snap.Records))
	for kind, n := range snap.Records {
		records[kind.String()] = n
	}
	var updatedTs int64
	if !snap.LastUpdated.IsZero() {
		updatedTs = snap.LastUpdated.Unix()
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Records:         records,
		ProductsNoImage: snap.ProductsNoImage,
		BookingsNoFace:  snap.BookingsNoFace,
		StaleByIndex:    snap.StaleByIndex,
		TotalSearches:   snap.TotalSearches,
		SearchesToday:   snap.SearchesToday,
		SearchesByPath:  snap.SearchesByPath,
		UpdatedTs:       updatedTs,
	})
}
