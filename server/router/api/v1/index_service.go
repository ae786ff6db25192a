package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/shelfscan/server/internal/errors"
)

type ReindexResponse struct {
	Index string `json:"index"`
	// AlreadyDraining is set when a drain was in progress. It will pick up any staleness
	// before going idle.
	AlreadyDraining bool `json:"already_draining"`
}

// Reindex starts a drain of the named index in the background.
// POST /api/v1/indexes/:name/reindex
func (s *APIV1Service) Reindex(c echo.Context) error {
	name := c.Param("name")
	runner, ok := s.Runners[name]
	if !ok {
		return apierrors.NotFound("index not found: " + name)
	}
	draining := runner.IsDraining()
	go runner.Trigger(s.ctx)
	return c.JSON(http.StatusAccepted, &ReindexResponse{Index: name, AlreadyDraining: draining})
}
