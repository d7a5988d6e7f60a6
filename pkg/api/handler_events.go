package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/models"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

// runEventsHandler handles GET /api/v1/runs/:id/events.
// Pages forward through the audit trail: pass the last seen event id as
// after_id to get the next batch.
func (s *Server) runEventsHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "run id is required")
	}

	var afterID int64
	if v := c.QueryParam("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return respondError(c, http.StatusBadRequest, codeInvalidParam, "after_id must be a non-negative integer")
		}
		afterID = n
	}

	limit := defaultEventLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return respondError(c, http.StatusBadRequest, codeInvalidParam, "limit must be a positive integer")
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		limit = n
	}

	ctx := c.Request().Context()
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return respondServiceError(c, err)
	}

	events, err := s.events.GetEventsSince(ctx, runID, afterID, limit)
	if err != nil {
		return respondServiceError(c, err)
	}
	if events == nil {
		events = []*models.Event{}
	}

	return c.JSON(http.StatusOK, &EventsResponse{Events: events})
}
