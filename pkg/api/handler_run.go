package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/models"
)

// createRunHandler handles POST /api/v1/runs.
// Creates a queued run and returns immediately; a worker picks it up on the
// next poll tick.
func (s *Server) createRunHandler(c *echo.Context) error {
	var req models.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "request body must be valid JSON")
	}
	req.RequestedBy = extractRequester(c)

	run, err := s.runs.CreateRun(c.Request().Context(), req)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(http.StatusAccepted, &CreateRunResponse{
		RunID:     run.ID,
		Status:    run.Status,
		CreatedAt: run.CreatedAt,
	})
}

// runStatusHandler handles GET /api/v1/runs/:id/status.
func (s *Server) runStatusHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "run id is required")
	}

	status, err := s.runs.GetRunStatus(c.Request().Context(), runID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(http.StatusOK, status)
}

// runResultHandler handles GET /api/v1/runs/:id/result.
// Valid at any point in a run's life; merged output and summary fill in once
// the run reaches a terminal state.
func (s *Server) runResultHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "run id is required")
	}

	includeRaw := false
	if v := c.QueryParam("include_raw"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return respondError(c, http.StatusBadRequest, codeInvalidParam, "include_raw must be a boolean")
		}
		includeRaw = b
	}

	ctx := c.Request().Context()
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return respondServiceError(c, err)
	}
	nodes, err := s.nodes.ListNodes(ctx, runID)
	if err != nil {
		return respondServiceError(c, err)
	}

	result, err := s.artifacts.BuildRunResult(ctx, run, nodes, includeRaw)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// cancelRunHandler handles POST /api/v1/runs/:id/cancel.
// Cancelling an already-canceled run is a no-op success; completed and failed
// runs answer 409. The executor notices the flip on its next refresh, so no
// in-process signalling is needed here.
func (s *Server) cancelRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "run id is required")
	}

	run, err := s.runs.CancelRun(c.Request().Context(), runID)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(http.StatusOK, &CancelRunResponse{RunID: run.ID, Status: run.Status})
}

// listRunsHandler handles GET /api/v1/runs.
func (s *Server) listRunsHandler(c *echo.Context) error {
	filters := models.RunFilters{Status: c.QueryParam("status")}

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return respondError(c, http.StatusBadRequest, codeInvalidParam, "limit must be a positive integer")
		}
		filters.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return respondError(c, http.StatusBadRequest, codeInvalidParam, "offset must be a non-negative integer")
		}
		filters.Offset = n
	}

	list, err := s.runs.ListRuns(c.Request().Context(), filters)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(http.StatusOK, list)
}
