package rankapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker"
)

// parseBudget validates the budget parameter; absent means any.
func parseBudget(raw string) (models.Budget, error) {
	if raw == "" {
		return models.BudgetAny, nil
	}
	b := models.Budget(raw)
	if !b.Valid() {
		return "", fmt.Errorf("invalid budget %q: must be low, medium, high, or any", raw)
	}
	return b, nil
}

// splitList splits a comma-separated parameter, dropping empty entries.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pickHandler handles GET /pick.
// Classifies the task into a category and returns the single best model.
func (s *Server) pickHandler(c *echo.Context) error {
	task := strings.TrimSpace(c.QueryParam("task"))
	if task == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "task is required")
	}
	budget, err := parseBudget(c.QueryParam("budget"))
	if err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidParam, err.Error())
	}
	contextTags := splitList(c.QueryParam("context"))
	exclude := splitList(c.QueryParam("exclude"))

	pick, err := s.ranker.Pick(c.Request().Context(), ranker.ClassifyTask(task), budget, contextTags, exclude)
	if err != nil {
		if errors.Is(err, ranker.ErrNoEligibleModels) {
			return respondError(c, http.StatusNotFound, codeNoModel, err.Error())
		}
		return respondServiceError(c, err)
	}
	return respondData(c, http.StatusOK, pick)
}

// recommendHandler handles GET /recommend.
// Returns the top count models with provider diversity.
func (s *Server) recommendHandler(c *echo.Context) error {
	task := strings.TrimSpace(c.QueryParam("task"))
	if task == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "task is required")
	}
	budget, err := parseBudget(c.QueryParam("budget"))
	if err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidParam, err.Error())
	}
	count := 3
	if v := c.QueryParam("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return respondError(c, http.StatusBadRequest, codeInvalidParam, "invalid count: must be a positive integer")
		}
		count = n
	}
	contextTags := splitList(c.QueryParam("context"))
	exclude := splitList(c.QueryParam("exclude"))

	recs, err := s.ranker.Recommend(c.Request().Context(), ranker.ClassifyTask(task), budget, count, contextTags, exclude)
	if err != nil {
		if errors.Is(err, ranker.ErrNoEligibleModels) {
			return respondError(c, http.StatusNotFound, codeNoModel, err.Error())
		}
		return respondServiceError(c, err)
	}
	return respondData(c, http.StatusOK, recs)
}

// decomposeHandler handles POST /decompose.
func (s *Server) decomposeHandler(c *echo.Context) error {
	var req models.DecomposeRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
	}
	if strings.TrimSpace(req.Task) == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "task is required")
	}
	budget, err := parseBudget(string(req.Budget))
	if err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidParam, err.Error())
	}

	return respondData(c, http.StatusOK, s.ranker.Decompose(req.Task, budget))
}

// swarmHandler handles POST /swarm.
func (s *Server) swarmHandler(c *echo.Context) error {
	var req models.SwarmRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
	}
	if strings.TrimSpace(req.Task) == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "task is required")
	}
	budget, err := parseBudget(string(req.Budget))
	if err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidParam, err.Error())
	}
	if req.MaxParallel < 0 {
		return respondError(c, http.StatusBadRequest, codeInvalidParam, "maxParallel must not be negative")
	}

	return respondData(c, http.StatusOK, s.ranker.Swarm(req.Task, budget, req.MaxParallel))
}
