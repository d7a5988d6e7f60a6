package rankapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker"
)

// refreshBudget caps an on-demand catalog refresh. Individual sources are
// already bounded by the per-source timeout; this is the outer stop.
const refreshBudget = 5 * time.Minute

// ModelEntry is one row of the GET /models listing.
type ModelEntry struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Provider   string            `json:"provider"`
	Tier       models.ModelTier  `json:"tier"`
	Score      float64           `json:"score"`
	Categories []models.Category `json:"categories"`
	Pricing    models.Pricing    `json:"pricing"`
	Tags       []string          `json:"tags,omitempty"`
}

// statusHandler handles GET /status.
func (s *Server) statusHandler(c *echo.Context) error {
	return respondData(c, http.StatusOK, s.ranker.Status())
}

// modelsHandler handles GET /models.
// Lists catalog entries, optionally filtered by category and budget. The
// score column follows the category filter, defaulting to general.
func (s *Server) modelsHandler(c *echo.Context) error {
	var category models.Category
	if v := c.QueryParam("category"); v != "" {
		category = models.Category(v)
		if !category.Valid() {
			return respondError(c, http.StatusBadRequest, codeInvalidParam,
				fmt.Sprintf("invalid category %q", v))
		}
	}
	budget, err := parseBudget(c.QueryParam("budget"))
	if err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidParam, err.Error())
	}

	scoreCategory := category
	if scoreCategory == "" {
		scoreCategory = models.CategoryGeneral
	}

	list := s.ranker.Models(category, budget)
	entries := make([]ModelEntry, 0, len(list))
	for _, m := range list {
		score, _ := m.Score(scoreCategory)
		entries = append(entries, ModelEntry{
			ID:         m.ID,
			Name:       m.Name,
			Provider:   m.Provider,
			Tier:       m.Tier,
			Score:      score,
			Categories: m.Categories,
			Pricing:    m.Pricing,
			Tags:       m.Tags,
		})
	}
	return respondData(c, http.StatusOK, entries)
}

// refreshHandler handles POST /refresh.
// Kicks an on-demand catalog refresh and returns immediately; progress is
// observable through GET /status.
func (s *Server) refreshHandler(c *echo.Context) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshBudget)
		defer cancel()
		if err := s.ranker.Refresh(ctx); err != nil {
			if errors.Is(err, ranker.ErrRefreshInProgress) {
				slog.Info("On-demand refresh skipped, one already running")
				return
			}
			slog.Error("On-demand catalog refresh failed", "error", err)
		}
	}()
	return respondData(c, http.StatusAccepted, map[string]string{"status": "refresh started"})
}
