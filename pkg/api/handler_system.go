package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/services"
)

// systemWarningsHandler handles GET /api/v1/system/warnings.
// Surfaces transient operational issues (ranking service unreachable, stale
// benchmark feed, orphaned-run recovery) that do not fail requests on their own.
func (s *Server) systemWarningsHandler(c *echo.Context) error {
	warnings := []*services.SystemWarning{}
	if s.warnings != nil {
		warnings = s.warnings.GetWarnings()
	}

	// Sort for deterministic output.
	sort.Slice(warnings, func(i, j int) bool {
		if !warnings[i].CreatedAt.Equal(warnings[j].CreatedAt) {
			return warnings[i].CreatedAt.Before(warnings[j].CreatedAt)
		}
		return warnings[i].ID < warnings[j].ID
	})

	return c.JSON(http.StatusOK, &SystemWarningsResponse{Warnings: warnings})
}
