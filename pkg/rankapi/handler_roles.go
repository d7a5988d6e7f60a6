package rankapi

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/models"
)

// composeRoleHandler handles POST /roles/compose.
// Assembles a role-enriched prompt from catalog blocks; unknown block keys
// come back as warnings, never errors.
func (s *Server) composeRoleHandler(c *echo.Context) error {
	var req models.ComposeRoleRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
	}
	if strings.TrimSpace(req.Task) == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "task is required")
	}

	return respondData(c, http.StatusOK, s.composer.Compose(&req))
}
