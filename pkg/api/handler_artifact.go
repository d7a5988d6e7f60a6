package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// artifactHandler handles GET /api/v1/runs/:id/artifacts/:node_id.
// Returns the newest artifact stored for the node slot, with its content
// inline and the blob metadata alongside.
func (s *Server) artifactHandler(c *echo.Context) error {
	runID := c.Param("id")
	nodeID := c.Param("node_id")
	if runID == "" || nodeID == "" {
		return respondError(c, http.StatusBadRequest, codeMissingParam, "run id and node id are required")
	}

	artifact, err := s.artifacts.GetLatest(c.Request().Context(), runID, nodeID)
	if err != nil {
		return respondServiceError(c, err)
	}

	body, err := s.artifacts.ReadContent(artifact)
	if err != nil {
		slog.Error("Artifact blob unreadable",
			"run_id", runID,
			"node_id", nodeID,
			"path", artifact.Path,
			"error", err)
		return respondError(c, http.StatusInternalServerError, codeInternal, "artifact content unreadable")
	}

	return c.JSON(http.StatusOK, &ArtifactResponse{
		ArtifactType: artifact.Type,
		Content:      string(body),
		Metadata: ArtifactMetadata{
			Bytes:     artifact.Bytes,
			SHA256:    artifact.SHA256,
			CreatedAt: artifact.CreatedAt,
			Path:      artifact.Path,
		},
	})
}
