package rankapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/database"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one named probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the healthz body. Unlike the contract endpoints it is
// not enveloped; probes read it directly.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// healthzHandler handles GET /healthz.
// Database failure is unhealthy; a missing or aged-out catalog snapshot
// only degrades, because selection keeps serving from memory.
func (s *Server) healthzHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient != nil {
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	rs := s.ranker.Status()
	snapshot := HealthCheck{Status: healthStatusHealthy}
	switch {
	case rs.ModelCount == 0:
		snapshot = HealthCheck{Status: healthStatusDegraded, Message: "catalog is empty"}
	case time.Since(rs.SnapshotAt) > 2*s.cfg.RefreshInterval:
		snapshot = HealthCheck{
			Status:  healthStatusDegraded,
			Message: fmt.Sprintf("snapshot is %s old", time.Since(rs.SnapshotAt).Round(time.Minute)),
		}
	}
	if snapshot.Status != healthStatusHealthy && status == healthStatusHealthy {
		status = healthStatusDegraded
	}
	checks["snapshot"] = snapshot

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}
