package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health and GET /api/v1/health.
// The store and artifact directory are hard dependencies: losing either makes
// the service unhealthy. The completion endpoint, ranking service, and worker
// pool only degrade it, so a flapping external dependency never gets the
// orchestrator restarted by its platform.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	if err := s.artifacts.Store().CheckWritable(); err != nil {
		status = healthStatusUnhealthy
		checks["artifact_store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["artifact_store"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.completion != nil && !s.completion.Configured() {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["completion"] = HealthCheck{Status: healthStatusDegraded, Message: "completion endpoint not configured"}
	} else {
		checks["completion"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.ranking != nil && !s.ranking.Reachable(reqCtx) {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["ranking"] = HealthCheck{Status: healthStatusDegraded, Message: "ranking service unreachable, planner falls back to defaults"}
	} else {
		checks["ranking"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		if poolHealth != nil && !poolHealth.IsHealthy {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			msg := healthStatusUnhealthy
			if poolHealth.DBError != "" {
				msg = poolHealth.DBError
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
