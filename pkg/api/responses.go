package api

import (
	"time"

	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
)

// CreateRunResponse is returned by POST /api/v1/runs.
type CreateRunResponse struct {
	RunID     string           `json:"run_id"`
	Status    models.RunStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// CancelRunResponse is returned by POST /api/v1/runs/:id/cancel.
type CancelRunResponse struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
}

// ArtifactResponse is returned by GET /api/v1/runs/:id/artifacts/:node_id.
type ArtifactResponse struct {
	ArtifactType models.ArtifactType `json:"artifact_type"`
	Content      string              `json:"content"`
	Metadata     ArtifactMetadata    `json:"metadata"`
}

// ArtifactMetadata describes the stored blob behind an artifact.
type ArtifactMetadata struct {
	Bytes     int64     `json:"bytes"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
}

// EventsResponse is returned by GET /api/v1/runs/:id/events.
type EventsResponse struct {
	Events []*models.Event `json:"events"`
}

// SystemWarningsResponse is returned by GET /api/v1/system/warnings.
type SystemWarningsResponse struct {
	Warnings []*services.SystemWarning `json:"warnings"`
}

// HealthCheck is a single named probe inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
