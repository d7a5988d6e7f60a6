package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/troupe-ai/troupe/pkg/artifacts"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
)

// ArtifactService records artifact metadata rows and owns the blob store.
// Metadata and bytes are written blob-first so a metadata row always points
// at a readable file.
type ArtifactService struct {
	db    *sql.DB
	store *artifacts.Store
}

// NewArtifactService creates a new ArtifactService
func NewArtifactService(client *database.Client, store *artifacts.Store) *ArtifactService {
	return &ArtifactService{db: client.DB(), store: store}
}

// Store exposes the blob store for health probes and cleanup.
func (s *ArtifactService) Store() *artifacts.Store { return s.store }

// SaveArtifact writes the blob and records its metadata row. nodeID is the
// node's local id; "merged" and "plan" are reserved.
func (s *ArtifactService) SaveArtifact(httpCtx context.Context, runID, nodeID string, typ models.ArtifactType, body []byte) (*models.Artifact, error) {
	if runID == "" {
		return nil, NewValidationError("run_id", "required")
	}
	if nodeID == "" {
		return nil, NewValidationError("node_id", "required")
	}
	if !typ.Valid() {
		return nil, NewValidationError("type", fmt.Sprintf("unknown artifact type '%s'", typ))
	}

	res, err := s.store.Write(runID, nodeID, typ, body)
	if err != nil {
		return nil, err
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	artifact := &models.Artifact{
		ID:     uuid.New().String(),
		RunID:  runID,
		NodeID: nodeID,
		Type:   typ,
		Path:   res.Path,
		Bytes:  res.Bytes,
		SHA256: res.SHA256,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO artifacts (artifact_id, run_id, node_id, artifact_type, path, bytes, sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		artifact.ID, artifact.RunID, artifact.NodeID, string(artifact.Type),
		artifact.Path, artifact.Bytes, artifact.SHA256,
	).Scan(&artifact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record artifact: %w", err)
	}
	return artifact, nil
}

// GetLatest returns the newest artifact row for (runID, nodeID). Multiple
// rows exist when a node retried; the freshest one wins.
func (s *ArtifactService) GetLatest(ctx context.Context, runID, nodeID string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, run_id, node_id, artifact_type, path, bytes, sha256, created_at
		FROM artifacts WHERE run_id = $1 AND node_id = $2
		ORDER BY created_at DESC LIMIT 1`, runID, nodeID)
	artifact, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return artifact, nil
}

// ListByRun returns all artifact rows of a run, oldest first.
func (s *ArtifactService) ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, run_id, node_id, artifact_type, path, bytes, sha256, created_at
		FROM artifacts WHERE run_id = $1
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var list []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		list = append(list, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return list, nil
}

// ReadContent returns the blob bytes behind an artifact row.
func (s *ArtifactService) ReadContent(artifact *models.Artifact) ([]byte, error) {
	return s.store.Read(artifact.Path)
}

// BuildRunResult assembles the terminal output bundle for a run: merged
// output, plan summary, artifact metadata, aggregate cost, and optionally
// each task-node's raw output truncated to RawOutputLimit characters.
func (s *ArtifactService) BuildRunResult(ctx context.Context, run *models.Run, nodes []*models.Node, includeRaw bool) (*models.RunResultResponse, error) {
	list, err := s.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	resp := &models.RunResultResponse{
		RunID:     run.ID,
		Status:    run.Status,
		Artifacts: list,
		Error:     run.Error,
	}
	for _, n := range nodes {
		resp.Cost.Prompt += n.TokensPrompt
		resp.Cost.Completion += n.TokensCompletion
		resp.Cost.Usd += n.CostUsd
	}

	// list is ordered ascending, so the last match per slot is the newest
	var mergedArtifact, planArtifact *models.Artifact
	latestRaw := make(map[string]*models.Artifact)
	for _, a := range list {
		switch a.Type {
		case models.ArtifactTypeMerged:
			mergedArtifact = a
		case models.ArtifactTypePlan:
			planArtifact = a
		case models.ArtifactTypeRaw:
			latestRaw[a.NodeID] = a
		}
	}

	if mergedArtifact != nil {
		body, err := s.ReadContent(mergedArtifact)
		if err != nil {
			return nil, err
		}
		resp.MergedOutput = string(body)
	}

	if planArtifact != nil {
		body, err := s.ReadContent(planArtifact)
		if err != nil {
			return nil, err
		}
		var plan models.PlannedRun
		if err := json.Unmarshal(body, &plan); err == nil {
			resp.Summary = plan.Summary
		}
	}

	if includeRaw {
		for _, n := range nodes {
			a, ok := latestRaw[n.LocalID]
			if !ok {
				continue
			}
			body, err := s.ReadContent(a)
			if err != nil {
				return nil, err
			}
			entry := models.RawOutputEntry{NodeID: n.LocalID, Model: n.Model}
			var raw models.RawOutput
			if err := json.Unmarshal(body, &raw); err == nil {
				entry.Output = raw.Output
				if raw.Model != "" {
					entry.Model = raw.Model
				}
			} else {
				entry.Output = string(body)
			}
			var cut int
			entry.Output, cut = models.Truncate(strings.TrimSpace(entry.Output), models.RawOutputLimit)
			entry.Truncated = cut > 0
			resp.RawOutputs = append(resp.RawOutputs, entry)
		}
	}

	return resp, nil
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var a models.Artifact
	if err := row.Scan(&a.ID, &a.RunID, &a.NodeID, &a.Type, &a.Path, &a.Bytes,
		&a.SHA256, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
