package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
)

// nodeColumns is the scan order shared by every node query. Keep in sync with
// scanNode.
const nodeColumns = `node_id, run_id, local_id, kind, wave, depends_on, task, model,
	prompt, meta, status, retry_count, max_retries, error_message,
	created_at, updated_at, started_at, finished_at,
	tokens_prompt, tokens_completion, cost_usd`

// NodeService manages the nodes of a run's DAG
type NodeService struct {
	db     *sql.DB
	masker MessageMasker
}

// NewNodeService creates a new NodeService. masker may be nil to disable
// redaction of stored error text.
func NewNodeService(client *database.Client, masker MessageMasker) *NodeService {
	return &NodeService{db: client.DB(), masker: masker}
}

// CreateNodes inserts a run's full DAG in a single transaction. Node ids must
// already be in global form and depends_on rewritten to match; a duplicate
// (run_id, local_id) pair fails the whole batch with ErrAlreadyExists.
func (s *NodeService) CreateNodes(httpCtx context.Context, nodes []*models.Node) error {
	if len(nodes) == 0 {
		return NewValidationError("nodes", "required")
	}
	for _, n := range nodes {
		if n.LocalID == "" {
			return NewValidationError("local_id", "required")
		}
		if n.Kind != models.NodeKindTask && n.Kind != models.NodeKindMerge {
			return NewValidationError("kind", fmt.Sprintf("unknown kind '%s'", n.Kind))
		}
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, n := range nodes {
		if n.Status == "" {
			n.Status = models.NodeStatusQueued
		}
		dependsOn, err := json.Marshal(n.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to marshal depends_on for %s: %w", n.ID, err)
		}
		meta := []byte("{}")
		if len(n.Meta) > 0 {
			if meta, err = json.Marshal(n.Meta); err != nil {
				return fmt.Errorf("failed to marshal meta for %s: %w", n.ID, err)
			}
		}

		n.CreatedAt = now
		n.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (node_id, run_id, local_id, kind, wave, depends_on,
				task, model, prompt, meta, status, retry_count, max_retries,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			n.ID, n.RunID, n.LocalID, string(n.Kind), n.Wave, string(dependsOn),
			n.Task, n.Model, n.Prompt, string(meta), string(n.Status),
			n.RetryCount, n.MaxRetries, n.CreatedAt, n.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit nodes: %w", err)
	}
	return nil
}

// GetNode retrieves a node by its global id
func (s *NodeService) GetNode(ctx context.Context, nodeID string) (*models.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE node_id = $1`, nodeID)
	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// ListNodes returns all nodes of a run grouped by wave. The executor derives
// the ready set from a fresh listing on every tick; nothing is cached.
func (s *NodeService) ListNodes(ctx context.Context, runID string) ([]*models.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes
		WHERE run_id = $1 ORDER BY wave ASC, created_at ASC, local_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

// MarkNodeRunning transitions queued → running and stamps started_at. Returns
// ErrConcurrentModification if the node is no longer queued.
func (s *NodeService) MarkNodeRunning(nodeID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'running', started_at = now(), updated_at = now()
		WHERE node_id = $1 AND status = 'queued'`, nodeID)
	if err != nil {
		return fmt.Errorf("failed to mark node running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// CompleteNode records token usage and cost and transitions running → completed.
// Any transient error text from earlier attempts is cleared.
func (s *NodeService) CompleteNode(nodeID string, tokensPrompt, tokensCompletion int64, costUsd float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'completed', error_message = NULL,
			tokens_prompt = $2, tokens_completion = $3, cost_usd = $4,
			finished_at = now(), updated_at = now()
		WHERE node_id = $1 AND status = 'running'`,
		nodeID, tokensPrompt, tokensCompletion, costUsd)
	if err != nil {
		return fmt.Errorf("failed to complete node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// FailNode transitions running → failed with the given reason. Error text
// can embed upstream response bodies, so it passes through the masker.
func (s *NodeService) FailNode(nodeID, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.masker != nil {
		message = s.masker.MaskText(message)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'failed', error_message = $2,
			finished_at = now(), updated_at = now()
		WHERE node_id = $1 AND status = 'running'`, nodeID, message)
	if err != nil {
		return fmt.Errorf("failed to mark node failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// SkipNode transitions queued → skipped, recording the reason in the error
// field. Used by the cascade quality gate.
func (s *NodeService) SkipNode(nodeID, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'skipped', error_message = $2,
			finished_at = now(), updated_at = now()
		WHERE node_id = $1 AND status = 'queued'`, nodeID, reason)
	if err != nil {
		return fmt.Errorf("failed to skip node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// CancelNode transitions a non-terminal node to canceled. Used when the run
// goes terminal while calls are still in flight.
func (s *NodeService) CancelNode(nodeID, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'canceled', error_message = $2,
			finished_at = now(), updated_at = now()
		WHERE node_id = $1 AND status IN ('queued', 'running')`, nodeID, reason)
	if err != nil {
		return fmt.Errorf("failed to cancel node: %w", err)
	}
	return nil
}

// CancelPendingNodes flips every queued or running node of a run to canceled.
// Returns the number of nodes affected.
func (s *NodeService) CancelPendingNodes(runID, reason string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'canceled', error_message = $2,
			finished_at = now(), updated_at = now()
		WHERE run_id = $1 AND status IN ('queued', 'running')`, runID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending nodes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RequeueForRetry re-enqueues a running node after a transient failure,
// bumping the retry counter and recording the error text. All other fields
// are preserved.
func (s *NodeService) RequeueForRetry(nodeID, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.masker != nil {
		message = s.masker.MaskText(message)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 'queued', retry_count = retry_count + 1,
			error_message = $2, updated_at = now()
		WHERE node_id = $1 AND status = 'running'`, nodeID, message)
	if err != nil {
		return fmt.Errorf("failed to requeue node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// SumCost returns the accumulated USD spend across all nodes of a run.
func (s *NodeService) SumCost(ctx context.Context, runID string) (float64, error) {
	var cost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM nodes WHERE run_id = $1`, runID).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("failed to sum node cost: %w", err)
	}
	return cost, nil
}

// SumUsage returns aggregate token counts and USD spend for a run.
func (s *NodeService) SumUsage(ctx context.Context, runID string) (models.CostSummary, error) {
	var sum models.CostSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_prompt), 0), COALESCE(SUM(tokens_completion), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM nodes WHERE run_id = $1`, runID).Scan(&sum.Prompt, &sum.Completion, &sum.Usd)
	if err != nil {
		return sum, fmt.Errorf("failed to sum node usage: %w", err)
	}
	return sum, nil
}

func scanNode(row rowScanner) (*models.Node, error) {
	var (
		node       models.Node
		dependsOn  string
		meta       string
		errMsg     sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := row.Scan(&node.ID, &node.RunID, &node.LocalID, &node.Kind, &node.Wave,
		&dependsOn, &node.Task, &node.Model, &node.Prompt, &meta, &node.Status,
		&node.RetryCount, &node.MaxRetries, &errMsg, &node.CreatedAt, &node.UpdatedAt,
		&startedAt, &finishedAt, &node.TokensPrompt, &node.TokensCompletion,
		&node.CostUsd); err != nil {
		return nil, err
	}
	if dependsOn != "" {
		if err := json.Unmarshal([]byte(dependsOn), &node.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to parse depends_on for %s: %w", node.ID, err)
		}
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &node.Meta); err != nil {
			return nil, fmt.Errorf("failed to parse meta for %s: %w", node.ID, err)
		}
	}
	node.Error = nullStr(errMsg)
	node.StartedAt = nullTime(startedAt)
	node.FinishedAt = nullTime(finishedAt)
	return &node, nil
}
