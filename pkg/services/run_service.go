package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
)

// runColumns is the scan order shared by every run query. Keep in sync with
// scanRun.
const runColumns = `run_id, task, mode, budget, context_tags, role_json, merge_style,
	merge_model, status, error_message, params_json, requested_by, pod_id,
	created_at, updated_at, started_at, finished_at, last_heartbeat_at`

// RunService manages run lifecycle
type RunService struct {
	db *sql.DB
}

// NewRunService creates a new RunService
func NewRunService(client *database.Client) *RunService {
	return &RunService{db: client.DB()}
}

// CreateRun validates and persists a new run in "queued" status. The worker
// pool picks it up on its next poll.
func (s *RunService) CreateRun(httpCtx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	// Validate input
	if strings.TrimSpace(req.Task) == "" {
		return nil, NewValidationError("task", "required")
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeSingle
	}
	if !mode.Valid() {
		return nil, NewValidationError("mode", fmt.Sprintf("unknown mode '%s'", mode))
	}
	budget := req.Budget
	if budget == "" {
		budget = models.BudgetAny
	}
	if !budget.Valid() {
		return nil, NewValidationError("budget", fmt.Sprintf("unknown budget '%s'", budget))
	}

	var roleJSON string
	if !req.Role.Empty() {
		b, err := json.Marshal(req.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal role: %w", err)
		}
		roleJSON = string(b)
	}

	var mergeStyle, mergeModel string
	if req.Merge != nil {
		mergeStyle = req.Merge.Style
		mergeModel = req.Merge.Model
	}

	paramsJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run params: %w", err)
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := &models.Run{
		ID:          uuid.New().String(),
		Task:        strings.TrimSpace(req.Task),
		Mode:        mode,
		Budget:      budget,
		ContextTags: strings.Join(models.NormalizeTags(req.Context), ","),
		RoleJSON:    roleJSON,
		MergeStyle:  mergeStyle,
		MergeModel:  mergeModel,
		Status:      models.RunStatusQueued,
		ParamsJSON:  string(paramsJSON),
		RequestedBy: req.RequestedBy,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO runs (run_id, task, mode, budget, context_tags, role_json,
			merge_style, merge_model, status, params_json, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		run.ID, run.Task, string(run.Mode), string(run.Budget), run.ContextTags,
		run.RoleJSON, run.MergeStyle, run.MergeModel, string(run.Status),
		run.ParamsJSON, run.RequestedBy,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// GetRun retrieves a run by ID
func (s *RunService) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs with filtering and pagination, newest first.
func (s *RunService) ListRuns(ctx context.Context, filters models.RunFilters) (*models.RunListResponse, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 20 // Default
	}
	if limit > 200 {
		limit = 200
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if filters.Status != "" {
		if !models.RunStatus(filters.Status).Valid() {
			return nil, NewValidationError("status", fmt.Sprintf("unknown status '%s'", filters.Status))
		}
		where = " WHERE status = $1"
		args = append(args, filters.Status)
	}

	var totalCount int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM runs"+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM runs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		runColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return &models.RunListResponse{
		Runs:       runs,
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// ListActiveRuns returns queued and running runs in creation order. The queue
// admits the earliest runs that are not already in flight.
func (s *RunService) ListActiveRuns(ctx context.Context) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE status IN ('queued', 'running') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	return runs, nil
}

// ClaimNextQueuedRun atomically claims the earliest queued run for this pod
// using FOR UPDATE SKIP LOCKED, so two workers can never drive the same run.
// Returns ErrNotFound when the queue is empty.
func (s *RunService) ClaimNextQueuedRun(ctx context.Context, podID string) (*models.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runID string
	err = tx.QueryRowContext(ctx, `
		SELECT run_id FROM runs WHERE status = 'queued'
		ORDER BY created_at ASC LIMIT 1
		FOR UPDATE SKIP LOCKED`).Scan(&runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query queued run: %w", err)
	}

	// started_at survives an orphan re-queue so the run timeout keeps counting
	// from the first claim.
	row := tx.QueryRowContext(ctx, `
		UPDATE runs SET status = 'running', pod_id = $2,
			started_at = COALESCE(started_at, now()),
			last_heartbeat_at = now(), updated_at = now()
		WHERE run_id = $1
		RETURNING `+runColumns, runID, podID)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return run, nil
}

// Heartbeat stamps last_heartbeat_at on a running run so orphan recovery
// knows its worker is alive.
func (s *RunService) Heartbeat(runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET last_heartbeat_at = now()
		WHERE run_id = $1 AND status = 'running'`, runID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// RequeueRunsForPod re-queues every running run owned by the given pod. Called
// once on startup: a freshly started pod cannot own in-flight work, so
// anything still stamped with its id was cut off mid-run.
func (s *RunService) RequeueRunsForPod(httpCtx context.Context, podID string) ([]string, error) {
	return s.requeueRuns(`status = 'running' AND pod_id = $1`,
		"Run re-queued after pod restart", podID)
}

// RequeueStaleRuns re-queues running runs whose heartbeat is older than
// staleAfter. All pods run this scan independently; the guarded update makes
// it idempotent.
func (s *RunService) RequeueStaleRuns(httpCtx context.Context, staleAfter time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-staleAfter)
	return s.requeueRuns(`status = 'running' AND last_heartbeat_at < $1`,
		"Run re-queued after missed heartbeats", cutoff)
}

// requeueRuns flips matching running runs (and their running nodes) back to
// queued in one transaction and records a warning event per run. Runs on a
// background context so recovery survives request cancellation.
func (s *RunService) requeueRuns(where, reason string, arg any) ([]string, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(writeCtx, `
		UPDATE runs SET status = 'queued', pod_id = NULL, updated_at = now()
		WHERE `+where+` RETURNING run_id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to re-queue runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan re-queued run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to re-queue runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(writeCtx, `
			UPDATE nodes SET status = 'queued', updated_at = now()
			WHERE run_id = $1 AND status = 'running'`, id); err != nil {
			return nil, fmt.Errorf("failed to re-queue nodes of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(writeCtx, `
			INSERT INTO events (run_id, level, message) VALUES ($1, 'warning', $2)`,
			id, reason); err != nil {
			return nil, fmt.Errorf("failed to record re-queue event for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit re-queue: %w", err)
	}
	return ids, nil
}

// CountRunsByStatus returns the number of runs in a status, optionally
// restricted to one pod.
func (s *RunService) CountRunsByStatus(ctx context.Context, status models.RunStatus, podID string) (int, error) {
	var (
		count int
		err   error
	)
	if podID == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM runs WHERE status = $1`, string(status)).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM runs WHERE status = $1 AND pod_id = $2`,
			string(status), podID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// CancelRun requests cancellation of a run. Cancelling an already-canceled run
// is a no-op returning the current record; completed and failed runs return
// ErrNotCancellable. Queued nodes are flipped to canceled in the same
// transaction so they are never dispatched.
func (s *RunService) CancelRun(httpCtx context.Context, runID string) (*models.Run, error) {
	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status models.RunStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = $1 FOR UPDATE`, runID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock run: %w", err)
	}

	switch status {
	case models.RunStatusCanceled:
		// Repeat cancel is a no-op
	case models.RunStatusCompleted, models.RunStatusFailed:
		return nil, ErrNotCancellable
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = 'canceled', finished_at = now(), updated_at = now()
			WHERE run_id = $1`, runID); err != nil {
			return nil, fmt.Errorf("failed to cancel run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE nodes SET status = 'canceled', updated_at = now()
			WHERE run_id = $1 AND status = 'queued'`, runID); err != nil {
			return nil, fmt.Errorf("failed to cancel queued nodes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (run_id, level, message)
			VALUES ($1, 'warning', 'Cancellation requested')`, runID); err != nil {
			return nil, fmt.Errorf("failed to record cancel event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel: %w", err)
	}

	return s.GetRun(ctx, runID)
}

// MarkRunCompleted transitions a run to completed. No-op returning
// ErrConcurrentModification if the run is already terminal.
func (s *RunService) MarkRunCompleted(runID string) error {
	return s.terminalUpdate(runID, models.RunStatusCompleted, nil)
}

// MarkRunFailed transitions a run to failed with the given reason.
func (s *RunService) MarkRunFailed(runID, message string) error {
	return s.terminalUpdate(runID, models.RunStatusFailed, &message)
}

// MarkRunCanceled transitions a run to canceled on the executor's behalf
// (budget stop). User-initiated cancellation goes through CancelRun.
func (s *RunService) MarkRunCanceled(runID, message string) error {
	return s.terminalUpdate(runID, models.RunStatusCanceled, &message)
}

// terminalUpdate flips a run to a terminal status exactly once. Uses a
// background context so shutdown or request cancellation cannot lose the
// final state.
func (s *RunService) terminalUpdate(runID string, status models.RunStatus, message *string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, error_message = $3, finished_at = now(), updated_at = now()
		WHERE run_id = $1 AND status NOT IN ('completed', 'failed', 'canceled')`,
		runID, string(status), message)
	if err != nil {
		return fmt.Errorf("failed to mark run %s: %w", status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// GetRunStatus assembles the live status payload: run state, per-node
// summaries, progress counters and the most recent event message.
func (s *RunService) GetRunStatus(ctx context.Context, runID string) (*models.RunStatusResponse, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, kind, task, model, status, wave, retry_count, cost_usd, error_message
		FROM nodes WHERE run_id = $1
		ORDER BY wave ASC, created_at ASC, local_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	resp := &models.RunStatusResponse{
		RunID:     run.ID,
		Status:    run.Status,
		Error:     run.Error,
		UpdatedAt: run.UpdatedAt,
	}
	for rows.Next() {
		var (
			n      models.NodeSummary
			errMsg sql.NullString
		)
		if err := rows.Scan(&n.NodeID, &n.Kind, &n.Task, &n.Model, &n.Status,
			&n.Wave, &n.Retries, &n.CostUsd, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Error = nullStr(errMsg)
		resp.Nodes = append(resp.Nodes, n)

		resp.Progress.Total++
		switch n.Status {
		case models.NodeStatusCompleted, models.NodeStatusSkipped:
			resp.Progress.Done++
		case models.NodeStatusRunning:
			resp.Progress.Running++
		case models.NodeStatusFailed:
			resp.Progress.Failed++
		}
		resp.CostUsd += n.CostUsd
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	if resp.Progress.Total > 0 {
		pct := 100 * float64(resp.Progress.Done) / float64(resp.Progress.Total)
		resp.Progress.Percent = math.Round(pct*100) / 100
	}

	var lastEvent string
	err = s.db.QueryRowContext(ctx, `
		SELECT message FROM events WHERE run_id = $1
		ORDER BY event_id DESC LIMIT 1`, runID).Scan(&lastEvent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last event: %w", err)
	}
	resp.LastEvent = lastEvent

	return resp, nil
}

// PurgeTerminalRunsBefore deletes terminal runs finished before cutoff and
// returns their ids so the caller can remove artifact blobs. Node, event and
// artifact rows go with the run via ON DELETE CASCADE.
func (s *RunService) PurgeTerminalRunsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(writeCtx, `
		DELETE FROM runs
		WHERE status IN ('completed', 'failed', 'canceled') AND finished_at < $1
		RETURNING run_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan purged run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to purge runs: %w", err)
	}
	return ids, nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run        models.Run
		errMsg     sql.NullString
		podID      sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		heartbeat  sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Task, &run.Mode, &run.Budget, &run.ContextTags,
		&run.RoleJSON, &run.MergeStyle, &run.MergeModel, &run.Status, &errMsg,
		&run.ParamsJSON, &run.RequestedBy, &podID, &run.CreatedAt, &run.UpdatedAt,
		&startedAt, &finishedAt, &heartbeat); err != nil {
		return nil, err
	}
	run.Error = nullStr(errMsg)
	run.PodID = nullStr(podID)
	run.StartedAt = nullTime(startedAt)
	run.FinishedAt = nullTime(finishedAt)
	run.LastHeartbeatAt = nullTime(heartbeat)
	return &run, nil
}
