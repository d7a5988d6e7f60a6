// Package queue provides run queue management and processing infrastructure.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/troupe-ai/troupe/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no queued runs are waiting.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the concurrent run limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// RunExecutor is the interface for run processing.
//
// The executor owns the ENTIRE run lifecycle internally:
//   - Plans the DAG on first admission (plan artifact + node insertion)
//   - Dispatches ready nodes, enforces the run timeout and the budget cap
//   - Writes node results, artifacts, events, and the terminal run status
//
// The executor writes results PROGRESSIVELY during execution, not at the end.
// The worker only handles: claiming, heartbeat, and a terminal-status safety net.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.Run) *ExecutionResult
}

// ExecutionResult carries just the terminal state. All intermediate state
// (nodes, events, artifacts) was already written by the executor during
// processing.
type ExecutionResult struct {
	Status models.RunStatus // completed, failed, canceled
	Err    error            // error detail (if failed/canceled)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	DBReachable    bool           `json:"db_reachable"`
	DBError        string         `json:"db_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	ActiveRuns     int            `json:"active_runs"`
	MaxConcurrent  int            `json:"max_concurrent"`
	QueueDepth     int            `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
	LastOrphanScan time.Time      `json:"last_orphan_scan"`
	RunsRequeued   int            `json:"runs_requeued"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentRunID  string    `json:"current_run_id,omitempty"`
	RunsProcessed int       `json:"runs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
