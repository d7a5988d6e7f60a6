package models

import "time"

// RunProgress summarizes node states for the status endpoint. Done counts
// completed plus skipped nodes; Percent is rounded to two decimals.
type RunProgress struct {
	Total   int     `json:"total"`
	Done    int     `json:"done"`
	Running int     `json:"running"`
	Failed  int     `json:"failed"`
	Percent float64 `json:"percent"`
}

// NodeSummary is the per-node view embedded in status and result payloads.
// NodeID is the run-local id.
type NodeSummary struct {
	NodeID  string     `json:"node_id"`
	Kind    NodeKind   `json:"kind"`
	Task    string     `json:"task,omitempty"`
	Model   string     `json:"model,omitempty"`
	Status  NodeStatus `json:"status"`
	Wave    int        `json:"wave"`
	Retries int        `json:"retries"`
	CostUsd float64    `json:"cost_usd"`
	Error   *string    `json:"error,omitempty"`
}

// RunStatusResponse is the live view of a run's execution.
type RunStatusResponse struct {
	RunID     string        `json:"run_id"`
	Status    RunStatus     `json:"status"`
	Progress  RunProgress   `json:"progress"`
	Nodes     []NodeSummary `json:"nodes,omitempty"`
	CostUsd   float64       `json:"cost_usd"`
	LastEvent string        `json:"last_event,omitempty"`
	Error     *string       `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CostSummary aggregates token usage and spend across all nodes of a run.
type CostSummary struct {
	Prompt     int64   `json:"prompt"`
	Completion int64   `json:"completion"`
	Usd        float64 `json:"usd"`
}

// RawOutputEntry is one task-node's raw output inside a result payload.
// Output is truncated to RawOutputLimit characters.
type RawOutputEntry struct {
	NodeID    string `json:"node_id"`
	Model     string `json:"model,omitempty"`
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`
}

// RawOutputLimit caps each raw output embedded in a result payload.
const RawOutputLimit = 12000

// RunResultResponse is the terminal output bundle for a run.
type RunResultResponse struct {
	RunID        string           `json:"run_id"`
	Status       RunStatus        `json:"status"`
	MergedOutput string           `json:"merged_output,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	Artifacts    []*Artifact      `json:"artifacts"`
	Cost         CostSummary      `json:"cost"`
	RawOutputs   []RawOutputEntry `json:"raw_outputs,omitempty"`
	Error        *string          `json:"error,omitempty"`
}

// PlannedRun is the planner's static output: the node list plus a short
// human-readable summary. The executor never re-plans.
type PlannedRun struct {
	RunID   string  `json:"run_id"`
	Mode    Mode    `json:"mode"`
	Summary string  `json:"summary"`
	Nodes   []*Node `json:"nodes"`
}
