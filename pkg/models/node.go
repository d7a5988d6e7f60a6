package models

import (
	"fmt"
	"strings"
	"time"
)

// NodeKind distinguishes the two vertex types in a run's DAG.
type NodeKind string

// Node kinds.
const (
	NodeKindTask  NodeKind = "task"
	NodeKindMerge NodeKind = "merge"
)

// NodeStatus is the lifecycle state of a node.
type NodeStatus string

// Node lifecycle states. A transient failure can move running back to queued
// (with the retry counter bumped) when the retry policy permits.
const (
	NodeStatusQueued    NodeStatus = "queued"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusCanceled  NodeStatus = "canceled"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the status is final.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusCanceled, NodeStatusSkipped:
		return true
	}
	return false
}

// Satisfies reports whether a dependency in this status unblocks its dependents.
func (s NodeStatus) Satisfies() bool {
	return s == NodeStatusCompleted || s == NodeStatusSkipped
}

// Meta keys set by the planner and consulted by the executor.
const (
	MetaMode           = "mode"
	MetaTier           = "tier"        // cheap | premium
	MetaConditional    = "conditional" // cascade premium skip gate
	MetaMergeStyle     = "mergeStyle"  // concise | detailed | decision
	MetaPlanningSource = "planningSource"
	MetaPhase          = "phase" // swarm build phase 0-5
)

// Planning sources.
const (
	PlanningSourceAPI      = "api"
	PlanningSourceFallback = "fallback"
)

// NodeMeta is the free-form per-node hint map. Values are strings or bools.
type NodeMeta map[string]any

func (m NodeMeta) str(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Mode returns the spawning mode recorded on the node.
func (m NodeMeta) Mode() string { return m.str(MetaMode) }

// Tier returns the cascade tier hint (cheap or premium).
func (m NodeMeta) Tier() string { return m.str(MetaTier) }

// MergeStyle returns the merge output style hint.
func (m NodeMeta) MergeStyle() string { return m.str(MetaMergeStyle) }

// PlanningSource reports whether the ranker answered or a fallback was used.
func (m NodeMeta) PlanningSource() string { return m.str(MetaPlanningSource) }

// Conditional reports whether the node carries the cascade skip gate.
func (m NodeMeta) Conditional() bool {
	if m == nil {
		return false
	}
	switch v := m[MetaConditional].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Node is a vertex in a run's DAG. Its global id is "runID:localID"; DependsOn
// holds global ids within the same run.
type Node struct {
	ID               string     `json:"id"`
	RunID            string     `json:"run_id"`
	LocalID          string     `json:"local_id"`
	Kind             NodeKind   `json:"kind"`
	Wave             int        `json:"wave"` // advisory only, never a scheduling oracle
	DependsOn        []string   `json:"depends_on,omitempty"`
	Task             string     `json:"task"`
	Model            string     `json:"model"`
	Prompt           string     `json:"prompt,omitempty"`
	Meta             NodeMeta   `json:"meta,omitempty"`
	Status           NodeStatus `json:"status"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	Error            *string    `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	TokensPrompt     int64      `json:"tokens_prompt"`
	TokensCompletion int64      `json:"tokens_completion"`
	CostUsd          float64    `json:"cost_usd"`
}

// MergeNodeLocalID is the reserved local id of a run's terminal merge node.
const MergeNodeLocalID = "merged"

// PlanNodeID is the reserved artifact node id for the plan JSON.
const PlanNodeID = "plan"

// GlobalNodeID builds the store-wide unique node id.
func GlobalNodeID(runID, localID string) string {
	return fmt.Sprintf("%s:%s", runID, localID)
}

// LocalNodeID strips the run prefix from a global node id. Returns the input
// unchanged when it carries no prefix.
func LocalNodeID(globalID string) string {
	if i := strings.LastIndex(globalID, ":"); i >= 0 {
		return globalID[i+1:]
	}
	return globalID
}
