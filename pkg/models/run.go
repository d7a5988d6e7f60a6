// Package models defines the core domain entities and request/response shapes
// shared by the services, queue, and API layers.
package models

import (
	"strings"
	"time"
)

// NormalizeTags splits a comma-separated tag list into lowercase trimmed
// tokens, dropping empties. "TypeScript, NextJS" becomes ["typescript", "nextjs"].
func NormalizeTags(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		tag := strings.ToLower(strings.TrimSpace(p))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Mode selects how the planner spawns nodes for a run.
type Mode string

// Spawning modes.
const (
	ModeSingle     Mode = "single"
	ModeCollective Mode = "collective"
	ModeCascade    Mode = "cascade"
	ModePlan       Mode = "plan"
	ModeSwarm      Mode = "swarm"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeCollective, ModeCascade, ModePlan, ModeSwarm:
		return true
	}
	return false
}

// Budget is a price band over prompt pricing (USD per 1M input tokens).
type Budget string

// Budget bands.
const (
	BudgetLow    Budget = "low"
	BudgetMedium Budget = "medium"
	BudgetHigh   Budget = "high"
	BudgetAny    Budget = "any"
)

// Valid reports whether b is a known budget band.
func (b Budget) Valid() bool {
	switch b {
	case BudgetLow, BudgetMedium, BudgetHigh, BudgetAny:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run lifecycle states. A run is created queued, becomes running on first
// admission, and is never resurrected once terminal.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// Run is a client-submitted task plus everything the queue and executor need
// to drive it to a terminal state.
type Run struct {
	ID              string     `json:"run_id"`
	Task            string     `json:"task"`
	Mode            Mode       `json:"mode"`
	Budget          Budget     `json:"budget"`
	ContextTags     string     `json:"context,omitempty"` // comma-separated lowercase tags
	RoleJSON        string     `json:"role,omitempty"`    // raw role config as submitted
	MergeStyle      string     `json:"merge_style,omitempty"`
	MergeModel      string     `json:"merge_model,omitempty"`
	Status          RunStatus  `json:"status"`
	Error           *string    `json:"error,omitempty"`
	ParamsJSON      string     `json:"params_json,omitempty"` // opaque original input
	RequestedBy     string     `json:"requested_by,omitempty"`
	PodID           *string    `json:"pod_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

// RoleConfig carries the role composition inputs used to build system prompts.
type RoleConfig struct {
	Persona    string   `json:"persona,omitempty"`
	Stack      []string `json:"stack,omitempty"`
	Domain     string   `json:"domain,omitempty"`
	Format     string   `json:"format,omitempty"`
	Guardrails []string `json:"guardrails,omitempty"`
}

// Empty reports whether no role input was provided at all.
func (r *RoleConfig) Empty() bool {
	if r == nil {
		return true
	}
	return r.Persona == "" && len(r.Stack) == 0 && r.Domain == "" &&
		r.Format == "" && len(r.Guardrails) == 0
}

// Merge output styles. Detailed is the default for every mode except
// cascade, which defaults to decision.
const (
	MergeStyleConcise  = "concise"
	MergeStyleDetailed = "detailed"
	MergeStyleDecision = "decision"
)

// MergeConfig overrides the merge node's output style and model.
type MergeConfig struct {
	Style string `json:"style,omitempty"` // concise, detailed, decision
	Model string `json:"model,omitempty"`
}

// CreateRunRequest contains fields for creating a new run.
type CreateRunRequest struct {
	Task            string       `json:"task"`
	Mode            Mode         `json:"mode"`
	Budget          Budget       `json:"budget,omitempty"`
	Context         string       `json:"context,omitempty"`
	CollectiveCount int          `json:"collective_count,omitempty"`
	Role            *RoleConfig  `json:"role,omitempty"`
	Merge           *MergeConfig `json:"merge,omitempty"`
	RequestedBy     string       `json:"-"`
}

// RunFilters contains filtering options for listing runs.
type RunFilters struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunListResponse contains a paginated run list.
type RunListResponse struct {
	Runs       []*Run `json:"runs"`
	TotalCount int    `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}
