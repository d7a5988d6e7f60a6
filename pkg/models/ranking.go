package models

import "time"

// Wire types for the ranking service. The orchestrator's planner consumes
// these over HTTP; rankd produces them. Field names follow the ranking
// contract's camelCase convention.

// RankedModel is one selection produced by pick or recommend.
type RankedModel struct {
	Model      string    `json:"model"`
	Provider   string    `json:"provider,omitempty"`
	Category   Category  `json:"category"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Tier       ModelTier `json:"tier,omitempty"`
}

// DecomposeRequest asks for a sequential split of a task.
type DecomposeRequest struct {
	Task    string `json:"task"`
	Budget  Budget `json:"budget,omitempty"`
	Context string `json:"context,omitempty"`
}

// Subtask is one part of a decomposed task, re-classified and re-budgeted.
type Subtask struct {
	Task     string   `json:"task"`
	Category Category `json:"category"`
	Budget   Budget   `json:"budget"`
}

// DecomposeResult reports whether a split was found and its parts in order.
type DecomposeResult struct {
	Decomposed bool      `json:"decomposed"`
	Method     string    `json:"method,omitempty"`
	Subtasks   []Subtask `json:"subtasks,omitempty"`
}

// SwarmRequest asks for a DAG split of a task.
type SwarmRequest struct {
	Task        string `json:"task"`
	Budget      Budget `json:"budget,omitempty"`
	Context     string `json:"context,omitempty"`
	MaxParallel int    `json:"maxParallel,omitempty"`
}

// SwarmTask is one vertex of a planned swarm DAG.
type SwarmTask struct {
	ID        string   `json:"id"`
	Task      string   `json:"task"`
	DependsOn []string `json:"dependsOn"`
	Category  Category `json:"category"`
	Budget    Budget   `json:"budget"`
	Phase     int      `json:"phase"`
	Wave      int      `json:"wave"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// CostEstimate bounds the expected spend for a swarm plan.
type CostEstimate struct {
	MinUsd float64 `json:"minUsd"`
	MaxUsd float64 `json:"maxUsd"`
}

// SwarmPlan is the DAG produced by the swarm planner.
type SwarmPlan struct {
	Decomposed bool          `json:"decomposed"`
	Method     string        `json:"method,omitempty"`
	Tasks      []SwarmTask   `json:"tasks,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Cost       *CostEstimate `json:"costEstimate,omitempty"`
}

// ComposeRoleRequest carries the five role inputs plus the task.
type ComposeRoleRequest struct {
	Task       string   `json:"task"`
	Persona    string   `json:"persona,omitempty"`
	Stack      []string `json:"stack,omitempty"`
	Domain     string   `json:"domain,omitempty"`
	Format     string   `json:"format,omitempty"`
	Guardrails []string `json:"guardrails,omitempty"`
}

// ComposedRole is the assembled prompt. Warnings name unknown block keys.
type ComposedRole struct {
	Prompt   string   `json:"prompt"`
	Warnings []string `json:"warnings,omitempty"`
}

// SourceState describes one benchmark source's last refresh outcome.
type SourceState struct {
	Status    string    `json:"status"` // ok | stale
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetchedAt"`
	Error     string    `json:"error,omitempty"`
}

// RankingStatus is the ranking tier's observable state.
type RankingStatus struct {
	ModelCount        int                    `json:"modelCount"`
	SnapshotAt        time.Time              `json:"snapshotAt"`
	Sources           map[string]SourceState `json:"sources"`
	RefreshInProgress bool                   `json:"refreshInProgress"`
}
