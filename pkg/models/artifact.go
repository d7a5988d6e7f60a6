package models

import "time"

// ArtifactType classifies a stored blob.
type ArtifactType string

// Artifact types.
const (
	ArtifactTypeRaw    ArtifactType = "raw"
	ArtifactTypeMerged ArtifactType = "merged"
	ArtifactTypePlan   ArtifactType = "plan"
	ArtifactTypeLog    ArtifactType = "log"
)

// Valid reports whether t is a known artifact type.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactTypeRaw, ArtifactTypeMerged, ArtifactTypePlan, ArtifactTypeLog:
		return true
	}
	return false
}

// Ext returns the file extension used for blobs of this type.
func (t ArtifactType) Ext() string {
	switch t {
	case ArtifactTypeMerged:
		return "md"
	case ArtifactTypeLog:
		return "txt"
	default: // plan, raw
		return "json"
	}
}

// Artifact is the metadata row for an immutable content-addressed blob.
// NodeID is the node's LOCAL id; "merged" and "plan" are reserved. Multiple
// artifacts may exist per (run, node) across retries; lookup returns the
// newest by CreatedAt.
type Artifact struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	NodeID    string       `json:"node_id"`
	Type      ArtifactType `json:"type"`
	Path      string       `json:"path"` // relative to the artifacts root
	Bytes     int64        `json:"bytes"`
	SHA256    string       `json:"sha256"`
	CreatedAt time.Time    `json:"created_at"`
}

// TokenUsage mirrors the completion endpoint's usage block.
type TokenUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
}

// RawOutput is the JSON body of every raw (task-node) artifact.
type RawOutput struct {
	RunID      string     `json:"runId"`
	NodeID     string     `json:"nodeId"`
	Model      string     `json:"model"`
	Task       string     `json:"task"`
	Output     string     `json:"output"`
	Tokens     TokenUsage `json:"tokens"`
	CostUsd    float64    `json:"costUsd"`
	FinishedAt time.Time  `json:"finishedAt"`
}
