package models

import "time"

// EventLevel classifies an audit log entry.
type EventLevel string

// Event levels.
const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Event is one append-only audit record for a run. Events feed progress
// reporting only; the executor never consults them for correctness.
type Event struct {
	ID      int64      `json:"id"`
	RunID   string     `json:"run_id"`
	NodeID  *string    `json:"node_id,omitempty"`
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
	TS      time.Time  `json:"ts"`
}

// CreateEventRequest contains fields for appending an event.
type CreateEventRequest struct {
	RunID   string     `json:"run_id"`
	NodeID  string     `json:"node_id,omitempty"`
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
}

// EventsResponse contains events after a given id, oldest first.
type EventsResponse struct {
	Events []*Event `json:"events"`
}
