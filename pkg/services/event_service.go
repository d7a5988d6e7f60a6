package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
)

// MessageMasker redacts secrets from event text before it is persisted.
type MessageMasker interface {
	MaskText(data string) string
}

// EventService appends and reads the per-run execution log
type EventService struct {
	db     *sql.DB
	masker MessageMasker
}

// NewEventService creates a new EventService. masker may be nil to disable
// redaction (tests).
func NewEventService(client *database.Client, masker MessageMasker) *EventService {
	return &EventService{db: client.DB(), masker: masker}
}

// Append records one event. Events feed progress displays only; the executor
// never reads them back for scheduling decisions.
func (s *EventService) Append(httpCtx context.Context, req models.CreateEventRequest) (*models.Event, error) {
	if req.RunID == "" {
		return nil, NewValidationError("run_id", "required")
	}
	if req.Message == "" {
		return nil, NewValidationError("message", "required")
	}
	level := req.Level
	if level == "" {
		level = models.EventLevelInfo
	}

	message := req.Message
	if s.masker != nil {
		message = s.masker.MaskText(message)
	}
	var nodeID *string
	if req.NodeID != "" {
		nodeID = &req.NodeID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evt := &models.Event{
		RunID:   req.RunID,
		NodeID:  nodeID,
		Level:   level,
		Message: message,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (run_id, node_id, level, message)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id, ts`,
		req.RunID, nodeID, string(level), message,
	).Scan(&evt.ID, &evt.TS)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return evt, nil
}

// GetEventsSince retrieves a run's events with id greater than sinceID,
// oldest first.
func (s *EventService) GetEventsSince(ctx context.Context, runID string, sinceID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, run_id, node_id, level, message, ts
		FROM events WHERE run_id = $1 AND event_id > $2
		ORDER BY event_id ASC LIMIT $3`, runID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			evt    models.Event
			nodeID sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.RunID, &nodeID, &evt.Level, &evt.Message, &evt.TS); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.NodeID = nullStr(nodeID)
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// CleanupExpiredEvents trims events older than the TTL from runs that
// already reached a terminal state. The feed exists for live monitoring;
// node rows and artifacts remain the durable record. Events of queued and
// running runs are never touched, and run deletion cascades to whatever
// is left.
func (s *EventService) CleanupExpiredEvents(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	cutoff := time.Now().Add(-ttl)

	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		DELETE FROM events WHERE ts < $1 AND run_id IN (
			SELECT run_id FROM runs
			WHERE status IN ('completed', 'failed', 'canceled'))`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
