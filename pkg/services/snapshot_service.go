package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/troupe-ai/troupe/pkg/database"
)

// SnapshotService persists catalog snapshots so a restart can serve picks
// before the first background refresh completes.
type SnapshotService struct {
	db *sql.DB
}

// NewSnapshotService creates a new SnapshotService
func NewSnapshotService(client *database.Client) *SnapshotService {
	return &SnapshotService{db: client.DB()}
}

// SaveSnapshot upserts the serialized catalog under key.
func (s *SnapshotService) SaveSnapshot(httpCtx context.Context, key string, payload []byte) error {
	if key == "" {
		return NewValidationError("key", "required")
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ranker_snapshots (snapshot_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (snapshot_key) DO UPDATE
			SET payload = EXCLUDED.payload, updated_at = now()`,
		key, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the payload stored under key and its write time.
func (s *SnapshotService) LoadSnapshot(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		payload   string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, updated_at FROM ranker_snapshots WHERE snapshot_key = $1`,
		key).Scan(&payload, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return []byte(payload), updatedAt, nil
}
