// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/troupe-ai/troupe/pkg/artifacts"
	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/services"
)

// Service periodically enforces retention policies:
//   - Purges terminal runs past the retention window, rows and blobs both
//   - Trims expired event feeds of terminal runs
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config       *config.RetentionConfig
	runService   *services.RunService
	eventService *services.EventService
	store        *artifacts.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	runService *services.RunService,
	eventService *services.EventService,
	store *artifacts.Store,
) *Service {
	return &Service{
		config:       cfg,
		runService:   runService,
		eventService: eventService,
		store:        store,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention_days", s.config.RunRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeOldRuns(ctx)
	s.trimExpiredEvents(ctx)
}

// purgeOldRuns deletes terminal runs past the retention window. Node, event
// and artifact rows cascade with the run row; the blob directory is removed
// afterwards. A blob removal failure is logged and left for the next pass,
// since the rows are already gone and a retried purge will not see the run.
func (s *Service) purgeOldRuns(_ context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RunRetentionDays)
	ids, err := s.runService.PurgeTerminalRunsBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: run purge failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	failed := 0
	for _, id := range ids {
		if err := s.store.RemoveRun(id); err != nil {
			slog.Error("Retention: artifact blob removal failed", "run_id", id, "error", err)
			failed++
		}
	}
	slog.Info("Retention: purged old runs", "count", len(ids), "blob_failures", failed)
}

func (s *Service) trimExpiredEvents(_ context.Context) {
	count, err := s.eventService.CleanupExpiredEvents(context.Background(), s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: trimmed expired events", "count", count)
	}
}
