package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/troupe-ai/troupe/pkg/services"
)

// orphanState tracks orphan scan metrics (thread-safe).
type orphanState struct {
	mu           sync.Mutex
	lastScan     time.Time
	runsRequeued int
}

// orphanScanInterval is how often each pod looks for runs whose claimant
// stopped heartbeating. Every pod scans independently; re-queueing is
// idempotent so overlapping scans are harmless.
const orphanScanInterval = time.Minute

// runOrphanScan periodically recovers runs abandoned by dead pods.
func (p *WorkerPool) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(orphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.recoverStaleRuns(ctx); err != nil {
				slog.Error("Orphan scan failed", "error", err)
			}
		}
	}
}

// recoverStaleRuns re-queues running runs whose heartbeat is older than the
// configured threshold. Recovery is non-destructive: the run goes back to
// queued with its nodes, and any pod may claim it again. Live runs are safe
// because their heartbeat keeps ticking for as long as the executor does.
func (p *WorkerPool) recoverStaleRuns(ctx context.Context) error {
	ids, err := p.runs.RequeueStaleRuns(ctx, p.queue.OrphanThreshold)
	if err != nil {
		return err
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.runsRequeued += len(ids)
	p.orphans.mu.Unlock()

	if len(ids) > 0 {
		slog.Warn("Re-queued orphaned runs", "count", len(ids), "run_ids", ids)
		if p.warnings != nil {
			p.warnings.AddWarning(services.WarningCategoryOrphanedRuns,
				fmt.Sprintf("Re-queued %d run(s) abandoned by a dead pod", len(ids)),
				strings.Join(ids, ", "), p.podID)
		}
	}
	return nil
}
