package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
)

// WorkerPool manages a pool of queue workers. It also holds the in-memory
// in-flight set: a run is never driven by two workers of this pod at once,
// and the set size gates dispatch before any store query happens.
type WorkerPool struct {
	podID    string
	runs     *services.RunService
	settings *config.Settings
	queue    *config.QueueConfig
	executor RunExecutor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Run cancel registry: run_id → cancel function
	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool

	// Orphan scan state
	orphans orphanState

	// Optional warnings sink for surfacing orphan recoveries.
	warnings *services.SystemWarningsService
}

// SetWarningsService wires the system warnings sink. Call before Start.
func (p *WorkerPool) SetWarningsService(w *services.SystemWarningsService) {
	p.warnings = w
}

// NewWorkerPool creates a new worker pool. One worker is spawned per run
// slot, so the worker count equals Settings.MaxParallelRuns.
func NewWorkerPool(podID string, runs *services.RunService, cfg *config.Config, executor RunExecutor) *WorkerPool {
	return &WorkerPool{
		podID:      podID,
		runs:       runs,
		settings:   cfg.Settings,
		queue:      cfg.Queue,
		executor:   executor,
		workers:    make([]*Worker, 0, cfg.Settings.MaxParallelRuns),
		stopCh:     make(chan struct{}),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Start re-queues this pod's leftover runs, spawns the workers, and begins
// the periodic orphan scan. Subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	// A run claimed by a previous incarnation of this pod is stuck in
	// running with nobody driving it. Flip it (and its running nodes) back
	// to queued before accepting new work.
	requeued, err := p.runs.RequeueRunsForPod(ctx, p.podID)
	if err != nil {
		return fmt.Errorf("startup re-queue failed: %w", err)
	}
	if len(requeued) > 0 {
		slog.Warn("Re-queued runs from previous pod incarnation",
			"pod_id", p.podID,
			"count", len(requeued),
			"run_ids", requeued)
	}

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.settings.MaxParallelRuns)

	for i := 0; i < p.settings.MaxParallelRuns; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.runs, p.settings, p.queue, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	// Start the orphan scan
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanScan(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for in-flight runs to finish.
// Runs still in flight after GracefulShutdownTimeout get their contexts
// canceled; the startup re-queue recovers them on the next boot.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeRunIDs()
	if len(active) > 0 {
		slog.Info("Waiting for in-flight runs to complete",
			"count", len(active),
			"run_ids", active)
	}

	// Signal all workers to stop (they finish current runs)
	for _, worker := range p.workers {
		worker.signalStop()
	}

	// Signal the orphan scan to stop
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.wait()
		}
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.queue.GracefulShutdownTimeout):
		canceled := p.cancelAllRuns()
		slog.Warn("Graceful drain timed out, canceling in-flight runs",
			"count", canceled,
			"timeout", p.queue.GracefulShutdownTimeout)
		<-done
	}

	slog.Info("Worker pool stopped gracefully")
}

// RegisterRun stores a cancel function for the in-flight set.
func (p *WorkerPool) RegisterRun(runID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[runID] = cancel
}

// UnregisterRun removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, runID)
}

// InFlight returns the number of runs currently driven by this pod.
func (p *WorkerPool) InFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.activeRuns)
}

// CancelRun triggers context cancellation for a run driven by this pod.
// Returns true if the run was found in the in-flight set.
func (p *WorkerPool) CancelRun(runID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeRuns[runID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.runs.CountRunsByStatus(ctx, models.RunStatusQueued, "")
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID,
			"error", errQ)
	}

	activeRuns, errA := p.runs.CountRunsByStatus(ctx, models.RunStatusRunning, p.podID)
	if errA != nil {
		slog.Error("Failed to query active runs for health check",
			"pod_id", p.podID,
			"error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	// DB errors affect health status: unreachable store means not healthy.
	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeRuns <= p.settings.MaxParallelRuns && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastScan
	runsRequeued := p.orphans.runsRequeued
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active runs query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:      isHealthy,
		DBReachable:    dbHealthy,
		DBError:        dbError,
		PodID:          p.podID,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		ActiveRuns:     activeRuns,
		MaxConcurrent:  p.settings.MaxParallelRuns,
		QueueDepth:     queueDepth,
		WorkerStats:    workerStats,
		LastOrphanScan: lastOrphanScan,
		RunsRequeued:   runsRequeued,
	}
}

// activeRunIDs returns IDs of currently processing runs (for logging).
func (p *WorkerPool) activeRunIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeRuns))
	for id := range p.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

// cancelAllRuns fires every registered cancel function and reports how many.
func (p *WorkerPool) cancelAllRuns() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cancel := range p.activeRuns {
		cancel()
	}
	return len(p.activeRuns)
}
