package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes runs.
type Worker struct {
	id       string
	podID    string
	runs     *services.RunService
	settings *config.Settings
	queue    *config.QueueConfig
	executor RunExecutor
	pool     RunRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// RunRegistry is the subset of WorkerPool used by Worker for the in-flight set.
type RunRegistry interface {
	RegisterRun(runID string, cancel context.CancelFunc)
	UnregisterRun(runID string)
	InFlight() int
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, runs *services.RunService, settings *config.Settings, queueCfg *config.QueueConfig, executor RunExecutor, pool RunRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		runs:         runs,
		settings:     settings,
		queue:        queueCfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.signalStop()
	w.wg.Wait()
}

// signalStop asks the worker to exit after its current run.
func (w *Worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// wait blocks until the worker loop has exited.
func (w *Worker) wait() {
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a run, and drives it to its end.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check the in-memory in-flight set before touching the store. The
	//    claim below also guards against double delivery; checking here
	//    first keeps idle polls cheap.
	if w.pool.InFlight() >= w.settings.MaxParallelRuns {
		return ErrAtCapacity
	}

	// 2. Claim the oldest queued run
	run, err := w.runs.ClaimNextQueuedRun(ctx, w.podID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return ErrNoRunsAvailable
		}
		return fmt.Errorf("claiming run: %w", err)
	}

	log := slog.With("run_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed", "mode", run.Mode, "budget", run.Budget)

	w.setStatus(WorkerStatusWorking, run.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Create the run context. It carries no deadline: the executor
	//    enforces the run timeout itself from started_at, which survives
	//    pod restarts.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// 4. Register for the in-flight set and the shutdown force-drain
	w.pool.RegisterRun(run.ID, cancelRun)
	defer w.pool.UnregisterRun(run.ID)

	// 5. Start heartbeat so the claim stays visibly alive
	heartbeatCtx, stopHeartbeat := context.WithCancel(runCtx)
	defer stopHeartbeat()
	go w.runHeartbeat(heartbeatCtx, run.ID)

	// 6. Execute the run
	result := w.executor.Execute(runCtx, run)

	// 6a. Nil-guard: after cancellation a nil result just reflects the
	//     shutdown; with a live context it is an executor bug, and leaving
	//     the status empty routes it into the safety net below.
	if result == nil {
		if errors.Is(runCtx.Err(), context.Canceled) {
			result = &ExecutionResult{Status: models.RunStatusCanceled, Err: context.Canceled}
		} else {
			result = &ExecutionResult{Err: errors.New("executor returned nil result")}
		}
	}

	// 7. Stop heartbeat
	stopHeartbeat()

	// 8. Safety net: the executor owns the terminal write. A non-terminal
	//    status here means it bailed out without one; fail the run rather
	//    than leave it wedged in running.
	if !result.Status.IsTerminal() {
		err := w.runs.MarkRunFailed(run.ID, "executor returned no terminal status")
		if err != nil && !errors.Is(err, services.ErrConcurrentModification) {
			log.Error("Safety-net status write failed", "error", err)
			return err
		}
		result.Status = models.RunStatusFailed
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("Run processing complete", "status", result.Status)
	return nil
}

// runHeartbeat periodically refreshes last_heartbeat_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, runID string) {
	ticker := time.NewTicker(w.queue.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runs.Heartbeat(runID); err != nil {
				slog.Warn("Heartbeat update failed", "run_id", runID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.settings.PollInterval
	jitter := w.queue.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
