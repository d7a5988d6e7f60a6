package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/troupe-ai/troupe/pkg/completion"
	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
)

// idleSleep is the executor's tick pause when nothing can be dispatched.
const idleSleep = 200 * time.Millisecond

// RunPlanner produces the static DAG for a run on first admission.
type RunPlanner interface {
	Plan(ctx context.Context, run *models.Run) (*models.PlannedRun, error)
}

// CompletionClient is the chat-completion surface the executor calls for
// every task and merge node.
type CompletionClient interface {
	Complete(ctx context.Context, model, prompt string) (*completion.Result, error)
	Configured() bool
}

// Executor drives a claimed run's DAG to a terminal state: it plans on first
// admission, dispatches ready nodes up to the per-run parallelism cap, and
// writes artifacts, events, and status transitions as it goes. The store is
// the only coordination channel; each tick re-reads the run and its nodes.
type Executor struct {
	runs       *services.RunService
	nodes      *services.NodeService
	artifacts  *services.ArtifactService
	events     *services.EventService
	planner    RunPlanner
	completion CompletionClient
	settings   *config.Settings
}

// NewExecutor wires an executor over the store services.
func NewExecutor(
	runs *services.RunService,
	nodes *services.NodeService,
	artifacts *services.ArtifactService,
	events *services.EventService,
	planner RunPlanner,
	completionClient CompletionClient,
	settings *config.Settings,
) *Executor {
	return &Executor{
		runs:       runs,
		nodes:      nodes,
		artifacts:  artifacts,
		events:     events,
		planner:    planner,
		completion: completionClient,
		settings:   settings,
	}
}

// Execute advances the run until it reaches a terminal state or the context
// is canceled. The returned result mirrors the terminal status Execute wrote;
// on context cancellation no status is written here, leaving the run for the
// re-queue paths.
func (e *Executor) Execute(ctx context.Context, run *models.Run) *ExecutionResult {
	log := slog.With("run_id", run.ID, "mode", run.Mode)

	if result := e.admit(ctx, run, log); result != nil {
		return result
	}
	return e.loop(ctx, run, log)
}

// admit plans the run when it has no nodes yet. Re-claimed runs (pod restart,
// orphan recovery) already have their DAG and skip straight to the loop. A
// non-nil result short-circuits execution.
func (e *Executor) admit(ctx context.Context, run *models.Run, log *slog.Logger) *ExecutionResult {
	existing, err := e.nodes.ListNodes(ctx, run.ID)
	if err != nil {
		return e.failRun(run, fmt.Sprintf("Node listing failed: %v", err), log)
	}
	if len(existing) > 0 {
		log.Info("Run already planned, resuming", "nodes", len(existing))
		return nil
	}

	plan, err := e.planner.Plan(ctx, run)
	if err != nil {
		return e.failRun(run, fmt.Sprintf("Planning failed: %v", err), log)
	}
	if len(plan.Nodes) == 0 {
		return e.failRun(run, "Planner returned no nodes", log)
	}

	// The plan artifact keeps the planner's local ids; rewriting to global
	// ids happens afterwards, on the copies headed for insertion.
	if body, merr := json.MarshalIndent(plan, "", "  "); merr == nil {
		if _, serr := e.artifacts.SaveArtifact(ctx, run.ID, models.PlanNodeID, models.ArtifactTypePlan, body); serr != nil {
			log.Warn("Plan artifact write failed", "error", serr)
		}
	}

	for _, n := range plan.Nodes {
		n.ID = models.GlobalNodeID(run.ID, n.LocalID)
		for i, dep := range n.DependsOn {
			n.DependsOn[i] = models.GlobalNodeID(run.ID, dep)
		}
	}
	if err := e.nodes.CreateNodes(ctx, plan.Nodes); err != nil {
		return e.failRun(run, fmt.Sprintf("Node insertion failed: %v", err), log)
	}

	e.appendEvent(run.ID, "", models.EventLevelInfo, "Run planned: "+plan.Summary)
	log.Info("Run planned", "nodes", len(plan.Nodes), "summary", plan.Summary)
	return nil
}

// loop is the scheduling tick. Each iteration re-reads the run and the full
// node listing; dependency state in the store is the sole ordering oracle.
// Wave numbers never gate dispatch.
func (e *Executor) loop(ctx context.Context, run *models.Run, log *slog.Logger) *ExecutionResult {
	for {
		if ctx.Err() != nil {
			// Claim context gone: user cancellation (status already written
			// by the API) or pod shutdown (re-queue recovers the run). The
			// store, not this process, holds the final word.
			log.Info("Run context canceled, stopping executor")
			return &ExecutionResult{Status: models.RunStatusCanceled, Err: ctx.Err()}
		}

		// 1. Refresh the run; a terminal status ends the loop.
		current, err := e.runs.GetRun(ctx, run.ID)
		if err != nil {
			return e.failRun(run, fmt.Sprintf("Run refresh failed: %v", err), log)
		}
		if current.Status.IsTerminal() {
			log.Info("Run reached terminal state", "status", current.Status)
			return &ExecutionResult{Status: current.Status}
		}

		// 2. Wall clock since the first claim.
		if current.StartedAt != nil && time.Since(*current.StartedAt) > e.settings.RunTimeout {
			return e.failRun(run, "Run timed out", log)
		}

		nodes, err := e.nodes.ListNodes(ctx, run.ID)
		if err != nil {
			return e.failRun(run, fmt.Sprintf("Node listing failed: %v", err), log)
		}

		// 3. Every node terminal: the run's own terminal state follows.
		if allTerminal(nodes) {
			if n := countStatus(nodes, models.NodeStatusFailed); n > 0 {
				return e.failRun(run, fmt.Sprintf("%d node(s) failed", n), log)
			}
			return e.completeRun(ctx, current, nodes, log)
		}

		// 4. Per-run parallelism cap.
		running := countStatus(nodes, models.NodeStatusRunning)
		if running >= e.settings.MaxParallelNodesPerRun {
			e.sleep(ctx, idleSleep)
			continue
		}

		// 5. Ready set from this tick's fresh listing.
		ready := readyNodes(nodes)
		if len(ready) == 0 {
			// Nothing running and nothing ready means the DAG is wedged
			// behind a failure; fail now instead of spinning until the
			// run timeout.
			if running == 0 {
				if n := countStatus(nodes, models.NodeStatusFailed); n > 0 {
					return e.failRun(run, fmt.Sprintf("%d node(s) failed", n), log)
				}
			}
			e.sleep(ctx, idleSleep)
			continue
		}

		// 6. Dispatch up to the free slots and await the batch.
		if slots := e.settings.MaxParallelNodesPerRun - running; len(ready) > slots {
			ready = ready[:slots]
		}
		var wg sync.WaitGroup
		for _, node := range ready {
			wg.Add(1)
			go func(n *models.Node) {
				defer wg.Done()
				e.executeNode(ctx, current, n, nodes)
			}(node)
		}
		wg.Wait()
	}
}

// completeRun makes the merged artifact the last write before the terminal
// flip to completed.
func (e *Executor) completeRun(ctx context.Context, run *models.Run, nodes []*models.Node, log *slog.Logger) *ExecutionResult {
	if err := e.ensureMergedArtifact(ctx, run, nodes); err != nil {
		return e.failRun(run, fmt.Sprintf("Merged artifact synthesis failed: %v", err), log)
	}

	if err := e.runs.MarkRunCompleted(run.ID); err != nil {
		if errors.Is(err, services.ErrConcurrentModification) {
			// A cancellation won the race after the last node finished.
			if current, gerr := e.runs.GetRun(context.Background(), run.ID); gerr == nil {
				return &ExecutionResult{Status: current.Status}
			}
			return &ExecutionResult{Status: models.RunStatusCanceled}
		}
		return e.failRun(run, fmt.Sprintf("Completion write failed: %v", err), log)
	}

	e.appendEvent(run.ID, "", models.EventLevelInfo, "Run completed")
	log.Info("Run completed")
	return &ExecutionResult{Status: models.RunStatusCompleted}
}

// failRun writes the failed status plus an error event and builds the result.
// Losing the terminal race is fine; the store already holds another verdict.
func (e *Executor) failRun(run *models.Run, reason string, log *slog.Logger) *ExecutionResult {
	log.Error("Run failed", "reason", reason)
	if err := e.runs.MarkRunFailed(run.ID, reason); err != nil && !errors.Is(err, services.ErrConcurrentModification) {
		log.Error("Terminal status write failed", "error", err)
	}
	e.appendEvent(run.ID, "", models.EventLevelError, reason)
	return &ExecutionResult{Status: models.RunStatusFailed, Err: errors.New(reason)}
}

// checkBudget runs after every node completion. A cost strictly over the cap
// cancels the run and its pending nodes; in-flight calls finish naturally and
// the loop exits on its next refresh, so one node of overrun is tolerated.
func (e *Executor) checkBudget(ctx context.Context, run *models.Run) {
	cost, err := e.nodes.SumCost(ctx, run.ID)
	if err != nil {
		slog.Warn("Cost summation failed", "run_id", run.ID, "error", err)
		return
	}
	if cost <= e.settings.MaxUsdPerRun {
		return
	}

	slog.Warn("Run exceeded budget",
		"run_id", run.ID,
		"cost_usd", cost,
		"max_usd_per_run", e.settings.MaxUsdPerRun)

	if err := e.runs.MarkRunCanceled(run.ID, "Budget limit reached"); err != nil {
		if !errors.Is(err, services.ErrConcurrentModification) {
			slog.Error("Budget cancel write failed", "run_id", run.ID, "error", err)
		}
		return
	}
	if _, err := e.nodes.CancelPendingNodes(run.ID, "Budget limit reached"); err != nil {
		slog.Error("Pending node cancel failed", "run_id", run.ID, "error", err)
	}
	e.appendEvent(run.ID, "", models.EventLevelWarning, "Budget limit reached")
}

// appendEvent writes an audit event; failures only log. Events feed progress
// reporting, never correctness.
func (e *Executor) appendEvent(runID, nodeID string, level models.EventLevel, message string) {
	_, err := e.events.Append(context.Background(), models.CreateEventRequest{
		RunID:   runID,
		NodeID:  nodeID,
		Level:   level,
		Message: message,
	})
	if err != nil {
		slog.Warn("Event append failed", "run_id", runID, "error", err)
	}
}

// sleep pauses the tick, waking early on context cancellation.
func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
