package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/troupe-ai/troupe/pkg/completion"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
)

const (
	// dependencyContextLimit caps each predecessor's contribution to a task
	// prompt; cut text gets a "[truncated N chars]" marker.
	dependencyContextLimit = 6000

	// cascadeQualityMinChars is the trimmed-output length at which a cheap
	// cascade answer is considered good enough to skip the premium tier.
	cascadeQualityMinChars = 500

	// retryBackoffStep makes retry back-off linear: 300, 600, 900 ms.
	retryBackoffStep = 300 * time.Millisecond
)

// Default per-1M-token pricing, applied whenever per-model pricing is
// unknown. Planned nodes carry no pricing, so today that is always.
const (
	defaultPromptPricePerM     = 1.0
	defaultCompletionPricePerM = 3.0
)

// executeNode dispatches one ready node by kind.
func (e *Executor) executeNode(ctx context.Context, run *models.Run, node *models.Node, siblings []*models.Node) {
	if node.Kind == models.NodeKindMerge {
		e.executeMergeNode(ctx, run, node, siblings)
		return
	}
	e.executeTaskNode(ctx, run, node, siblings)
}

// executeTaskNode runs a single task node: skip gate, completion call, raw
// artifact, cost accounting, and the retry policy on failure.
func (e *Executor) executeTaskNode(ctx context.Context, run *models.Run, node *models.Node, siblings []*models.Node) {
	log := slog.With("run_id", run.ID, "node_id", node.LocalID, "model", node.Model)

	if skip, reason := e.cascadeSkip(ctx, run, node, siblings); skip {
		if err := e.nodes.SkipNode(node.ID, reason); err != nil {
			log.Warn("Skip transition failed", "error", err)
			return
		}
		e.appendEvent(run.ID, node.LocalID, models.EventLevelInfo, reason)
		log.Info("Node skipped", "reason", reason)
		return
	}

	if err := e.nodes.MarkNodeRunning(node.ID); err != nil {
		// Lost a race with cancellation; the loop observes the final state.
		log.Warn("Running transition failed", "error", err)
		return
	}
	e.appendEvent(run.ID, node.LocalID, models.EventLevelInfo, fmt.Sprintf("Node %s started", node.LocalID))

	prompt := e.buildPrompt(ctx, run, node, siblings)

	result, err := e.callCompletion(ctx, node.Model, prompt)
	if err != nil {
		if ctx.Err() != nil {
			// The run context died mid-call; the node ends canceled, not
			// failed, and the loop or re-queue takes it from here.
			if cerr := e.nodes.CancelNode(node.ID, "Run canceled"); cerr != nil {
				log.Warn("Cancel transition failed", "error", cerr)
			}
			return
		}
		e.handleNodeFailure(run, node, err, log)
		return
	}

	if err := e.recordOutput(ctx, run, node, result); err != nil {
		e.handleNodeFailure(run, node, err, log)
		return
	}
	log.Info("Node completed", "tokens_total", result.Usage.TotalTokens)

	e.checkBudget(ctx, run)
}

// cascadeSkip reports whether a conditional cascade-premium node is redundant
// because its cheap sibling already produced a substantial answer. The gate
// reads the cheap node's parsed raw output; an unparsable artifact never
// fires it.
func (e *Executor) cascadeSkip(ctx context.Context, run *models.Run, node *models.Node, siblings []*models.Node) (bool, string) {
	if node.Meta.Mode() != string(models.ModeCascade) ||
		node.Meta.Tier() != "premium" ||
		!node.Meta.Conditional() {
		return false, ""
	}

	var cheap *models.Node
	for _, sib := range siblings {
		if sib.Meta.Tier() == "cheap" {
			cheap = sib
			break
		}
	}
	if cheap == nil || cheap.Status != models.NodeStatusCompleted {
		return false, ""
	}

	art, err := e.artifacts.GetLatest(ctx, run.ID, cheap.LocalID)
	if err != nil {
		return false, ""
	}
	body, err := e.artifacts.ReadContent(art)
	if err != nil {
		return false, ""
	}
	output, ok := parsedOutput(body)
	if !ok {
		return false, ""
	}

	if utf8.RuneCountInString(strings.TrimSpace(output)) >= cascadeQualityMinChars {
		return true, "Cascade cheap output passed quality gate"
	}
	return false, ""
}

// buildPrompt prepends the dependency context to the node's composed prompt.
// Nodes without predecessors use their prompt verbatim.
func (e *Executor) buildPrompt(ctx context.Context, run *models.Run, node *models.Node, siblings []*models.Node) string {
	prompt := node.Prompt
	if prompt == "" {
		prompt = node.Task
	}
	if len(node.DependsOn) == 0 {
		return prompt
	}

	byID := nodesByID(siblings)
	var b strings.Builder
	b.WriteString("## Dependency context\n\n")
	for _, depID := range node.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		text := e.dependencyText(ctx, run.ID, dep)
		if text == "" {
			continue
		}
		kept, removed := models.Truncate(text, dependencyContextLimit)
		if removed > 0 {
			kept += fmt.Sprintf("\n[truncated %d chars]", removed)
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", dep.LocalID, kept)
	}
	b.WriteString(prompt)
	return b.String()
}

// dependencyText loads a predecessor's latest raw output. Skipped
// dependencies have no artifact and contribute nothing.
func (e *Executor) dependencyText(ctx context.Context, runID string, dep *models.Node) string {
	art, err := e.artifacts.GetLatest(ctx, runID, dep.LocalID)
	if err != nil {
		return ""
	}
	body, err := e.artifacts.ReadContent(art)
	if err != nil {
		slog.Warn("Dependency artifact unreadable", "run_id", runID, "node_id", dep.LocalID, "error", err)
		return ""
	}
	return rawOutputText(body)
}

// callCompletion runs one completion call under the per-node timeout. A
// deadline expiry surfaces as a "timed out" error so the retry classifier
// sees it; parent-context cancellation passes through untouched.
func (e *Executor) callCompletion(ctx context.Context, model, prompt string) (*completion.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.NodeTimeout)
	defer cancel()

	result, err := e.completion.Complete(callCtx, model, prompt)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("completion timed out after %s", e.settings.NodeTimeout)
	}
	return result, err
}

// recordOutput persists a successful task-node call: raw artifact first,
// then the status flip, so a completed node always has its artifact.
func (e *Executor) recordOutput(ctx context.Context, run *models.Run, node *models.Node, result *completion.Result) error {
	usage := result.Usage
	cost := nodeCost(usage.PromptTokens, usage.CompletionTokens)

	raw := models.RawOutput{
		RunID:  run.ID,
		NodeID: node.LocalID,
		Model:  node.Model,
		Task:   node.Task,
		Output: result.Content,
		Tokens: models.TokenUsage{
			Prompt:     usage.PromptTokens,
			Completion: usage.CompletionTokens,
			Total:      usage.TotalTokens,
		},
		CostUsd:    cost,
		FinishedAt: time.Now().UTC(),
	}
	body, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding raw output: %w", err)
	}
	if _, err := e.artifacts.SaveArtifact(ctx, run.ID, node.LocalID, models.ArtifactTypeRaw, body); err != nil {
		return fmt.Errorf("writing raw artifact: %w", err)
	}

	if err := e.nodes.CompleteNode(node.ID, usage.PromptTokens, usage.CompletionTokens, cost); err != nil {
		if errors.Is(err, services.ErrConcurrentModification) {
			// Canceled while the call was in flight: keep the artifact,
			// drop the completion.
			return nil
		}
		return fmt.Errorf("completing node: %w", err)
	}
	e.appendEvent(run.ID, node.LocalID, models.EventLevelInfo, fmt.Sprintf("Node %s completed", node.LocalID))
	return nil
}

// handleNodeFailure applies the retry policy: transient errors re-enqueue
// task nodes with linear back-off, everything else fails the node for good.
func (e *Executor) handleNodeFailure(run *models.Run, node *models.Node, callErr error, log *slog.Logger) {
	msg := callErr.Error()

	if node.Kind == models.NodeKindTask && shouldRetry(msg) && node.RetryCount < node.MaxRetries {
		if err := e.nodes.RequeueForRetry(node.ID, msg); err != nil {
			log.Warn("Retry re-enqueue failed", "error", err)
			return
		}
		e.appendEvent(run.ID, node.LocalID, models.EventLevelWarning,
			fmt.Sprintf("Node %s retrying (%d/%d): %s", node.LocalID, node.RetryCount+1, node.MaxRetries, msg))
		log.Warn("Node retrying", "retry", node.RetryCount+1, "max_retries", node.MaxRetries, "error", callErr)
		time.Sleep(time.Duration(node.RetryCount+1) * retryBackoffStep)
		return
	}

	if err := e.nodes.FailNode(node.ID, msg); err != nil && !errors.Is(err, services.ErrConcurrentModification) {
		log.Error("Fail transition failed", "error", err)
	}
	e.appendEvent(run.ID, node.LocalID, models.EventLevelError, fmt.Sprintf("Node %s failed: %s", node.LocalID, msg))
	log.Error("Node failed", "error", callErr)
}

// retryableMarkers classify an error text as transient.
var retryableMarkers = []string{"429", "timeout", "timed out", "temporarily"}

// retryable5xx matches a 5xx status mentioned in an error, either in the
// "status 5xx" form the completion client emits or as a leading bare code.
var retryable5xx = regexp.MustCompile(`status 5\d\d|^5\d\d`)

// shouldRetry is a pure substring classifier over the error text; wrapped
// error types are deliberately not inspected.
func shouldRetry(errText string) bool {
	text := strings.ToLower(errText)
	for _, marker := range retryableMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return retryable5xx.MatchString(text)
}

// nodeCost prices one call at the conservative default rates per 1M tokens.
func nodeCost(promptTokens, completionTokens int64) float64 {
	return (float64(promptTokens)*defaultPromptPricePerM + float64(completionTokens)*defaultCompletionPricePerM) / 1e6
}
