package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
)

// mergeInputLimit caps each dependency's contribution to the merge prompt.
const mergeInputLimit = 10000

// mergedHeader prefixes every merged artifact body.
const mergedHeader = "# Merged Output\n\n"

// executeMergeNode combines the dependency outputs into the run's final
// answer. Merge nodes never skip and never retry; the first error fails them
// permanently.
func (e *Executor) executeMergeNode(ctx context.Context, run *models.Run, node *models.Node, siblings []*models.Node) {
	log := slog.With("run_id", run.ID, "node_id", node.LocalID, "model", node.Model)

	if err := e.nodes.MarkNodeRunning(node.ID); err != nil {
		log.Warn("Running transition failed", "error", err)
		return
	}
	e.appendEvent(run.ID, node.LocalID, models.EventLevelInfo, fmt.Sprintf("Node %s started", node.LocalID))

	prompt := e.buildMergePrompt(ctx, run, node, siblings)

	result, err := e.callCompletion(ctx, node.Model, prompt)
	if err == nil {
		body := mergedHeader + strings.TrimSpace(result.Content)
		if _, serr := e.artifacts.SaveArtifact(ctx, run.ID, node.LocalID, models.ArtifactTypeMerged, []byte(body)); serr != nil {
			err = fmt.Errorf("writing merged artifact: %w", serr)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			if cerr := e.nodes.CancelNode(node.ID, "Run canceled"); cerr != nil {
				log.Warn("Cancel transition failed", "error", cerr)
			}
			return
		}
		if ferr := e.nodes.FailNode(node.ID, err.Error()); ferr != nil && !errors.Is(ferr, services.ErrConcurrentModification) {
			log.Error("Fail transition failed", "error", ferr)
		}
		e.appendEvent(run.ID, node.LocalID, models.EventLevelError, fmt.Sprintf("Node %s failed: %s", node.LocalID, err))
		log.Error("Merge failed", "error", err)
		return
	}

	usage := result.Usage
	cost := nodeCost(usage.PromptTokens, usage.CompletionTokens)
	if err := e.nodes.CompleteNode(node.ID, usage.PromptTokens, usage.CompletionTokens, cost); err != nil {
		if !errors.Is(err, services.ErrConcurrentModification) {
			log.Error("Complete transition failed", "error", err)
		}
		return
	}
	e.appendEvent(run.ID, node.LocalID, models.EventLevelInfo, fmt.Sprintf("Node %s completed", node.LocalID))
	log.Info("Merge completed", "tokens_total", usage.TotalTokens)

	e.checkBudget(ctx, run)
}

// buildMergePrompt assembles the fixed merge preamble plus each dependency's
// raw output, truncated per input.
func (e *Executor) buildMergePrompt(ctx context.Context, run *models.Run, node *models.Node, siblings []*models.Node) string {
	style := node.Meta.MergeStyle()
	if style == "" {
		style = models.MergeStyleDetailed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are merging outputs from multiple sub-agents for task: %s\n", node.Task)
	fmt.Fprintf(&b, "Output style: %s.\n", style)
	b.WriteString("Produce one final answer, remove conflicts, and include the strongest concrete recommendations.\n")
	b.WriteString("Inputs:\n")

	byID := nodesByID(siblings)
	for _, depID := range node.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		text := e.dependencyText(ctx, run.ID, dep)
		if text == "" {
			continue
		}
		kept, _ := models.Truncate(text, mergeInputLimit)
		fmt.Fprintf(&b, "\n### %s (%s)\n%s\n", dep.LocalID, dep.Model, kept)
	}
	return b.String()
}

// ensureMergedArtifact guarantees a merged artifact exists before the run
// completes. Runs without a merge node (single mode) and runs whose merge
// node left nothing behind get one synthesized from the latest raw output.
func (e *Executor) ensureMergedArtifact(ctx context.Context, run *models.Run, nodes []*models.Node) error {
	_, err := e.artifacts.GetLatest(ctx, run.ID, models.MergeNodeLocalID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return err
	}

	arts, err := e.artifacts.ListByRun(ctx, run.ID)
	if err != nil {
		return err
	}
	var latest *models.Artifact
	for _, a := range arts { // oldest first; keep the last raw
		if a.Type == models.ArtifactTypeRaw {
			latest = a
		}
	}
	if latest == nil {
		return fmt.Errorf("no raw output to synthesize a merged artifact from")
	}

	body, err := e.artifacts.ReadContent(latest)
	if err != nil {
		return err
	}
	merged := mergedHeader + strings.TrimSpace(rawOutputText(body)) + "\n"
	if _, err := e.artifacts.SaveArtifact(ctx, run.ID, models.MergeNodeLocalID, models.ArtifactTypeMerged, []byte(merged)); err != nil {
		return err
	}

	e.appendEvent(run.ID, models.MergeNodeLocalID, models.EventLevelInfo, "Merged artifact synthesized from latest raw output")
	slog.Info("Merged artifact synthesized", "run_id", run.ID, "source_node", latest.NodeID)
	return nil
}
