package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/troupe-ai/troupe/pkg/models"
)

// planSingle is one task node, no merge. Also the fallback shape for plan
// and swarm when their splitters find nothing to split.
func (p *Planner) planSingle(ctx context.Context, run *models.Run, role *models.RoleConfig, tags []string) ([]*models.Node, string) {
	prompt := p.composePrompt(ctx, run.Task, role)
	model, source := p.pickModel(ctx, run.Task, run.Budget, tags, nil)

	node := taskNode("t1", 0, run.Task, prompt, model, models.NodeMeta{
		models.MetaMode:           string(models.ModeSingle),
		models.MetaPlanningSource: source,
	})
	return []*models.Node{node}, fmt.Sprintf("single: %s", model)
}

// planCollective fans the same prompt out to N distinct models in wave 0
// and merges their answers in wave 1.
func (p *Planner) planCollective(ctx context.Context, run *models.Run, role *models.RoleConfig, tags []string) ([]*models.Node, string) {
	count := collectiveCount(run)
	prompt := p.composePrompt(ctx, run.Task, role)

	source := models.PlanningSourceAPI
	var picked []string
	recs, err := p.ranking.Recommend(ctx, run.Task, run.Budget, count, tags, nil)
	if err != nil || len(recs) == 0 {
		slog.Warn("Recommendation failed, using fallback model", "count", count, "error", err)
		source = models.PlanningSourceFallback
		model := fallbackForTask(run.Task, run.Budget)
		for i := 0; i < count; i++ {
			picked = append(picked, model)
		}
	} else {
		for _, rec := range recs {
			picked = append(picked, rec.Model)
		}
	}

	nodes := make([]*models.Node, 0, len(picked)+1)
	deps := make([]string, 0, len(picked))
	for i, model := range picked {
		localID := fmt.Sprintf("t%d", i+1)
		nodes = append(nodes, taskNode(localID, 0, run.Task, prompt, model, models.NodeMeta{
			models.MetaMode:           string(models.ModeCollective),
			models.MetaPlanningSource: source,
		}))
		deps = append(deps, localID)
	}

	style := mergeStyle(run, models.MergeStyleDetailed)
	nodes = append(nodes, mergeNode(run, style, mergeModelFor(run, picked[0]), source, 1, deps))
	return nodes, fmt.Sprintf("collective: %d parallel models + merge", len(picked))
}

// planCascade tries a cheap model first and escalates to a premium one. The
// premium node is conditional: the executor skips it when the cheap output
// clears the quality gate. The premium pick excludes the cheap model so the
// escalation actually changes models.
func (p *Planner) planCascade(ctx context.Context, run *models.Run, role *models.RoleConfig, tags []string) ([]*models.Node, string) {
	prompt := p.composePrompt(ctx, run.Task, role)
	cheapModel, cheapSource := p.pickModel(ctx, run.Task, models.BudgetLow, tags, nil)
	premiumModel, premiumSource := p.pickModel(ctx, run.Task, models.BudgetHigh, tags, []string{cheapModel})

	cheap := taskNode("cheap", 0, run.Task, prompt, cheapModel, models.NodeMeta{
		models.MetaMode:           string(models.ModeCascade),
		models.MetaTier:           "cheap",
		models.MetaPlanningSource: cheapSource,
	})
	premium := taskNode("premium", 1, run.Task, prompt, premiumModel, models.NodeMeta{
		models.MetaMode:           string(models.ModeCascade),
		models.MetaTier:           "premium",
		models.MetaConditional:    true,
		models.MetaPlanningSource: premiumSource,
	}, "cheap")

	style := mergeStyle(run, models.MergeStyleDecision)
	merge := mergeNode(run, style, mergeModelFor(run, premiumModel), premiumSource, 2, []string{"cheap", "premium"})

	return []*models.Node{cheap, premium, merge},
		fmt.Sprintf("cascade: %s then conditional %s + merge", cheapModel, premiumModel)
}

// planSequential decomposes the task into ordered steps, chains each step on
// the previous one, and merges at the end. An unsplittable task collapses to
// the single shape.
func (p *Planner) planSequential(ctx context.Context, run *models.Run, role *models.RoleConfig, tags []string) ([]*models.Node, string) {
	result, err := p.ranking.Decompose(ctx, run.Task, run.Budget, tags)
	if err != nil {
		slog.Warn("Decomposition failed, planning a single node", "error", err)
		return p.planSingle(ctx, run, role, tags)
	}
	if !result.Decomposed || len(result.Subtasks) < 2 {
		slog.Info("Task did not decompose, planning a single node")
		return p.planSingle(ctx, run, role, tags)
	}

	nodes := make([]*models.Node, 0, len(result.Subtasks)+1)
	deps := make([]string, 0, len(result.Subtasks))
	for i, st := range result.Subtasks {
		localID := fmt.Sprintf("s%d", i+1)
		prompt := p.composePrompt(ctx, st.Task, role)
		model, source := p.pickModelFor(ctx, st.Task, st.Category, st.Budget, tags)

		var stepDeps []string
		if i > 0 {
			stepDeps = []string{fmt.Sprintf("s%d", i)}
		}
		nodes = append(nodes, taskNode(localID, i, st.Task, prompt, model, models.NodeMeta{
			models.MetaMode:           string(models.ModePlan),
			models.MetaPlanningSource: source,
		}, stepDeps...))
		deps = append(deps, localID)
	}

	last := nodes[len(nodes)-1]
	style := mergeStyle(run, models.MergeStyleDetailed)
	nodes = append(nodes, mergeNode(run, style, mergeModelFor(run, last.Model), last.Meta.PlanningSource(), len(result.Subtasks), deps))
	return nodes, fmt.Sprintf("plan: %d sequential steps + merge", len(result.Subtasks))
}

// planSwarm asks the ranking service for a dependency DAG and materializes
// it node for node, keeping the splitter's ids, waves, and edges. A plan
// that did not decompose collapses to the single shape.
func (p *Planner) planSwarm(ctx context.Context, run *models.Run, role *models.RoleConfig, tags []string) ([]*models.Node, string) {
	plan, err := p.ranking.Swarm(ctx, run.Task, run.Budget, tags, p.maxParallelNodes)
	if err != nil {
		slog.Warn("Swarm planning failed, planning a single node", "error", err)
		return p.planSingle(ctx, run, role, tags)
	}
	if !plan.Decomposed || len(plan.Tasks) == 0 {
		slog.Info("Task did not split into a swarm, planning a single node")
		return p.planSingle(ctx, run, role, tags)
	}

	nodes := make([]*models.Node, 0, len(plan.Tasks)+1)
	deps := make([]string, 0, len(plan.Tasks))
	maxWave := 0
	for _, st := range plan.Tasks {
		prompt := p.composePrompt(ctx, st.Task, role)
		model, source := p.pickModelFor(ctx, st.Task, st.Category, st.Budget, tags)

		nodes = append(nodes, taskNode(st.ID, st.Wave, st.Task, prompt, model, models.NodeMeta{
			models.MetaMode:           string(models.ModeSwarm),
			models.MetaPhase:          strconv.Itoa(st.Phase),
			models.MetaPlanningSource: source,
		}, st.DependsOn...))
		deps = append(deps, st.ID)
		if st.Wave > maxWave {
			maxWave = st.Wave
		}
	}

	last := nodes[len(nodes)-1]
	style := mergeStyle(run, models.MergeStyleDetailed)
	nodes = append(nodes, mergeNode(run, style, mergeModelFor(run, last.Model), last.Meta.PlanningSource(), maxWave+1, deps))
	return nodes, fmt.Sprintf("swarm: %d nodes in %d waves + merge", len(plan.Tasks), maxWave+1)
}
