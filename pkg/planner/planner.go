// Package planner turns a queued run into its static node DAG. It consults
// the ranking service for model picks and task splits, and degrades to
// hard-coded fallback models so planning always succeeds while the service
// is down. The planner writes nothing; the queue persists the resulting
// nodes and the plan artifact on first admission.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/troupe-ai/troupe/pkg/models"
)

const (
	defaultCollectiveCount = 3
	minCollectiveCount     = 2
	maxCollectiveCount     = 5

	// defaultMaxRetries is the task-node retry allowance. Merge nodes
	// never retry.
	defaultMaxRetries = 2
)

// RankingClient is the slice of the ranking service the planner consults.
// *ranking.Client satisfies it.
type RankingClient interface {
	Pick(ctx context.Context, task string, budget models.Budget, contextTags, exclude []string) (*models.RankedModel, error)
	Recommend(ctx context.Context, task string, budget models.Budget, count int, contextTags, exclude []string) ([]models.RankedModel, error)
	Decompose(ctx context.Context, task string, budget models.Budget, contextTags []string) (*models.DecomposeResult, error)
	Swarm(ctx context.Context, task string, budget models.Budget, contextTags []string, maxParallel int) (*models.SwarmPlan, error)
	ComposeRole(ctx context.Context, req *models.ComposeRoleRequest) (*models.ComposedRole, error)
}

// Planner builds node DAGs for queued runs.
type Planner struct {
	ranking          RankingClient
	maxParallelNodes int
}

// New creates a planner. maxParallelNodes caps the width the swarm splitter
// is asked for; it mirrors the executor's per-run node parallelism.
func New(ranking RankingClient, maxParallelNodes int) *Planner {
	return &Planner{ranking: ranking, maxParallelNodes: maxParallelNodes}
}

// Plan dispatches over the run's mode and returns the static DAG. Local node
// ids are unprefixed; the queue rewrites them to their global form when it
// persists the plan.
func (p *Planner) Plan(ctx context.Context, run *models.Run) (*models.PlannedRun, error) {
	role := parseRole(run.RoleJSON)
	tags := models.NormalizeTags(run.ContextTags)

	var nodes []*models.Node
	var summary string
	switch run.Mode {
	case models.ModeSingle:
		nodes, summary = p.planSingle(ctx, run, role, tags)
	case models.ModeCollective:
		nodes, summary = p.planCollective(ctx, run, role, tags)
	case models.ModeCascade:
		nodes, summary = p.planCascade(ctx, run, role, tags)
	case models.ModePlan:
		nodes, summary = p.planSequential(ctx, run, role, tags)
	case models.ModeSwarm:
		nodes, summary = p.planSwarm(ctx, run, role, tags)
	default:
		return nil, fmt.Errorf("unknown mode %q", run.Mode)
	}

	for _, n := range nodes {
		n.RunID = run.ID
	}
	return &models.PlannedRun{
		RunID:   run.ID,
		Mode:    run.Mode,
		Summary: summary,
		Nodes:   nodes,
	}, nil
}

// composePrompt asks the ranking tier for a role-enriched prompt. Any
// failure falls back to the raw task text so planning never blocks on the
// role composer.
func (p *Planner) composePrompt(ctx context.Context, task string, role *models.RoleConfig) string {
	if role.Empty() {
		return task
	}
	composed, err := p.ranking.ComposeRole(ctx, &models.ComposeRoleRequest{
		Task:       task,
		Persona:    role.Persona,
		Stack:      role.Stack,
		Domain:     role.Domain,
		Format:     role.Format,
		Guardrails: role.Guardrails,
	})
	if err != nil {
		slog.Warn("Role composition failed, using raw task", "error", err)
		return task
	}
	if composed.Prompt == "" {
		return task
	}
	return composed.Prompt
}

// pickModel resolves one model through the ranking service, classifying the
// task locally for the fallback table when the call fails.
func (p *Planner) pickModel(ctx context.Context, task string, budget models.Budget, tags, exclude []string) (string, string) {
	pick, err := p.ranking.Pick(ctx, task, budget, tags, exclude)
	if err != nil {
		slog.Warn("Model pick failed, using fallback", "budget", budget, "error", err)
		return fallbackForTask(task, budget), models.PlanningSourceFallback
	}
	return pick.Model, models.PlanningSourceAPI
}

// pickModelFor is pickModel with a category already assigned by the ranking
// service's own decomposition, skipping the local re-classification.
func (p *Planner) pickModelFor(ctx context.Context, task string, category models.Category, budget models.Budget, tags []string) (string, string) {
	pick, err := p.ranking.Pick(ctx, task, budget, tags, nil)
	if err != nil {
		slog.Warn("Model pick failed, using fallback",
			"category", category,
			"budget", budget,
			"error", err)
		return fallbackModel(category, budget), models.PlanningSourceFallback
	}
	return pick.Model, models.PlanningSourceAPI
}

func parseRole(raw string) *models.RoleConfig {
	if raw == "" {
		return nil
	}
	var role models.RoleConfig
	if err := json.Unmarshal([]byte(raw), &role); err != nil {
		slog.Warn("Ignoring malformed role config", "error", err)
		return nil
	}
	return &role
}

// collectiveCount extracts the requested fan-out from the run's original
// params. Explicit values are clamped into [2,5]; absent means the default.
func collectiveCount(run *models.Run) int {
	count := defaultCollectiveCount
	if run.ParamsJSON != "" {
		var req models.CreateRunRequest
		if err := json.Unmarshal([]byte(run.ParamsJSON), &req); err == nil && req.CollectiveCount > 0 {
			count = req.CollectiveCount
		}
	}
	if count < minCollectiveCount {
		count = minCollectiveCount
	}
	if count > maxCollectiveCount {
		count = maxCollectiveCount
	}
	return count
}

// mergeStyle returns the run's explicit style override or the mode default.
func mergeStyle(run *models.Run, modeDefault string) string {
	if run.MergeStyle != "" {
		return run.MergeStyle
	}
	return modeDefault
}

// mergeModelFor prefers the user's merge override, else reuses the
// strongest already-picked model.
func mergeModelFor(run *models.Run, primary string) string {
	if run.MergeModel != "" {
		return run.MergeModel
	}
	return primary
}

func taskNode(localID string, wave int, task, prompt, model string, meta models.NodeMeta, deps ...string) *models.Node {
	return &models.Node{
		ID:         localID,
		LocalID:    localID,
		Kind:       models.NodeKindTask,
		Wave:       wave,
		DependsOn:  deps,
		Task:       task,
		Model:      model,
		Prompt:     prompt,
		Meta:       meta,
		Status:     models.NodeStatusQueued,
		MaxRetries: defaultMaxRetries,
	}
}

func mergeNode(run *models.Run, style, model, source string, wave int, deps []string) *models.Node {
	return &models.Node{
		ID:        models.MergeNodeLocalID,
		LocalID:   models.MergeNodeLocalID,
		Kind:      models.NodeKindMerge,
		Wave:      wave,
		DependsOn: deps,
		Task:      run.Task,
		Model:     model,
		Meta: models.NodeMeta{
			models.MetaMode:           string(run.Mode),
			models.MetaMergeStyle:     style,
			models.MetaPlanningSource: source,
		},
		Status:     models.NodeStatusQueued,
		MaxRetries: 0,
	}
}
