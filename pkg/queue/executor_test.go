package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/artifacts"
	"github.com/troupe-ai/troupe/pkg/completion"
	"github.com/troupe-ai/troupe/pkg/config"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/services"
	testutil "github.com/troupe-ai/troupe/test/util"
)

type execEnv struct {
	client    *database.Client
	runs      *services.RunService
	nodes     *services.NodeService
	artifacts *services.ArtifactService
	events    *services.EventService
}

func newExecEnv(t *testing.T) *execEnv {
	t.Helper()
	client := testutil.SetupTestDatabase(t)
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	return &execEnv{
		client:    client,
		runs:      services.NewRunService(client),
		nodes:     services.NewNodeService(client, nil),
		artifacts: services.NewArtifactService(client, store),
		events:    services.NewEventService(client, nil),
	}
}

func (env *execEnv) executor(planner RunPlanner, client CompletionClient, settings *config.Settings) *Executor {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	return NewExecutor(env.runs, env.nodes, env.artifacts, env.events, planner, client, settings)
}

// createAndClaim mimics the worker: a claimed run is running with started_at
// stamped, which is the shape the executor receives.
func (env *execEnv) createAndClaim(t *testing.T, req models.CreateRunRequest) *models.Run {
	t.Helper()
	created, err := env.runs.CreateRun(context.Background(), req)
	require.NoError(t, err)
	claimed, err := env.runs.ClaimNextQueuedRun(context.Background(), "exec-test-pod")
	require.NoError(t, err)
	require.Equal(t, created.ID, claimed.ID)
	return claimed
}

func (env *execEnv) eventMessages(t *testing.T, runID string) []string {
	t.Helper()
	events, err := env.events.GetEventsSince(context.Background(), runID, 0, 100)
	require.NoError(t, err)
	messages := make([]string, len(events))
	for i, ev := range events {
		messages[i] = ev.Message
	}
	return messages
}

func (env *execEnv) artifactBody(t *testing.T, runID, nodeID string) string {
	t.Helper()
	art, err := env.artifacts.GetLatest(context.Background(), runID, nodeID)
	require.NoError(t, err)
	body, err := env.artifacts.ReadContent(art)
	require.NoError(t, err)
	return string(body)
}

// stubPlanner returns nodes from a builder so every call hands out fresh
// structs; admission mutates ids in place.
type stubPlanner struct {
	summary string
	build   func() []*models.Node
	err     error
}

func (p *stubPlanner) Plan(_ context.Context, run *models.Run) (*models.PlannedRun, error) {
	if p.err != nil {
		return nil, p.err
	}
	var nodes []*models.Node
	if p.build != nil {
		nodes = p.build()
	}
	for _, n := range nodes {
		n.RunID = run.ID
	}
	return &models.PlannedRun{RunID: run.ID, Mode: run.Mode, Summary: p.summary, Nodes: nodes}, nil
}

func planTask(localID string, wave int, task, model string, meta models.NodeMeta, deps ...string) *models.Node {
	return &models.Node{
		ID:         localID,
		LocalID:    localID,
		Kind:       models.NodeKindTask,
		Wave:       wave,
		DependsOn:  deps,
		Task:       task,
		Model:      model,
		Prompt:     task,
		Meta:       meta,
		Status:     models.NodeStatusQueued,
		MaxRetries: 2,
	}
}

func planMerge(wave int, task, model, style string, deps ...string) *models.Node {
	return &models.Node{
		ID:        models.MergeNodeLocalID,
		LocalID:   models.MergeNodeLocalID,
		Kind:      models.NodeKindMerge,
		Wave:      wave,
		DependsOn: deps,
		Task:      task,
		Model:     model,
		Meta:      models.NodeMeta{models.MetaMergeStyle: style},
		Status:    models.NodeStatusQueued,
	}
}

type completionCall struct {
	Model  string
	Prompt string
}

type stubCompletion struct {
	mu      sync.Mutex
	calls   []completionCall
	handler func(ctx context.Context, model, prompt string) (*completion.Result, error)
}

func stubResult(content string) *completion.Result {
	return &completion.Result{
		Content: content,
		Usage:   completion.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func (c *stubCompletion) Complete(ctx context.Context, model, prompt string) (*completion.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, completionCall{Model: model, Prompt: prompt})
	c.mu.Unlock()
	if c.handler != nil {
		return c.handler(ctx, model, prompt)
	}
	return stubResult("stub answer"), nil
}

func (c *stubCompletion) Configured() bool { return true }

func (c *stubCompletion) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *stubCompletion) callFor(model string) (completionCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.Model == model {
			return call, true
		}
	}
	return completionCall{}, false
}

func (c *stubCompletion) mergeCall() (completionCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if strings.HasPrefix(call.Prompt, "You are merging") {
			return call, true
		}
	}
	return completionCall{}, false
}

func TestExecutorSingleHappyPath(t *testing.T) {
	env := newExecEnv(t)
	planner := &stubPlanner{
		summary: "single: openai/gpt-4o-mini",
		build: func() []*models.Node {
			return []*models.Node{planTask("t1", 0, "Write a haiku about caches.", "openai/gpt-4o-mini", models.NodeMeta{models.MetaMode: "single"})}
		},
	}
	chat := &stubCompletion{}
	exec := env.executor(planner, chat, nil)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: "Write a haiku about caches.", Mode: models.ModeSingle, Budget: models.BudgetLow})
	result := exec.Execute(context.Background(), run)

	require.NotNil(t, result)
	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 1, chat.callCount())

	stored, err := env.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	t.Run("node carries the global id and usage", func(t *testing.T) {
		node, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "t1"))
		require.NoError(t, err)
		assert.Equal(t, models.NodeStatusCompleted, node.Status)
		assert.Equal(t, int64(10), node.TokensPrompt)
		assert.Equal(t, int64(20), node.TokensCompletion)
		assert.InDelta(t, 0.00007, node.CostUsd, 1e-12)
	})

	t.Run("raw artifact records the local node id", func(t *testing.T) {
		var raw models.RawOutput
		require.NoError(t, json.Unmarshal([]byte(env.artifactBody(t, run.ID, "t1")), &raw))
		assert.Equal(t, run.ID, raw.RunID)
		assert.Equal(t, "t1", raw.NodeID)
		assert.Equal(t, "stub answer", raw.Output)
		assert.Equal(t, int64(30), raw.Tokens.Total)
		assert.InDelta(t, 0.00007, raw.CostUsd, 1e-12)
	})

	t.Run("merged artifact is synthesized without a merge node", func(t *testing.T) {
		assert.Equal(t, "# Merged Output\n\nstub answer\n", env.artifactBody(t, run.ID, models.MergeNodeLocalID))
	})

	t.Run("plan artifact keeps local ids", func(t *testing.T) {
		body := env.artifactBody(t, run.ID, models.PlanNodeID)
		assert.Contains(t, body, `"id": "t1"`)
		assert.NotContains(t, body, run.ID+":t1")
		assert.Contains(t, body, `"summary": "single: openai/gpt-4o-mini"`)
	})

	t.Run("audit trail covers the lifecycle", func(t *testing.T) {
		messages := env.eventMessages(t, run.ID)
		assert.Contains(t, messages, "Run planned: single: openai/gpt-4o-mini")
		assert.Contains(t, messages, "Node t1 started")
		assert.Contains(t, messages, "Node t1 completed")
		assert.Contains(t, messages, "Run completed")
	})
}

func TestExecutorCollectiveMerge(t *testing.T) {
	env := newExecEnv(t)
	task := "Compare the storage engines."
	planner := &stubPlanner{
		summary: "collective: 2 parallel models + merge",
		build: func() []*models.Node {
			return []*models.Node{
				planTask("t1", 0, task, "openai/gpt-4o", nil),
				planTask("t2", 0, task, "anthropic/claude-sonnet-4", nil),
				planMerge(1, task, "openai/gpt-4o", models.MergeStyleDetailed, "t1", "t2"),
			}
		},
	}
	chat := &stubCompletion{}
	chat.handler = func(_ context.Context, model, prompt string) (*completion.Result, error) {
		if strings.HasPrefix(prompt, "You are merging") {
			return stubResult("combined answer"), nil
		}
		return stubResult("answer from " + model), nil
	}
	exec := env.executor(planner, chat, nil)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: task, Mode: models.ModeCollective})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 3, chat.callCount())

	t.Run("merge prompt carries style, task, and both inputs", func(t *testing.T) {
		call, ok := chat.mergeCall()
		require.True(t, ok)
		assert.Contains(t, call.Prompt, "for task: "+task)
		assert.Contains(t, call.Prompt, "Output style: detailed.")
		assert.Contains(t, call.Prompt, "### t1 (openai/gpt-4o)")
		assert.Contains(t, call.Prompt, "answer from openai/gpt-4o")
		assert.Contains(t, call.Prompt, "### t2 (anthropic/claude-sonnet-4)")
	})

	t.Run("merged artifact comes from the merge node", func(t *testing.T) {
		assert.Equal(t, "# Merged Output\n\ncombined answer", env.artifactBody(t, run.ID, models.MergeNodeLocalID))
	})

	t.Run("run cost sums every node", func(t *testing.T) {
		cost, err := env.nodes.SumCost(context.Background(), run.ID)
		require.NoError(t, err)
		assert.InDelta(t, 3*0.00007, cost, 1e-12)
	})
}

func cascadePlan(task string) func() []*models.Node {
	return func() []*models.Node {
		return []*models.Node{
			planTask("cheap", 0, task, "openai/gpt-4o-mini",
				models.NodeMeta{models.MetaMode: "cascade", models.MetaTier: "cheap"}),
			planTask("premium", 1, task, "anthropic/claude-opus-4",
				models.NodeMeta{models.MetaMode: "cascade", models.MetaTier: "premium", models.MetaConditional: true},
				"cheap"),
			planMerge(2, task, "anthropic/claude-opus-4", models.MergeStyleDecision, "cheap", "premium"),
		}
	}
}

func TestExecutorCascadeSkip(t *testing.T) {
	env := newExecEnv(t)
	task := "Evaluate the migration plan."
	planner := &stubPlanner{summary: "cascade", build: cascadePlan(task)}

	chat := &stubCompletion{}
	longAnswer := strings.Repeat("q", 600)
	chat.handler = func(_ context.Context, _, prompt string) (*completion.Result, error) {
		if strings.HasPrefix(prompt, "You are merging") {
			return stubResult("the decision"), nil
		}
		return stubResult(longAnswer), nil
	}
	exec := env.executor(planner, chat, nil)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: task, Mode: models.ModeCascade})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	// One raw call plus the merge; the premium tier never runs.
	assert.Equal(t, 2, chat.callCount())

	premium, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "premium"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusSkipped, premium.Status)
	require.NotNil(t, premium.Error)
	assert.Equal(t, "Cascade cheap output passed quality gate", *premium.Error)

	t.Run("merge sees only the cheap input", func(t *testing.T) {
		call, ok := chat.mergeCall()
		require.True(t, ok)
		assert.Contains(t, call.Prompt, "### cheap (openai/gpt-4o-mini)")
		assert.Contains(t, call.Prompt, longAnswer)
		assert.NotContains(t, call.Prompt, "### premium")
	})

	t.Run("merged artifact exists", func(t *testing.T) {
		assert.Equal(t, "# Merged Output\n\nthe decision", env.artifactBody(t, run.ID, models.MergeNodeLocalID))
	})
}

func TestExecutorCascadeEscalation(t *testing.T) {
	env := newExecEnv(t)
	task := "Evaluate the migration plan."
	planner := &stubPlanner{summary: "cascade", build: cascadePlan(task)}

	chat := &stubCompletion{}
	chat.handler = func(_ context.Context, model, prompt string) (*completion.Result, error) {
		if strings.HasPrefix(prompt, "You are merging") {
			return stubResult("the decision"), nil
		}
		if model == "anthropic/claude-opus-4" {
			return stubResult("a thorough premium answer"), nil
		}
		return stubResult("too short"), nil
	}
	exec := env.executor(planner, chat, nil)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: task, Mode: models.ModeCascade})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	// Cheap answer below the quality gate: both tiers run, then the merge.
	assert.Equal(t, 3, chat.callCount())

	premium, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "premium"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, premium.Status)

	t.Run("premium prompt carries the cheap output as context", func(t *testing.T) {
		call, ok := chat.callFor("anthropic/claude-opus-4")
		require.True(t, ok)
		assert.Contains(t, call.Prompt, "## Dependency context")
		assert.Contains(t, call.Prompt, "### cheap")
		assert.Contains(t, call.Prompt, "too short")
		assert.True(t, strings.HasSuffix(call.Prompt, task))
	})

	t.Run("merge sees both tiers", func(t *testing.T) {
		call, ok := chat.mergeCall()
		require.True(t, ok)
		assert.Contains(t, call.Prompt, "### cheap (openai/gpt-4o-mini)")
		assert.Contains(t, call.Prompt, "### premium (anthropic/claude-opus-4)")
	})
}

func TestExecutorBudgetBrake(t *testing.T) {
	env := newExecEnv(t)
	task := "Draft the quarterly report."
	planner := &stubPlanner{
		summary: "plan: 2 sequential steps",
		build: func() []*models.Node {
			return []*models.Node{
				planTask("s1", 0, task, "openai/gpt-4o", nil),
				planTask("s2", 1, task, "openai/gpt-4o", nil, "s1"),
			}
		},
	}
	chat := &stubCompletion{}
	chat.handler = func(_ context.Context, _, _ string) (*completion.Result, error) {
		// 0.008 USD at default pricing, far over the 0.001 cap.
		return &completion.Result{
			Content: "expensive answer",
			Usage:   completion.Usage{PromptTokens: 2000, CompletionTokens: 2000, TotalTokens: 4000},
		}, nil
	}
	settings := config.DefaultSettings()
	settings.MaxUsdPerRun = 0.001
	exec := env.executor(planner, chat, settings)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: task, Mode: models.ModePlan})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCanceled, result.Status)
	assert.Equal(t, 1, chat.callCount(), "the brake must engage before the next dispatch")

	stored, err := env.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCanceled, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "Budget limit reached", *stored.Error)

	second, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "s2"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCanceled, second.Status)

	assert.Contains(t, env.eventMessages(t, run.ID), "Budget limit reached")
}

func TestExecutorNodeTimeout(t *testing.T) {
	env := newExecEnv(t)
	planner := &stubPlanner{
		summary: "single",
		build: func() []*models.Node {
			node := planTask("t1", 0, "Summarize the incident.", "openai/gpt-4o-mini", nil)
			node.MaxRetries = 0
			return []*models.Node{node}
		},
	}
	chat := &stubCompletion{}
	chat.handler = func(ctx context.Context, _, _ string) (*completion.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	settings := config.DefaultSettings()
	settings.NodeTimeout = 50 * time.Millisecond
	exec := env.executor(planner, chat, settings)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: "Summarize the incident.", Mode: models.ModeSingle})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusFailed, result.Status)

	stored, err := env.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "1 node(s) failed", *stored.Error)

	node, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "t1"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusFailed, node.Status)
	require.NotNil(t, node.Error)
	assert.Contains(t, *node.Error, "timed out after 50ms")

	var sawTimeout bool
	for _, message := range env.eventMessages(t, run.ID) {
		if strings.Contains(message, "timed out after") {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout, "an event must surface the timeout")
}

func TestExecutorRetriesTransientErrors(t *testing.T) {
	env := newExecEnv(t)
	planner := &stubPlanner{
		summary: "single",
		build: func() []*models.Node {
			return []*models.Node{planTask("t1", 0, "Check the upstream.", "openai/gpt-4o-mini", nil)}
		},
	}
	chat := &stubCompletion{}
	var attempts int
	var mu sync.Mutex
	chat.handler = func(_ context.Context, _, _ string) (*completion.Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("completion endpoint returned status 503: upstream down")
		}
		return stubResult("second try worked"), nil
	}
	exec := env.executor(planner, chat, nil)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: "Check the upstream.", Mode: models.ModeSingle})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 2, chat.callCount())

	node, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "t1"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, node.Status)
	assert.Equal(t, 1, node.RetryCount)

	var sawRetry bool
	for _, message := range env.eventMessages(t, run.ID) {
		if strings.Contains(message, "retrying (1/2)") {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry, "a warning event must record the retry")
}

func TestExecutorFailedNodeWedgesDag(t *testing.T) {
	env := newExecEnv(t)
	task := "Compare the storage engines."
	planner := &stubPlanner{
		summary: "collective",
		build: func() []*models.Node {
			return []*models.Node{
				planTask("t1", 0, task, "openai/gpt-4o", nil),
				planTask("t2", 0, task, "broken/model", nil),
				planMerge(1, task, "openai/gpt-4o", models.MergeStyleDetailed, "t1", "t2"),
			}
		},
	}
	chat := &stubCompletion{}
	chat.handler = func(_ context.Context, model, _ string) (*completion.Result, error) {
		if model == "broken/model" {
			return nil, errors.New("completion API error: invalid model")
		}
		return stubResult("fine"), nil
	}
	exec := env.executor(planner, chat, nil)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: task, Mode: models.ModeCollective})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, 2, chat.callCount(), "the merge behind the failure never dispatches")

	stored, err := env.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "1 node(s) failed", *stored.Error)

	merge, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, models.MergeNodeLocalID))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusQueued, merge.Status)
}

func TestExecutorPlannerFailures(t *testing.T) {
	t.Run("empty plan fails the run", func(t *testing.T) {
		env := newExecEnv(t)
		chat := &stubCompletion{}
		exec := env.executor(&stubPlanner{summary: "empty"}, chat, nil)

		run := env.createAndClaim(t, models.CreateRunRequest{Task: "anything", Mode: models.ModeSingle})
		result := exec.Execute(context.Background(), run)

		assert.Equal(t, models.RunStatusFailed, result.Status)
		assert.Zero(t, chat.callCount())

		stored, err := env.runs.GetRun(context.Background(), run.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Error)
		assert.Equal(t, "Planner returned no nodes", *stored.Error)
	})

	t.Run("planner error fails the run", func(t *testing.T) {
		env := newExecEnv(t)
		chat := &stubCompletion{}
		exec := env.executor(&stubPlanner{err: fmt.Errorf("unknown mode %q", "chaos")}, chat, nil)

		run := env.createAndClaim(t, models.CreateRunRequest{Task: "anything", Mode: models.ModeSingle})
		result := exec.Execute(context.Background(), run)

		assert.Equal(t, models.RunStatusFailed, result.Status)

		stored, err := env.runs.GetRun(context.Background(), run.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Error)
		assert.Contains(t, *stored.Error, "Planning failed")
		assert.Contains(t, *stored.Error, "chaos")
	})
}

func TestExecutorRunTimeout(t *testing.T) {
	env := newExecEnv(t)
	planner := &stubPlanner{
		summary: "single",
		build: func() []*models.Node {
			return []*models.Node{planTask("t1", 0, "anything", "openai/gpt-4o-mini", nil)}
		},
	}
	chat := &stubCompletion{}
	settings := config.DefaultSettings()
	settings.RunTimeout = time.Nanosecond
	exec := env.executor(planner, chat, settings)

	run := env.createAndClaim(t, models.CreateRunRequest{Task: "anything", Mode: models.ModeSingle})
	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Zero(t, chat.callCount())

	stored, err := env.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "Run timed out", *stored.Error)
	assert.Contains(t, env.eventMessages(t, run.ID), "Run timed out")
}

func TestExecutorCancelMidRun(t *testing.T) {
	env := newExecEnv(t)
	task := "Write the design doc."
	planner := &stubPlanner{
		summary: "plan: 2 sequential steps",
		build: func() []*models.Node {
			return []*models.Node{
				planTask("s1", 0, task, "openai/gpt-4o", nil),
				planTask("s2", 1, task, "openai/gpt-4o", nil, "s1"),
			}
		},
	}

	run := env.createAndClaim(t, models.CreateRunRequest{Task: task, Mode: models.ModePlan})

	chat := &stubCompletion{}
	chat.handler = func(_ context.Context, _, _ string) (*completion.Result, error) {
		// The user cancels while the first call is in flight.
		_, err := env.runs.CancelRun(context.Background(), run.ID)
		assert.NoError(t, err)
		return stubResult("landed anyway"), nil
	}
	exec := env.executor(planner, chat, nil)

	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCanceled, result.Status)
	assert.Equal(t, 1, chat.callCount())

	first, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "s1"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, first.Status, "the in-flight call still lands")

	second, err := env.nodes.GetNode(context.Background(), models.GlobalNodeID(run.ID, "s2"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCanceled, second.Status)
}

func TestExecutorResumesExistingDag(t *testing.T) {
	env := newExecEnv(t)
	run := env.createAndClaim(t, models.CreateRunRequest{Task: "resume me", Mode: models.ModeSingle})

	// The DAG was planned by a previous claimant; planning again would fail.
	node := planTask("t1", 0, "resume me", "openai/gpt-4o-mini", nil)
	node.ID = models.GlobalNodeID(run.ID, "t1")
	node.RunID = run.ID
	require.NoError(t, env.nodes.CreateNodes(context.Background(), []*models.Node{node}))

	chat := &stubCompletion{}
	exec := env.executor(&stubPlanner{err: errors.New("planner must not be called")}, chat, nil)

	result := exec.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 1, chat.callCount())
}
