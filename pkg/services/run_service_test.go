package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/models"
	testutil "github.com/troupe-ai/troupe/test/util"
)

func TestRunService_CreateRun(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	t.Run("creates queued run with defaults", func(t *testing.T) {
		run, err := service.CreateRun(ctx, models.CreateRunRequest{
			Task: "Write a haiku about caches.",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, models.ModeSingle, run.Mode)
		assert.Equal(t, models.BudgetAny, run.Budget)
		assert.Equal(t, models.RunStatusQueued, run.Status)
		assert.False(t, run.CreatedAt.IsZero())
		assert.Nil(t, run.StartedAt)
		assert.Nil(t, run.FinishedAt)
	})

	t.Run("normalizes context tags", func(t *testing.T) {
		run, err := service.CreateRun(ctx, models.CreateRunRequest{
			Task:    "review the PR",
			Mode:    models.ModeSingle,
			Context: " TypeScript, NextJS ,, postgres",
		})
		require.NoError(t, err)
		assert.Equal(t, "typescript,nextjs,postgres", run.ContextTags)
	})

	t.Run("records role, merge and params", func(t *testing.T) {
		req := models.CreateRunRequest{
			Task:            "design the schema",
			Mode:            models.ModeCollective,
			Budget:          models.BudgetMedium,
			CollectiveCount: 3,
			Role:            &models.RoleConfig{Persona: "architect", Stack: []string{"go", "postgres"}},
			Merge:           &models.MergeConfig{Style: "decision", Model: "openai/gpt-4o"},
			RequestedBy:     "dev@example.com",
		}
		run, err := service.CreateRun(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "decision", run.MergeStyle)
		assert.Equal(t, "openai/gpt-4o", run.MergeModel)
		assert.Equal(t, "dev@example.com", run.RequestedBy)

		var role models.RoleConfig
		require.NoError(t, json.Unmarshal([]byte(run.RoleJSON), &role))
		assert.Equal(t, "architect", role.Persona)

		var params models.CreateRunRequest
		require.NoError(t, json.Unmarshal([]byte(run.ParamsJSON), &params))
		assert.Equal(t, 3, params.CollectiveCount)
		assert.Empty(t, params.RequestedBy, "requester comes from headers, not the stored body")
	})

	t.Run("validates required fields", func(t *testing.T) {
		tests := []struct {
			name string
			req  models.CreateRunRequest
		}{
			{name: "missing task", req: models.CreateRunRequest{Mode: models.ModeSingle}},
			{name: "blank task", req: models.CreateRunRequest{Task: "   "}},
			{name: "unknown mode", req: models.CreateRunRequest{Task: "x", Mode: "parallel"}},
			{name: "unknown budget", req: models.CreateRunRequest{Task: "x", Budget: "free"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := service.CreateRun(ctx, tt.req)
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
			})
		}
	})
}

func TestRunService_GetRun(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	run := createTestRun(t, client, "fetch me")

	got, err := service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "fetch me", got.Task)

	_, err = service.GetRun(ctx, "no-such-run")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunService_ListRuns(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createTestRun(t, client, "list me")
	}
	failed := createTestRun(t, client, "doomed")
	require.NoError(t, service.MarkRunFailed(failed.ID, "boom"))

	t.Run("lists newest first with defaults", func(t *testing.T) {
		resp, err := service.ListRuns(ctx, models.RunFilters{})
		require.NoError(t, err)
		assert.Equal(t, 4, resp.TotalCount)
		assert.Equal(t, 20, resp.Limit)
		assert.Len(t, resp.Runs, 4)
	})

	t.Run("filters by status", func(t *testing.T) {
		resp, err := service.ListRuns(ctx, models.RunFilters{Status: "failed"})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.TotalCount)
		require.Len(t, resp.Runs, 1)
		assert.Equal(t, failed.ID, resp.Runs[0].ID)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := service.ListRuns(ctx, models.RunFilters{Status: "exploded"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("clamps limit to 200", func(t *testing.T) {
		resp, err := service.ListRuns(ctx, models.RunFilters{Limit: 5000})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Limit)
	})

	t.Run("paginates", func(t *testing.T) {
		resp, err := service.ListRuns(ctx, models.RunFilters{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, resp.Runs, 2)
		assert.Equal(t, 2, resp.Offset)
	})
}

func TestRunService_ListActiveRuns(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	first := createTestRun(t, client, "first")
	second := createTestRun(t, client, "second")
	done := createTestRun(t, client, "done")
	require.NoError(t, service.MarkRunCompleted(done.ID))

	active, err := service.ListActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	// Creation order ascending so the queue admits the oldest first
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)
}

func TestRunService_CancelRun(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	t.Run("cancels a queued run and its queued nodes", func(t *testing.T) {
		run := createTestRun(t, client, "cancel me")
		createTestNodes(t, client, run)

		got, err := service.CancelRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCanceled, got.Status)
		assert.NotNil(t, got.FinishedAt)
		assert.Nil(t, got.Error)

		nodes, err := NewNodeService(client, nil).ListNodes(ctx, run.ID)
		require.NoError(t, err)
		for _, n := range nodes {
			assert.Equal(t, models.NodeStatusCanceled, n.Status)
		}

		// Cancellation leaves a warning event behind
		var level, message string
		err = client.DB().QueryRowContext(ctx,
			"SELECT level, message FROM events WHERE run_id = $1", run.ID).Scan(&level, &message)
		require.NoError(t, err)
		assert.Equal(t, "warning", level)
		assert.Equal(t, "Cancellation requested", message)
	})

	t.Run("repeat cancel is a no-op", func(t *testing.T) {
		run := createTestRun(t, client, "cancel twice")
		first, err := service.CancelRun(ctx, run.ID)
		require.NoError(t, err)

		second, err := service.CancelRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.FinishedAt.Unix(), second.FinishedAt.Unix())
	})

	t.Run("completed run is not cancellable", func(t *testing.T) {
		run := createTestRun(t, client, "already done")
		require.NoError(t, service.MarkRunCompleted(run.ID))

		_, err := service.CancelRun(ctx, run.ID)
		assert.ErrorIs(t, err, ErrNotCancellable)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := service.CancelRun(ctx, "no-such-run")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRunService_TerminalTransitions(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	t.Run("failed with reason", func(t *testing.T) {
		run := createTestRun(t, client, "will fail")
		require.NoError(t, service.MarkRunFailed(run.ID, "2 node(s) failed"))

		got, err := service.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "2 node(s) failed", *got.Error)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("canceled with reason", func(t *testing.T) {
		run := createTestRun(t, client, "too expensive")
		require.NoError(t, service.MarkRunCanceled(run.ID, "Budget limit reached"))

		got, err := service.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCanceled, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "Budget limit reached", *got.Error)
	})

	t.Run("terminal status is written once", func(t *testing.T) {
		run := createTestRun(t, client, "decided")
		require.NoError(t, service.MarkRunCompleted(run.ID))

		err := service.MarkRunFailed(run.ID, "late failure")
		assert.ErrorIs(t, err, ErrConcurrentModification)

		got, err := service.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, got.Status)
		assert.Nil(t, got.Error)
	})
}

func TestRunService_GetRunStatus(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	nodeService := NewNodeService(client, nil)
	eventService := NewEventService(client, nil)
	ctx := context.Background()

	run := createTestRun(t, client, "status check")
	cheapID := models.GlobalNodeID(run.ID, "cheap")
	premiumID := models.GlobalNodeID(run.ID, "premium")
	nodes := []*models.Node{
		{ID: cheapID, RunID: run.ID, LocalID: "cheap", Kind: models.NodeKindTask, Wave: 0, MaxRetries: 2},
		{ID: premiumID, RunID: run.ID, LocalID: "premium", Kind: models.NodeKindTask, Wave: 1,
			DependsOn: []string{cheapID}, MaxRetries: 2},
		{ID: models.GlobalNodeID(run.ID, models.MergeNodeLocalID), RunID: run.ID,
			LocalID: models.MergeNodeLocalID, Kind: models.NodeKindMerge, Wave: 2,
			DependsOn: []string{cheapID, premiumID}},
	}
	require.NoError(t, nodeService.CreateNodes(ctx, nodes))

	require.NoError(t, nodeService.MarkNodeRunning(cheapID))
	require.NoError(t, nodeService.CompleteNode(cheapID, 100, 400, 0.0013))
	require.NoError(t, nodeService.SkipNode(premiumID, "Cascade cheap output passed quality gate"))
	_, err := eventService.Append(ctx, models.CreateEventRequest{
		RunID: run.ID, Message: "node cheap completed",
	})
	require.NoError(t, err)

	status, err := service.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, status.RunID)
	assert.Equal(t, 3, status.Progress.Total)
	assert.Equal(t, 2, status.Progress.Done)
	assert.Equal(t, 0, status.Progress.Running)
	assert.Equal(t, 0, status.Progress.Failed)
	assert.InDelta(t, 66.67, status.Progress.Percent, 0.001)
	assert.InDelta(t, 0.0013, status.CostUsd, 1e-9)
	assert.Equal(t, "node cheap completed", status.LastEvent)
	require.Len(t, status.Nodes, 3)
	assert.Equal(t, "cheap", status.Nodes[0].NodeID)

	_, err = service.GetRunStatus(ctx, "no-such-run")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunService_PurgeTerminalRunsBefore(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	old := createTestRun(t, client, "ancient")
	require.NoError(t, service.MarkRunCompleted(old.ID))
	// Backdate the finish so the cutoff catches it
	_, err := client.DB().ExecContext(ctx,
		"UPDATE runs SET finished_at = now() - interval '40 days' WHERE run_id = $1", old.ID)
	require.NoError(t, err)

	fresh := createTestRun(t, client, "recent")
	require.NoError(t, service.MarkRunCompleted(fresh.ID))
	active := createTestRun(t, client, "still queued")

	purged, err := service.PurgeTerminalRunsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, purged)

	_, err = service.GetRun(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = service.GetRun(ctx, fresh.ID)
	require.NoError(t, err)
	_, err = service.GetRun(ctx, active.ID)
	require.NoError(t, err)
}

func TestRunService_StatusStableBetweenTransitions(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	run := createTestRun(t, client, "stable between transitions")

	first, err := service.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	second, err := service.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunService_ClaimNextQueuedRun(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		_, err := service.ClaimNextQueuedRun(ctx, "pod-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	older := createTestRun(t, client, "claim me first")
	time.Sleep(20 * time.Millisecond)
	younger := createTestRun(t, client, "claim me second")

	t.Run("claims oldest and stamps ownership", func(t *testing.T) {
		claimed, err := service.ClaimNextQueuedRun(ctx, "pod-1")
		require.NoError(t, err)
		assert.Equal(t, older.ID, claimed.ID)
		assert.Equal(t, models.RunStatusRunning, claimed.Status)
		require.NotNil(t, claimed.PodID)
		assert.Equal(t, "pod-1", *claimed.PodID)
		assert.NotNil(t, claimed.StartedAt)
		assert.NotNil(t, claimed.LastHeartbeatAt)
	})

	t.Run("next claim gets the younger run", func(t *testing.T) {
		claimed, err := service.ClaimNextQueuedRun(ctx, "pod-2")
		require.NoError(t, err)
		assert.Equal(t, younger.ID, claimed.ID)
	})

	t.Run("drained queue", func(t *testing.T) {
		_, err := service.ClaimNextQueuedRun(ctx, "pod-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRunService_Heartbeat(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	createTestRun(t, client, "beating")
	claimed, err := service.ClaimNextQueuedRun(ctx, "pod-1")
	require.NoError(t, err)
	baseline := *claimed.LastHeartbeatAt

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, service.Heartbeat(claimed.ID))

	got, err := service.GetRun(ctx, claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeatAt)
	assert.True(t, got.LastHeartbeatAt.After(baseline), "heartbeat must advance the timestamp")

	t.Run("ignores runs that are not running", func(t *testing.T) {
		queued := createTestRun(t, client, "not claimed yet")
		require.NoError(t, service.Heartbeat(queued.ID))

		got, err := service.GetRun(ctx, queued.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastHeartbeatAt)
	})
}

func TestRunService_RequeueRunsForPod(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	nodes := NewNodeService(client, nil)
	events := NewEventService(client, nil)
	ctx := context.Background()

	mine := createTestRun(t, client, "cut off mid-flight")
	time.Sleep(20 * time.Millisecond)
	other := createTestRun(t, client, "someone else's run")

	claimedMine, err := service.ClaimNextQueuedRun(ctx, "pod-a")
	require.NoError(t, err)
	require.Equal(t, mine.ID, claimedMine.ID)
	firstStart := *claimedMine.StartedAt

	claimedOther, err := service.ClaimNextQueuedRun(ctx, "pod-b")
	require.NoError(t, err)
	require.Equal(t, other.ID, claimedOther.ID)

	created := createTestNodes(t, client, mine)
	require.NoError(t, nodes.MarkNodeRunning(created[0].ID))

	requeued, err := service.RequeueRunsForPod(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, requeued)

	t.Run("run is queued again without an owner", func(t *testing.T) {
		got, err := service.GetRun(ctx, mine.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusQueued, got.Status)
		assert.Nil(t, got.PodID)
		require.NotNil(t, got.StartedAt, "started_at survives the re-queue")
	})

	t.Run("running nodes are queued again", func(t *testing.T) {
		node, err := nodes.GetNode(ctx, created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.NodeStatusQueued, node.Status)
	})

	t.Run("other pods keep their runs", func(t *testing.T) {
		got, err := service.GetRun(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusRunning, got.Status)
	})

	t.Run("a warning event records the recovery", func(t *testing.T) {
		evts, err := events.GetEventsSince(ctx, mine.ID, 0, 50)
		require.NoError(t, err)
		var found bool
		for _, ev := range evts {
			if ev.Message == "Run re-queued after pod restart" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("second pass finds nothing", func(t *testing.T) {
		again, err := service.RequeueRunsForPod(ctx, "pod-a")
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("re-claim keeps the original start time", func(t *testing.T) {
		reclaimed, err := service.ClaimNextQueuedRun(ctx, "pod-a")
		require.NoError(t, err)
		require.Equal(t, mine.ID, reclaimed.ID)
		assert.True(t, reclaimed.StartedAt.Equal(firstStart), "the run timeout counts from the first claim")
	})
}

func TestRunService_RequeueStaleRuns(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	createTestRun(t, client, "going stale")
	claimed, err := service.ClaimNextQueuedRun(ctx, "pod-gone")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	t.Run("fresh heartbeats are left alone", func(t *testing.T) {
		requeued, err := service.RequeueStaleRuns(ctx, time.Hour)
		require.NoError(t, err)
		assert.Empty(t, requeued)
	})

	t.Run("stale heartbeats are re-queued", func(t *testing.T) {
		requeued, err := service.RequeueStaleRuns(ctx, 20*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, []string{claimed.ID}, requeued)

		got, err := service.GetRun(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusQueued, got.Status)
	})

	t.Run("terminal runs are never touched", func(t *testing.T) {
		done := createTestRun(t, client, "already done")
		require.NoError(t, service.MarkRunCompleted(done.ID))

		requeued, err := service.RequeueStaleRuns(ctx, time.Nanosecond)
		require.NoError(t, err)
		assert.NotContains(t, requeued, done.ID)
	})
}

func TestRunService_CountRunsByStatus(t *testing.T) {
	client := testutil.SetupTestDatabase(t)
	service := NewRunService(client)
	ctx := context.Background()

	createTestRun(t, client, "one")
	createTestRun(t, client, "two")
	createTestRun(t, client, "three")
	_, err := service.ClaimNextQueuedRun(ctx, "pod-a")
	require.NoError(t, err)
	_, err = service.ClaimNextQueuedRun(ctx, "pod-b")
	require.NoError(t, err)

	queued, err := service.CountRunsByStatus(ctx, models.RunStatusQueued, "")
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	running, err := service.CountRunsByStatus(ctx, models.RunStatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, 2, running)

	mine, err := service.CountRunsByStatus(ctx, models.RunStatusRunning, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, 1, mine)

	nobody, err := service.CountRunsByStatus(ctx, models.RunStatusRunning, "pod-z")
	require.NoError(t, err)
	assert.Equal(t, 0, nobody)
}
