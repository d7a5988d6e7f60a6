package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
)

// createTestRun inserts a queued run to hang nodes, events and artifacts off.
func createTestRun(t *testing.T, client *database.Client, task string) *models.Run {
	t.Helper()
	run, err := NewRunService(client).CreateRun(context.Background(), models.CreateRunRequest{
		Task: task,
		Mode: models.ModeSingle,
	})
	require.NoError(t, err)
	return run
}

// createTestNodes inserts a minimal task + merge DAG for a run.
func createTestNodes(t *testing.T, client *database.Client, run *models.Run) []*models.Node {
	t.Helper()
	nodes := []*models.Node{
		{
			ID:         models.GlobalNodeID(run.ID, "n1"),
			RunID:      run.ID,
			LocalID:    "n1",
			Kind:       models.NodeKindTask,
			Wave:       0,
			Task:       run.Task,
			Model:      "openai/gpt-4o-mini",
			MaxRetries: 2,
			Meta:       models.NodeMeta{models.MetaMode: "single"},
		},
		{
			ID:        models.GlobalNodeID(run.ID, models.MergeNodeLocalID),
			RunID:     run.ID,
			LocalID:   models.MergeNodeLocalID,
			Kind:      models.NodeKindMerge,
			Wave:      1,
			DependsOn: []string{models.GlobalNodeID(run.ID, "n1")},
			Task:      run.Task,
			Model:     "openai/gpt-4o-mini",
		},
	}
	require.NoError(t, NewNodeService(client, nil).CreateNodes(context.Background(), nodes))
	return nodes
}
