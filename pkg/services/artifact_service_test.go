package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/artifacts"
	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
	testutil "github.com/troupe-ai/troupe/test/util"
)

func setupArtifactService(t *testing.T) (*database.Client, *ArtifactService) {
	t.Helper()
	client := testutil.SetupTestDatabase(t)
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	return client, NewArtifactService(client, store)
}

func TestArtifactService_SaveArtifact(t *testing.T) {
	client, service := setupArtifactService(t)
	ctx := context.Background()

	run := createTestRun(t, client, "persist me")
	body := []byte(`{"output":"hello"}`)

	artifact, err := service.SaveArtifact(ctx, run.ID, "n1", models.ArtifactTypeRaw, body)
	require.NoError(t, err)
	assert.Equal(t, run.ID, artifact.RunID)
	assert.Equal(t, "n1", artifact.NodeID)
	assert.Equal(t, filepath.Join(run.ID, "n1.json"), artifact.Path)
	assert.Equal(t, int64(len(body)), artifact.Bytes)

	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), artifact.SHA256)

	onDisk, err := os.ReadFile(filepath.Join(service.Store().Root(), artifact.Path))
	require.NoError(t, err)
	assert.Equal(t, body, onDisk)

	content, err := service.ReadContent(artifact)
	require.NoError(t, err)
	assert.Equal(t, body, content)

	t.Run("merged artifacts are markdown", func(t *testing.T) {
		merged, err := service.SaveArtifact(ctx, run.ID, models.MergeNodeLocalID,
			models.ArtifactTypeMerged, []byte("# Merged Output\n\nhello"))
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(merged.Path, "merged.md"))
	})

	t.Run("validates input", func(t *testing.T) {
		_, err := service.SaveArtifact(ctx, "", "n1", models.ArtifactTypeRaw, body)
		assert.True(t, IsValidationError(err))
		_, err = service.SaveArtifact(ctx, run.ID, "", models.ArtifactTypeRaw, body)
		assert.True(t, IsValidationError(err))
		_, err = service.SaveArtifact(ctx, run.ID, "n1", "zip", body)
		assert.True(t, IsValidationError(err))
	})
}

func TestArtifactService_GetLatest(t *testing.T) {
	client, service := setupArtifactService(t)
	ctx := context.Background()

	run := createTestRun(t, client, "retry history")

	first, err := service.SaveArtifact(ctx, run.ID, "n1", models.ArtifactTypeRaw, []byte(`{"output":"attempt one"}`))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	second, err := service.SaveArtifact(ctx, run.ID, "n1", models.ArtifactTypeRaw, []byte(`{"output":"attempt two"}`))
	require.NoError(t, err)

	// The retried write landed next to the original, not over it
	assert.Equal(t, filepath.Join(run.ID, "n1.json"), first.Path)
	assert.Equal(t, filepath.Join(run.ID, "n1.2.json"), second.Path)

	latest, err := service.GetLatest(ctx, run.ID, "n1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	content, err := service.ReadContent(latest)
	require.NoError(t, err)
	assert.Contains(t, string(content), "attempt two")

	_, err = service.GetLatest(ctx, run.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArtifactService_BuildRunResult(t *testing.T) {
	client, service := setupArtifactService(t)
	runService := NewRunService(client)
	nodeService := NewNodeService(client, nil)
	ctx := context.Background()

	run := createTestRun(t, client, "full result")
	nodes := createTestNodes(t, client, run)

	require.NoError(t, nodeService.MarkNodeRunning(nodes[0].ID))
	require.NoError(t, nodeService.CompleteNode(nodes[0].ID, 200, 800, 0.0026))

	longOutput := strings.Repeat("x", models.RawOutputLimit+50)
	rawBody, err := json.Marshal(models.RawOutput{
		RunID:  run.ID,
		NodeID: "n1",
		Model:  "openai/gpt-4o-mini",
		Output: longOutput,
		Tokens: models.TokenUsage{Prompt: 200, Completion: 800, Total: 1000},
	})
	require.NoError(t, err)
	_, err = service.SaveArtifact(ctx, run.ID, "n1", models.ArtifactTypeRaw, rawBody)
	require.NoError(t, err)

	planBody, err := json.Marshal(models.PlannedRun{
		RunID:   run.ID,
		Mode:    models.ModeSingle,
		Summary: "single: 1 task node plus merge",
	})
	require.NoError(t, err)
	_, err = service.SaveArtifact(ctx, run.ID, models.PlanNodeID, models.ArtifactTypePlan, planBody)
	require.NoError(t, err)

	_, err = service.SaveArtifact(ctx, run.ID, models.MergeNodeLocalID,
		models.ArtifactTypeMerged, []byte("# Merged Output\n\nthe answer"))
	require.NoError(t, err)

	require.NoError(t, runService.MarkRunCompleted(run.ID))
	freshRun, err := runService.GetRun(ctx, run.ID)
	require.NoError(t, err)
	freshNodes, err := nodeService.ListNodes(ctx, run.ID)
	require.NoError(t, err)

	t.Run("with raw outputs", func(t *testing.T) {
		result, err := service.BuildRunResult(ctx, freshRun, freshNodes, true)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, result.Status)
		assert.Equal(t, "# Merged Output\n\nthe answer", result.MergedOutput)
		assert.Equal(t, "single: 1 task node plus merge", result.Summary)
		assert.Len(t, result.Artifacts, 3)
		assert.Equal(t, int64(200), result.Cost.Prompt)
		assert.Equal(t, int64(800), result.Cost.Completion)
		assert.InDelta(t, 0.0026, result.Cost.Usd, 1e-9)

		require.Len(t, result.RawOutputs, 1)
		entry := result.RawOutputs[0]
		assert.Equal(t, "n1", entry.NodeID)
		assert.Equal(t, "openai/gpt-4o-mini", entry.Model)
		assert.Len(t, entry.Output, models.RawOutputLimit)
		assert.True(t, entry.Truncated)
	})

	t.Run("without raw outputs", func(t *testing.T) {
		result, err := service.BuildRunResult(ctx, freshRun, freshNodes, false)
		require.NoError(t, err)
		assert.Empty(t, result.RawOutputs)
		assert.NotEmpty(t, result.MergedOutput)
	})
}
