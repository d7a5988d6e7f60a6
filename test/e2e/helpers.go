package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP helpers
// ────────────────────────────────────────────────────────────

// CreateRun posts a run and returns its id.
func (app *TestApp) CreateRun(t *testing.T, body map[string]any) string {
	t.Helper()
	resp := app.postJSON(t, "/api/v1/runs", body, http.StatusAccepted)
	runID, ok := resp["run_id"].(string)
	require.True(t, ok, "create response missing run_id: %v", resp)
	require.NotEmpty(t, runID)
	return runID
}

// GetRunStatus calls GET /api/v1/runs/:id/status.
func (app *TestApp) GetRunStatus(t *testing.T, runID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/api/v1/runs/"+runID+"/status", http.StatusOK)
}

// GetRunResult calls GET /api/v1/runs/:id/result.
func (app *TestApp) GetRunResult(t *testing.T, runID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/api/v1/runs/"+runID+"/result", http.StatusOK)
}

// CancelRun calls POST /api/v1/runs/:id/cancel.
func (app *TestApp) CancelRun(t *testing.T, runID string) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/v1/runs/"+runID+"/cancel", nil, http.StatusOK)
}

// GetArtifact calls GET /api/v1/runs/:id/artifacts/:node_id.
func (app *TestApp) GetArtifact(t *testing.T, runID, nodeID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/api/v1/runs/"+runID+"/artifacts/"+nodeID, http.StatusOK)
}

// EventMessages returns the run's event messages, oldest first.
func (app *TestApp) EventMessages(t *testing.T, runID string) []string {
	t.Helper()
	resp := app.getJSON(t, "/api/v1/runs/"+runID+"/events", http.StatusOK)
	raw, ok := resp["events"].([]any)
	require.True(t, ok, "events response missing events array: %v", resp)

	messages := make([]string, 0, len(raw))
	for _, e := range raw {
		entry, ok := e.(map[string]any)
		require.True(t, ok)
		msg, _ := entry["message"].(string)
		messages = append(messages, msg)
	}
	return messages
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status", path)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// Wait helpers
// ────────────────────────────────────────────────────────────

// WaitForRunTerminal polls until the run reaches a terminal status and
// returns it. Waiting for the terminal set rather than one expected value
// keeps the failure message useful when a run ends the wrong way.
func (app *TestApp) WaitForRunTerminal(t *testing.T, runID string) models.RunStatus {
	t.Helper()
	var last models.RunStatus
	ok := assert.Eventually(t, func() bool {
		run, err := app.Runs.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		last = run.Status
		return run.Status.IsTerminal()
	}, 30*time.Second, 100*time.Millisecond)
	if !ok {
		t.Fatalf("run %s never reached a terminal status (last: %q)", runID, last)
	}
	return last
}

// WaitForNodeStatus polls until the node reaches one of the expected
// statuses and returns it.
func (app *TestApp) WaitForNodeStatus(t *testing.T, runID, localID string, expected ...models.NodeStatus) models.NodeStatus {
	t.Helper()
	var last models.NodeStatus
	ok := assert.Eventually(t, func() bool {
		node := app.findNode(runID, localID)
		if node == nil {
			return false
		}
		last = node.Status
		for _, exp := range expected {
			if node.Status == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 50*time.Millisecond)
	if !ok {
		t.Fatalf("node %s/%s never reached %v (last: %q)", runID, localID, expected, last)
	}
	return last
}

func (app *TestApp) findNode(runID, localID string) *models.Node {
	nodes, err := app.Nodes.ListNodes(context.Background(), runID)
	if err != nil {
		return nil
	}
	for _, n := range nodes {
		if n.LocalID == localID {
			return n
		}
	}
	return nil
}

// ────────────────────────────────────────────────────────────
// Node assertions
// ────────────────────────────────────────────────────────────

// ListNodes returns the run's nodes ordered by wave.
func (app *TestApp) ListNodes(t *testing.T, runID string) []*models.Node {
	t.Helper()
	nodes, err := app.Nodes.ListNodes(context.Background(), runID)
	require.NoError(t, err)
	return nodes
}

// NodeByLocalID returns the node with the given local id, failing the test
// when it does not exist.
func NodeByLocalID(t *testing.T, nodes []*models.Node, localID string) *models.Node {
	t.Helper()
	for _, n := range nodes {
		if n.LocalID == localID {
			return n
		}
	}
	t.Fatalf("no node with local id %q", localID)
	return nil
}

// ────────────────────────────────────────────────────────────
// JSON accessors
// ────────────────────────────────────────────────────────────

func jsonString(t *testing.T, m map[string]any, key string) string {
	t.Helper()
	v, ok := m[key].(string)
	require.True(t, ok, "%q is not a string in %v", key, m)
	return v
}

func jsonNumber(t *testing.T, m map[string]any, key string) float64 {
	t.Helper()
	v, ok := m[key].(float64)
	require.True(t, ok, "%q is not a number in %v", key, m)
	return v
}

func jsonMap(t *testing.T, m map[string]any, key string) map[string]any {
	t.Helper()
	v, ok := m[key].(map[string]any)
	require.True(t, ok, "%q is not an object in %v", key, m)
	return v
}

func jsonArray(t *testing.T, m map[string]any, key string) []any {
	t.Helper()
	v, ok := m[key].([]any)
	require.True(t, ok, "%q is not an array in %v", key, m)
	return v
}

// requireAcyclic runs Kahn's algorithm over the dependency edges and fails
// if any node never becomes ready.
func requireAcyclic(t *testing.T, nodes []*models.Node) {
	t.Helper()

	indeg := make(map[string]int, len(nodes))
	succs := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indeg[n.ID] += 0
		for _, dep := range n.DependsOn {
			succs[dep] = append(succs[dep], n.ID)
			indeg[n.ID]++
		}
	}

	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	visited := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		visited++
		for _, succ := range succs[id] {
			indeg[succ]--
			if indeg[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}
	require.Equal(t, len(nodes), visited, "dependency graph contains a cycle")
}
