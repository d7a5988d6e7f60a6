package queue

import (
	"encoding/json"

	"github.com/troupe-ai/troupe/pkg/models"
)

// DAG bookkeeping over the node listing fetched during the current tick.

func nodesByID(nodes []*models.Node) map[string]*models.Node {
	byID := make(map[string]*models.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return byID
}

func allTerminal(nodes []*models.Node) bool {
	for _, n := range nodes {
		if !n.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func countStatus(nodes []*models.Node, status models.NodeStatus) int {
	count := 0
	for _, n := range nodes {
		if n.Status == status {
			count++
		}
	}
	return count
}

// readyNodes returns queued nodes whose dependencies all reached a satisfying
// terminal state (completed or skipped). Wave numbers play no part here.
func readyNodes(nodes []*models.Node) []*models.Node {
	byID := nodesByID(nodes)
	var ready []*models.Node
	for _, n := range nodes {
		if n.Status != models.NodeStatusQueued {
			continue
		}
		ok := true
		for _, depID := range n.DependsOn {
			dep, found := byID[depID]
			if !found || !dep.Status.Satisfies() {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}

// rawOutputText extracts the output field from a raw artifact body, falling
// back to the body itself when it is not raw-output JSON.
func rawOutputText(body []byte) string {
	output, ok := parsedOutput(body)
	if !ok {
		return string(body)
	}
	return output
}

// parsedOutput strictly decodes a raw artifact body.
func parsedOutput(body []byte) (string, bool) {
	var raw models.RawOutput
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", false
	}
	return raw.Output, true
}
