package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HuggingFaceClient pulls the Open LLM Leaderboard. Its normalized scores
// are already on the 0-100 convention and pass through unchanged. Fields
// here are overwritten by Artificial Analysis when both report a model.
type HuggingFaceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHuggingFaceClient creates a leaderboard client.
func NewHuggingFaceClient(baseURL string) *HuggingFaceClient {
	return &HuggingFaceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Name returns the source identifier.
func (c *HuggingFaceClient) Name() string { return SourceHuggingFace }

type hfEntry struct {
	Model struct {
		Name string `json:"name"`
	} `json:"model"`
	Evaluations map[string]struct {
		NormalizedScore float64 `json:"normalized_score"`
	} `json:"evaluations"`
}

// leaderboard evaluation keys carried into the catalog. The remaining
// leaderboard suites (BBH, MUSR, IFEval) have no consumer in scoring.
var hfFieldNames = map[string]string{
	"mmlu_pro": "mmluPro",
	"gpqa":     "gpqa",
}

// Fetch returns one row per leaderboard entry keyed by the repository name.
func (c *HuggingFaceClient) Fetch(ctx context.Context) ([]Row, error) {
	var payload []hfEntry
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/api/leaderboard/formatted", nil, &payload); err != nil {
		return nil, fmt.Errorf("huggingface fetch: %w", err)
	}

	rows := make([]Row, 0, len(payload))
	for _, raw := range payload {
		if raw.Model.Name == "" {
			continue
		}
		fields := map[string]float64{}
		for key, ev := range raw.Evaluations {
			if mapped, ok := hfFieldNames[key]; ok {
				fields[mapped] = clamp(ev.NormalizedScore, 0, 100)
			}
		}
		if len(fields) == 0 {
			continue
		}
		rows = append(rows, Row{Name: raw.Model.Name, Fields: fields})
	}
	return rows, nil
}
