package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// LiveBenchClient pulls per-category averages from the LiveBench
// leaderboard. Values are already 0-100 and its field names collide with no
// other source, so they merge without priority rules.
type LiveBenchClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLiveBenchClient creates a leaderboard client.
func NewLiveBenchClient(baseURL string) *LiveBenchClient {
	return &LiveBenchClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Name returns the source identifier.
func (c *LiveBenchClient) Name() string { return SourceLiveBench }

type liveBenchEntry struct {
	Model         string   `json:"model"`
	Reasoning     *float64 `json:"reasoning"`
	Coding        *float64 `json:"coding"`
	AgenticCoding *float64 `json:"agentic_coding"`
	Language      *float64 `json:"language"`
}

// Fetch returns one row per leaderboard model with the per-category
// averages the scorer consumes.
func (c *LiveBenchClient) Fetch(ctx context.Context) ([]Row, error) {
	var payload []liveBenchEntry
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/api/leaderboard.json", nil, &payload); err != nil {
		return nil, fmt.Errorf("livebench fetch: %w", err)
	}

	rows := make([]Row, 0, len(payload))
	for _, raw := range payload {
		if raw.Model == "" {
			continue
		}
		fields := map[string]float64{}
		set := func(key string, v *float64) {
			if v != nil {
				fields[key] = clamp(*v, 0, 100)
			}
		}
		set("liveBenchReasoning", raw.Reasoning)
		set("liveBenchCoding", raw.Coding)
		set("liveBenchAgenticCoding", raw.AgenticCoding)
		set("liveBenchLanguage", raw.Language)
		if len(fields) == 0 {
			continue
		}
		rows = append(rows, Row{Name: raw.Model, Fields: fields})
	}
	return rows, nil
}
