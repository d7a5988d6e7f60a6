package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// LMArenaClient pulls Chatbot Arena ELO ratings from the published
// leaderboard snapshot. ELO maps linearly onto 0-100 with 1000 at the floor
// and 1500 at the ceiling, producing the `arena` benchmark field.
type LMArenaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLMArenaClient creates an arena leaderboard client.
func NewLMArenaClient(baseURL string) *LMArenaClient {
	return &LMArenaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Name returns the source identifier.
func (c *LMArenaClient) Name() string { return SourceLMArena }

type arenaLeaderboard struct {
	Models []struct {
		Model  string  `json:"model"`
		Rating float64 `json:"rating"`
	} `json:"models"`
}

// Fetch returns one row per arena entry with the normalized ELO under the
// `arena` field.
func (c *LMArenaClient) Fetch(ctx context.Context) ([]Row, error) {
	var payload arenaLeaderboard
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/leaderboard.json", nil, &payload); err != nil {
		return nil, fmt.Errorf("lmarena fetch: %w", err)
	}

	rows := make([]Row, 0, len(payload.Models))
	for _, raw := range payload.Models {
		if raw.Model == "" || raw.Rating <= 0 {
			continue
		}
		rows = append(rows, Row{
			Name:   raw.Model,
			Fields: map[string]float64{"arena": NormalizeElo(raw.Rating)},
		})
	}
	return rows, nil
}
