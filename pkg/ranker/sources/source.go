// Package sources implements the benchmark feed clients the ranker merges
// during a catalog refresh. OpenRouter is the authoritative catalog feed;
// the remaining sources contribute normalized benchmark rows that the
// ranker matches onto catalog entries by name.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/troupe-ai/troupe/pkg/models"
)

// Row is one model's contribution from a benchmark source: a raw model name
// as the source spells it, normalized 0-100 benchmark fields, and optional
// speed measurements. Rows are cached in the catalog snapshot so a failed
// fetch can fall back to last-known-good data.
type Row struct {
	// Name is the source's spelling of the model, resolved to a canonical
	// catalog id by the matcher.
	Name string `json:"name"`

	// Fields maps benchmark keys (arena, mmluPro, liveCodeBench, ...) to
	// values already normalized to the 0-100 convention.
	Fields map[string]float64 `json:"fields"`

	Speed models.Speed `json:"speed,omitempty"`
}

// Source is a benchmark feed pulled during refresh. Fetch returns every row
// the feed currently publishes with fields normalized to 0-100.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Row, error)
}

// Source names as they appear in sourcesCovered and status reporting.
const (
	SourceOpenRouter         = "openrouter"
	SourceArtificialAnalysis = "artificialanalysis"
	SourceHuggingFace        = "huggingface"
	SourceLMArena            = "lmarena"
	SourceLiveBench          = "livebench"
)

// NormalizeIndex maps an Artificial Analysis index from its [-100,+100]
// scale onto 0-100.
func NormalizeIndex(raw float64) float64 {
	return clamp((raw+100)/2, 0, 100)
}

// NormalizeFraction maps an accuracy fraction in [0,1] onto 0-100.
func NormalizeFraction(raw float64) float64 {
	return clamp(raw*100, 0, 100)
}

// NormalizeElo maps a Chatbot Arena ELO rating onto 0-100, anchoring 1000
// at the floor and 1500 at the ceiling.
func NormalizeElo(elo float64) float64 {
	return clamp((elo-1000)/500*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// getJSON fetches url and decodes the response body into v. Non-2xx
// responses become errors carrying the status code and a body snippet.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("returned status %d: %s", resp.StatusCode, bodySnippet(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func bodySnippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
