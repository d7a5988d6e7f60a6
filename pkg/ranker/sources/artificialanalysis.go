package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ArtificialAnalysisClient pulls model evaluations from the Artificial
// Analysis API. Its composite indices arrive on a [-100,+100] scale and its
// accuracy fields as fractions; both are normalized here. AA is the highest
// priority auxiliary source, so its fields win over HuggingFace's.
type ArtificialAnalysisClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewArtificialAnalysisClient creates a client. The feed requires a key;
// without one every fetch fails and the source reports stale.
func NewArtificialAnalysisClient(baseURL, apiKey string) *ArtificialAnalysisClient {
	return &ArtificialAnalysisClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Name returns the source identifier.
func (c *ArtificialAnalysisClient) Name() string { return SourceArtificialAnalysis }

type aaResponse struct {
	Data []aaModel `json:"data"`
}

type aaModel struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ModelCreator struct {
		Slug string `json:"slug"`
	} `json:"model_creator"`
	Evaluations struct {
		IntelligenceIndex *float64 `json:"artificial_analysis_intelligence_index"`
		CodingIndex       *float64 `json:"artificial_analysis_coding_index"`
		MathIndex         *float64 `json:"artificial_analysis_math_index"`
		MMLUPro           *float64 `json:"mmlu_pro"`
		GPQA              *float64 `json:"gpqa"`
		LiveCodeBench     *float64 `json:"livecodebench"`
	} `json:"evaluations"`
	MedianOutputTokensPerSecond float64 `json:"median_output_tokens_per_second"`
	MedianTimeToFirstToken      float64 `json:"median_time_to_first_token_seconds"`
}

// Fetch returns one row per evaluated model with index fields mapped from
// [-100,+100] and accuracy fractions multiplied onto 0-100.
func (c *ArtificialAnalysisClient) Fetch(ctx context.Context) ([]Row, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}

	var payload aaResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/data/llms/models", headers, &payload); err != nil {
		return nil, fmt.Errorf("artificialanalysis fetch: %w", err)
	}

	rows := make([]Row, 0, len(payload.Data))
	for _, raw := range payload.Data {
		name := raw.Slug
		if name == "" {
			name = raw.Name
		}
		if name == "" {
			continue
		}
		// Prefix the creator slug so the matcher can try a full-id match
		// before falling back to the bare model part.
		if raw.ModelCreator.Slug != "" {
			name = raw.ModelCreator.Slug + "/" + name
		}

		fields := map[string]float64{}
		ev := raw.Evaluations
		if ev.IntelligenceIndex != nil {
			fields["intelligenceIndex"] = NormalizeIndex(*ev.IntelligenceIndex)
		}
		if ev.CodingIndex != nil {
			fields["codingIndex"] = NormalizeIndex(*ev.CodingIndex)
		}
		if ev.MathIndex != nil {
			fields["mathIndex"] = NormalizeIndex(*ev.MathIndex)
		}
		if ev.MMLUPro != nil {
			fields["mmluPro"] = NormalizeFraction(*ev.MMLUPro)
		}
		if ev.GPQA != nil {
			fields["gpqa"] = NormalizeFraction(*ev.GPQA)
		}
		if ev.LiveCodeBench != nil {
			fields["liveCodeBench"] = NormalizeFraction(*ev.LiveCodeBench)
		}
		if len(fields) == 0 {
			continue
		}

		row := Row{Name: name, Fields: fields}
		row.Speed.OutputTokensPerSecond = raw.MedianOutputTokensPerSecond
		row.Speed.TimeToFirstToken = raw.MedianTimeToFirstToken
		rows = append(rows, row)
	}
	return rows, nil
}
