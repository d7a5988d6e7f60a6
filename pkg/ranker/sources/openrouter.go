package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/troupe-ai/troupe/pkg/models"
)

// OpenRouterClient pulls the model catalog from the OpenRouter listing API.
// It is the authoritative source for catalog membership, pricing,
// capabilities and context length; a refresh aborts when it returns nothing.
type OpenRouterClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenRouterClient creates a catalog client. The API key is optional;
// the model listing is public.
func NewOpenRouterClient(baseURL, apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Name returns the source identifier.
func (c *OpenRouterClient) Name() string { return SourceOpenRouter }

type openRouterResponse struct {
	Data []openRouterModel `json:"data"`
}

type openRouterModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int64  `json:"context_length"`
	HuggingFaceID string `json:"hugging_face_id"`
	Pricing       struct {
		// USD per token, serialized as decimal strings.
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	Architecture struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture"`
	SupportedParameters []string `json:"supported_parameters"`
}

// FetchCatalog returns one skeleton entry per listed model: identity,
// pricing, capabilities and context length, with no benchmarks yet.
func (c *OpenRouterClient) FetchCatalog(ctx context.Context) ([]*models.EnrichedModel, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var payload openRouterResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/models", headers, &payload); err != nil {
		return nil, fmt.Errorf("openrouter models fetch: %w", err)
	}

	entries := make([]*models.EnrichedModel, 0, len(payload.Data))
	for _, raw := range payload.Data {
		if raw.ID == "" {
			continue
		}
		entries = append(entries, c.toModel(raw))
	}
	return entries, nil
}

func (c *OpenRouterClient) toModel(raw openRouterModel) *models.EnrichedModel {
	provider := raw.ID
	if idx := strings.Index(raw.ID, "/"); idx > 0 {
		provider = raw.ID[:idx]
	}

	m := &models.EnrichedModel{
		ID:            raw.ID,
		Provider:      provider,
		Name:          raw.Name,
		ContextLength: raw.ContextLength,
		Pricing: models.Pricing{
			Prompt:     perMillion(raw.Pricing.Prompt),
			Completion: perMillion(raw.Pricing.Completion),
		},
		HuggingFaceID:  raw.HuggingFaceID,
		SourcesCovered: []string{SourceOpenRouter},
	}

	for _, mod := range raw.Architecture.InputModalities {
		if mod == "image" {
			m.Capabilities.Vision = true
		}
	}
	for _, p := range raw.SupportedParameters {
		switch p {
		case "tools", "tool_choice":
			m.Capabilities.FunctionCalling = true
		case "reasoning", "include_reasoning":
			m.Capabilities.Reasoning = true
		case "response_format", "structured_outputs":
			m.Capabilities.JSON = true
		}
	}
	// Every model behind the OpenRouter gateway streams.
	m.Capabilities.Streaming = true

	return m
}

// perMillion converts OpenRouter's USD-per-token price string to USD per 1M
// tokens. Unparseable values read as zero (free tier).
func perMillion(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v * 1e6
}
