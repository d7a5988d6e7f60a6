package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIndex(t *testing.T) {
	assert.Equal(t, 50.0, NormalizeIndex(0))
	assert.Equal(t, 75.0, NormalizeIndex(50))
	assert.Equal(t, 0.0, NormalizeIndex(-100))
	assert.Equal(t, 100.0, NormalizeIndex(100))
	assert.Equal(t, 100.0, NormalizeIndex(250), "values past the scale clamp")
}

func TestNormalizeElo(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeElo(1000))
	assert.Equal(t, 50.0, NormalizeElo(1250))
	assert.Equal(t, 100.0, NormalizeElo(1500))
	assert.Equal(t, 0.0, NormalizeElo(800), "sub-floor ratings clamp to zero")
	assert.Equal(t, 100.0, NormalizeElo(1700))
}

func TestOpenRouterClient_FetchCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{
				"id": "openai/gpt-4o",
				"name": "GPT-4o",
				"context_length": 128000,
				"pricing": {"prompt": "0.0000025", "completion": "0.00001"},
				"architecture": {"input_modalities": ["text", "image"]},
				"supported_parameters": ["tools", "response_format", "temperature"]
			},
			{
				"id": "deepseek/deepseek-r1",
				"name": "DeepSeek R1",
				"context_length": 64000,
				"hugging_face_id": "deepseek-ai/DeepSeek-R1",
				"pricing": {"prompt": "0.00000055", "completion": "0.00000219"},
				"architecture": {"input_modalities": ["text"]},
				"supported_parameters": ["include_reasoning"]
			},
			{"id": "", "name": "malformed entry skipped"}
		]}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(server.URL+"/api/v1", "test-key")
	entries, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	gpt := entries[0]
	assert.Equal(t, "openai/gpt-4o", gpt.ID)
	assert.Equal(t, "openai", gpt.Provider)
	assert.Equal(t, int64(128000), gpt.ContextLength)
	assert.InDelta(t, 2.5, gpt.Pricing.Prompt, 1e-9, "prices convert to USD per 1M tokens")
	assert.InDelta(t, 10.0, gpt.Pricing.Completion, 1e-9)
	assert.True(t, gpt.Capabilities.Vision)
	assert.True(t, gpt.Capabilities.FunctionCalling)
	assert.True(t, gpt.Capabilities.JSON)
	assert.True(t, gpt.Capabilities.Streaming)
	assert.False(t, gpt.Capabilities.Reasoning)
	assert.Equal(t, []string{SourceOpenRouter}, gpt.SourcesCovered)

	r1 := entries[1]
	assert.Equal(t, "deepseek", r1.Provider)
	assert.True(t, r1.Capabilities.Reasoning)
	assert.False(t, r1.Capabilities.Vision)
	assert.Equal(t, "deepseek-ai/DeepSeek-R1", r1.HuggingFaceID)
}

func TestOpenRouterClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewOpenRouterClient(server.URL, "")
	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestArtificialAnalysisClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/llms/models", r.URL.Path)
		assert.Equal(t, "aa-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{
				"name": "GPT-4o",
				"slug": "gpt-4o",
				"model_creator": {"slug": "openai"},
				"evaluations": {
					"artificial_analysis_intelligence_index": 40,
					"artificial_analysis_coding_index": -20,
					"mmlu_pro": 0.74,
					"gpqa": 0.53
				},
				"median_output_tokens_per_second": 86.2,
				"median_time_to_first_token_seconds": 0.44
			},
			{"name": "No Evals", "slug": "no-evals", "evaluations": {}}
		]}`))
	}))
	defer server.Close()

	client := NewArtificialAnalysisClient(server.URL, "aa-key")
	rows, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1, "entries without evaluations are dropped")

	row := rows[0]
	assert.Equal(t, "openai/gpt-4o", row.Name)
	assert.Equal(t, 70.0, row.Fields["intelligenceIndex"])
	assert.Equal(t, 40.0, row.Fields["codingIndex"])
	assert.InDelta(t, 74.0, row.Fields["mmluPro"], 1e-9)
	assert.InDelta(t, 53.0, row.Fields["gpqa"], 1e-9)
	assert.NotContains(t, row.Fields, "mathIndex")
	assert.Equal(t, 86.2, row.Speed.OutputTokensPerSecond)
	assert.Equal(t, 0.44, row.Speed.TimeToFirstToken)
}

func TestHuggingFaceClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/leaderboard/formatted", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{
				"model": {"name": "meta-llama/Meta-Llama-3.1-70B-Instruct"},
				"evaluations": {
					"mmlu_pro": {"normalized_score": 46.4},
					"gpqa": {"normalized_score": 18.9},
					"bbh": {"normalized_score": 55.1}
				}
			}
		]`))
	}))
	defer server.Close()

	client := NewHuggingFaceClient(server.URL)
	rows, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "meta-llama/Meta-Llama-3.1-70B-Instruct", row.Name)
	assert.Equal(t, 46.4, row.Fields["mmluPro"])
	assert.Equal(t, 18.9, row.Fields["gpqa"])
	assert.NotContains(t, row.Fields, "bbh", "suites without a scoring consumer are dropped")
}

func TestLMArenaClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leaderboard.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models": [
			{"model": "gpt-4o-2024-05-13", "rating": 1285},
			{"model": "zeroed-out", "rating": 0}
		]}`))
	}))
	defer server.Close()

	client := NewLMArenaClient(server.URL)
	rows, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gpt-4o-2024-05-13", rows[0].Name)
	assert.InDelta(t, 57.0, rows[0].Fields["arena"], 1e-9)
}

func TestLiveBenchClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/leaderboard.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"model": "claude-3-5-sonnet", "reasoning": 61.2, "coding": 66.7, "agentic_coding": 34.0, "language": 58.3},
			{"model": "partial", "coding": 40.5}
		]`))
	}))
	defer server.Close()

	client := NewLiveBenchClient(server.URL)
	rows, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	full := rows[0]
	assert.Equal(t, 61.2, full.Fields["liveBenchReasoning"])
	assert.Equal(t, 66.7, full.Fields["liveBenchCoding"])
	assert.Equal(t, 34.0, full.Fields["liveBenchAgenticCoding"])
	assert.Equal(t, 58.3, full.Fields["liveBenchLanguage"])

	partial := rows[1]
	assert.Equal(t, map[string]float64{"liveBenchCoding": 40.5}, partial.Fields)
}
