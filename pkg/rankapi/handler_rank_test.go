package rankapi

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-ai/troupe/pkg/models"
)

func pickURL(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/pick?" + q.Encode()
}

func TestPickHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("best model in band", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, pickURL(map[string]string{
			"task":   "Implement a parser function",
			"budget": "medium",
		}), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var pick models.RankedModel
		decodeData(t, rec, &pick)
		assert.Equal(t, "anthropic/claude-sonnet-4", pick.Model)
		assert.Equal(t, "anthropic", pick.Provider)
		assert.Equal(t, models.CategoryCoding, pick.Category)
		assert.Equal(t, models.TierPremium, pick.Tier)
	})

	t.Run("low budget narrows the field", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, pickURL(map[string]string{
			"task":   "Implement a parser function",
			"budget": "low",
		}), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var pick models.RankedModel
		decodeData(t, rec, &pick)
		assert.Equal(t, "openai/gpt-4o-mini", pick.Model)
	})

	t.Run("missing task", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/pick", nil)
		requireErrorCode(t, rec, http.StatusBadRequest, codeMissingParam)
	})

	t.Run("invalid budget", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, pickURL(map[string]string{
			"task":   "Implement a parser function",
			"budget": "luxury",
		}), nil)
		requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParam)
	})

	t.Run("exclusion emptying the band is NO_MODEL", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, pickURL(map[string]string{
			"task":    "Implement a parser function",
			"budget":  "low",
			"exclude": "openai/gpt-4o-mini",
		}), nil)
		requireErrorCode(t, rec, http.StatusNotFound, codeNoModel)
	})
}

func TestRecommendHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("default count with provider diversity", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/recommend?"+url.Values{
			"task":   {"Implement a parser function"},
			"budget": {"medium"},
		}.Encode(), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var recs []models.RankedModel
		decodeData(t, rec, &recs)
		require.Len(t, recs, 3)
		// Diversity first (anthropic then openai), then score top-up.
		assert.Equal(t, "anthropic/claude-sonnet-4", recs[0].Model)
		assert.Equal(t, "openai/gpt-4o", recs[1].Model)
		assert.Equal(t, "openai/gpt-4o-mini", recs[2].Model)
	})

	t.Run("explicit count", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/recommend?"+url.Values{
			"task":  {"Implement a parser function"},
			"count": {"1"},
		}.Encode(), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var recs []models.RankedModel
		decodeData(t, rec, &recs)
		require.Len(t, recs, 1)
	})

	t.Run("invalid count", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/recommend?task=x&count=abc", nil)
		requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParam)
	})

	t.Run("zero count", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/recommend?task=x&count=0", nil)
		requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParam)
	})

	t.Run("missing task", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/recommend?count=2", nil)
		requireErrorCode(t, rec, http.StatusBadRequest, codeMissingParam)
	})
}

func TestDecomposeHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("numbered list splits", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/decompose", models.DecomposeRequest{
			Task:   "1. Design the schema\n2. Implement the API",
			Budget: models.BudgetMedium,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var result models.DecomposeResult
		decodeData(t, rec, &result)
		assert.True(t, result.Decomposed)
		assert.Equal(t, "numbered", result.Method)
		require.Len(t, result.Subtasks, 2)
		assert.Equal(t, models.CategoryCoding, result.Subtasks[0].Category)
	})

	t.Run("unsplittable task", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/decompose", models.DecomposeRequest{
			Task: "Explain monads",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var result models.DecomposeResult
		decodeData(t, rec, &result)
		assert.False(t, result.Decomposed)
		assert.Empty(t, result.Subtasks)
	})

	t.Run("missing task", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/decompose", models.DecomposeRequest{})
		requireErrorCode(t, rec, http.StatusBadRequest, codeMissingParam)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doRawRequest(t, s, http.MethodPost, "/decompose", `{"task": `)
		requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidBody)
	})

	t.Run("invalid budget", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/decompose", models.DecomposeRequest{
			Task:   "1. One\n2. Two",
			Budget: models.Budget("platinum"),
		})
		requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParam)
	})
}

func TestSwarmHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("conjunction fan-in", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/swarm", models.SwarmRequest{
			Task:        "Build backend and frontend and tests",
			Budget:      models.BudgetMedium,
			MaxParallel: 4,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var plan models.SwarmPlan
		decodeData(t, rec, &plan)
		assert.True(t, plan.Decomposed)
		assert.Equal(t, "conjunctions", plan.Method)
		require.Len(t, plan.Tasks, 3)
		assert.ElementsMatch(t, []string{"t1", "t2"}, plan.Tasks[2].DependsOn)
		assert.GreaterOrEqual(t, plan.Tasks[2].Wave, plan.Tasks[0].Wave)
		assert.GreaterOrEqual(t, plan.Tasks[2].Wave, plan.Tasks[1].Wave)
	})

	t.Run("unsplittable task", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/swarm", models.SwarmRequest{
			Task: "Explain monads",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var plan models.SwarmPlan
		decodeData(t, rec, &plan)
		assert.False(t, plan.Decomposed)
	})

	t.Run("negative maxParallel", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/swarm", models.SwarmRequest{
			Task:        "Build backend and frontend",
			MaxParallel: -1,
		})
		requireErrorCode(t, rec, http.StatusBadRequest, codeInvalidParam)
	})

	t.Run("missing task", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/swarm", models.SwarmRequest{})
		requireErrorCode(t, rec, http.StatusBadRequest, codeMissingParam)
	})
}
