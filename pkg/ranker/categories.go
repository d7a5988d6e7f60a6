package ranker

import (
	"github.com/troupe-ai/troupe/pkg/models"
)

// Benchmark keys whose presence puts a model into a category.
var (
	codingBenchmarks    = []string{"liveCodeBench", "liveBenchCoding", "liveBenchAgenticCoding", "codingIndex"}
	reasoningBenchmarks = []string{"liveBenchReasoning", "mathIndex", "gpqa"}
	creativeBenchmarks  = []string{"arena", "liveBenchLanguage"}
)

const (
	researchContextLength    = 100_000
	longContextLength        = 200_000
	fastCheapPromptThreshold = 2.0
	fastSpeedThreshold       = 100.0
)

// deriveTier buckets a model by its prompt price per 1M tokens.
func deriveTier(p models.Pricing) models.ModelTier {
	switch {
	case p.Prompt >= 3:
		return models.TierPremium
	case p.Prompt >= 0.3:
		return models.TierStandard
	default:
		return models.TierBudget
	}
}

// deriveCategories computes category membership purely from capabilities,
// pricing, context length and benchmark presence. Every model is general.
func deriveCategories(m *models.EnrichedModel) []models.Category {
	cats := []models.Category{models.CategoryGeneral}
	if hasAnyBenchmark(m, codingBenchmarks) {
		cats = append(cats, models.CategoryCoding)
	}
	if m.Capabilities.Reasoning || hasAnyBenchmark(m, reasoningBenchmarks) {
		cats = append(cats, models.CategoryReasoning)
	}
	if hasAnyBenchmark(m, creativeBenchmarks) {
		cats = append(cats, models.CategoryCreative)
	}
	if m.ContextLength >= researchContextLength {
		cats = append(cats, models.CategoryResearch)
	}
	if m.Pricing.Prompt < fastCheapPromptThreshold {
		cats = append(cats, models.CategoryFastCheap)
	}
	if m.Capabilities.Vision {
		cats = append(cats, models.CategoryVision)
	}
	return cats
}

// deriveTags computes the descriptive tags shown alongside catalog entries.
func deriveTags(m *models.EnrichedModel) []string {
	var tags []string
	if m.Pricing.Prompt == 0 && m.Pricing.Completion == 0 {
		tags = append(tags, "free")
	}
	if m.Capabilities.Reasoning {
		tags = append(tags, "reasoning")
	}
	if m.Capabilities.Vision {
		tags = append(tags, "vision")
	}
	if m.Capabilities.FunctionCalling {
		tags = append(tags, "tools")
	}
	if m.ContextLength >= longContextLength {
		tags = append(tags, "long-context")
	}
	if m.HuggingFaceID != "" {
		tags = append(tags, "open-weights")
	}
	if m.Speed.OutputTokensPerSecond >= fastSpeedThreshold {
		tags = append(tags, "fast")
	}
	return tags
}

func hasAnyBenchmark(m *models.EnrichedModel, keys []string) bool {
	for _, key := range keys {
		if _, ok := m.Benchmarks[key]; ok {
			return true
		}
	}
	return false
}
