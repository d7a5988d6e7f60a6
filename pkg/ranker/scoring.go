package ranker

import (
	"math"

	"github.com/troupe-ai/troupe/pkg/models"
)

// BenchmarkStats are the normalization parameters for one benchmark key,
// computed over the whole catalog at refresh time. Fewer than minSamples
// values makes z-scores meaningless; raw values stand in instead.
type BenchmarkStats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

const minSamples = 5

func computeBenchmarkStats(entries map[string]*models.EnrichedModel) map[string]BenchmarkStats {
	values := map[string][]float64{}
	for _, m := range entries {
		for key, v := range m.Benchmarks {
			values[key] = append(values[key], v)
		}
	}

	stats := make(map[string]BenchmarkStats, len(values))
	for key, vs := range values {
		n := float64(len(vs))
		var sum float64
		for _, v := range vs {
			sum += v
		}
		mean := sum / n

		var variance float64
		for _, v := range vs {
			variance += (v - mean) * (v - mean)
		}
		variance /= n

		stats[key] = BenchmarkStats{Mean: mean, Std: math.Sqrt(variance), Count: len(vs)}
	}
	return stats
}

// zScore returns the standardized value for a benchmark, or false when the
// key has too few samples or no spread.
func zScore(stats map[string]BenchmarkStats, key string, v float64) (float64, bool) {
	s, ok := stats[key]
	if !ok || s.Count < minSamples || s.Std == 0 {
		return 0, false
	}
	return (v - s.Mean) / s.Std, true
}

// scaledScore maps a raw benchmark value onto 0-100 via 50+20z; with too
// few samples the raw value (already 0-100) stands in.
func scaledScore(stats map[string]BenchmarkStats, key string, v float64) float64 {
	if z, ok := zScore(stats, key, v); ok {
		return clampScore(50 + 20*z)
	}
	return clampScore(v)
}

type weightedInput struct {
	key    string
	weight float64
}

var (
	generalInputs = []weightedInput{
		{"arena", 3}, {"mmluPro", 2}, {"gpqa", 2}, {"intelligenceIndex", 1},
	}
	codingInputs = []weightedInput{
		{"liveCodeBench", 4}, {"liveBenchAgenticCoding", 3}, {"liveBenchCoding", 2}, {"codingIndex", 1},
	}
	reasoningInputs = []weightedInput{
		{"liveBenchReasoning", 3}, {"gpqa", 3}, {"mathIndex", 2}, {"arena", 1}, {"intelligenceIndex", 1},
	}
)

// weightedAverage combines the present inputs, redistributing the weight of
// absent ones proportionally. Returns false when every input is missing.
func weightedAverage(stats map[string]BenchmarkStats, benchmarks map[string]float64, inputs []weightedInput) (float64, bool) {
	var total, weightSum float64
	for _, in := range inputs {
		v, ok := benchmarks[in.key]
		if !ok {
			continue
		}
		total += scaledScore(stats, in.key, v) * in.weight
		weightSum += in.weight
	}
	if weightSum == 0 {
		return 0, false
	}
	return total / weightSum, true
}

func tierBaseline(t models.ModelTier) float64 {
	switch t {
	case models.TierPremium:
		return 70
	case models.TierStandard:
		return 50
	default:
		return 30
	}
}

const reasoningFloor = 65

// computeScores fills a model's per-category composite scores and cost
// efficiency. Tier and categories must already be derived.
func computeScores(m *models.EnrichedModel, stats map[string]BenchmarkStats) {
	scores := map[models.Category]float64{}

	general, organic := weightedAverage(stats, m.Benchmarks, generalInputs)
	if !organic {
		general = tierBaseline(m.Tier)
	}
	scores[models.CategoryGeneral] = general

	if coding, ok := weightedAverage(stats, m.Benchmarks, codingInputs); ok {
		scores[models.CategoryCoding] = coding
	} else {
		scores[models.CategoryCoding] = math.Round(0.85 * general)
	}

	reasoning, ok := weightedAverage(stats, m.Benchmarks, reasoningInputs)
	if !ok {
		reasoning = tierBaseline(m.Tier)
	}
	if m.Capabilities.Reasoning && reasoning < reasoningFloor {
		reasoning = reasoningFloor
	}
	scores[models.CategoryReasoning] = reasoning

	if creative, ok := creativeScore(m, stats, general, organic); ok {
		scores[models.CategoryCreative] = creative
	}

	if m.Capabilities.Vision {
		scores[models.CategoryVision] = general
	}

	if m.Pricing.Prompt < fastCheapPromptThreshold {
		scores[models.CategoryFastCheap] = math.Round(100 - 50*m.Pricing.Prompt)
	}

	if m.ContextLength >= researchContextLength {
		boost := math.Min(20, 20*float64(m.ContextLength)/1e6)
		scores[models.CategoryResearch] = clampScore(general + boost)
	}

	m.Scores = scores

	denom := m.Pricing.Prompt + m.Pricing.Completion
	if denom > 0 {
		efficiency := make(map[models.Category]float64, len(scores))
		for cat, s := range scores {
			efficiency[cat] = math.Round(100*s/denom) / 100
		}
		m.CostEfficiency = efficiency
	} else {
		m.CostEfficiency = nil
	}
}

// creativeScore weights arena and the LiveBench language suite, counting
// the general score as a third input only when general came from real
// benchmarks. With no inputs, premium models inherit general.
func creativeScore(m *models.EnrichedModel, stats map[string]BenchmarkStats, general float64, organic bool) (float64, bool) {
	var total, weightSum float64
	if v, ok := m.Benchmarks["arena"]; ok {
		total += scaledScore(stats, "arena", v) * 4
		weightSum += 4
	}
	if v, ok := m.Benchmarks["liveBenchLanguage"]; ok {
		total += scaledScore(stats, "liveBenchLanguage", v) * 2
		weightSum += 2
	}
	if organic {
		total += general
		weightSum += 1
	}
	if weightSum > 0 {
		return total / weightSum, true
	}
	if m.Tier == models.TierPremium {
		return general, true
	}
	return 0, false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
