package models

// Category classifies what a model is good at. Derived from capabilities,
// pricing, and benchmark presence; every model belongs at least to general.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryCoding    Category = "coding"
	CategoryReasoning Category = "reasoning"
	CategoryCreative  Category = "creative"
	CategoryResearch  Category = "research"
	CategoryFastCheap Category = "fast-cheap"
	CategoryVision    Category = "vision"
)

// AllCategories lists every derivable category.
func AllCategories() []Category {
	return []Category{
		CategoryGeneral,
		CategoryCoding,
		CategoryReasoning,
		CategoryCreative,
		CategoryResearch,
		CategoryFastCheap,
		CategoryVision,
	}
}

// Valid checks if the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryCoding, CategoryReasoning, CategoryCreative,
		CategoryResearch, CategoryFastCheap, CategoryVision:
		return true
	}
	return false
}

// ModelTier buckets models by price point.
type ModelTier string

const (
	TierPremium  ModelTier = "premium"
	TierStandard ModelTier = "standard"
	TierBudget   ModelTier = "budget"
)

// Pricing is USD per 1M tokens.
type Pricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// Capabilities are the feature flags a provider advertises for a model.
type Capabilities struct {
	Vision          bool `json:"vision"`
	FunctionCalling bool `json:"functionCalling"`
	Streaming       bool `json:"streaming"`
	JSON            bool `json:"json"`
	Reasoning       bool `json:"reasoning"`
}

// Speed holds throughput measurements where a source provides them.
type Speed struct {
	OutputTokensPerSecond float64 `json:"outputTokensPerSecond,omitempty"`
	TimeToFirstToken      float64 `json:"timeToFirstToken,omitempty"`
}

// EnrichedModel is the ranker's unit of currency: one catalog entry merged
// from every benchmark source, scored per category.
type EnrichedModel struct {
	// ID is the canonical identifier of the form provider/model.
	ID            string       `json:"id"`
	Provider      string       `json:"provider"`
	Name          string       `json:"name,omitempty"`
	ContextLength int64        `json:"contextLength"`
	Pricing       Pricing      `json:"pricing"`
	Capabilities  Capabilities `json:"capabilities"`

	// Categories always contains at least general.
	Categories []Category `json:"categories"`

	// Scores maps category to a composite 0-100 score.
	Scores map[Category]float64 `json:"scores"`

	// CostEfficiency maps category to score per USD; absent at zero price.
	CostEfficiency map[Category]float64 `json:"costEfficiency,omitempty"`

	Tier ModelTier `json:"tier"`

	// Benchmarks holds normalized 0-100 values keyed by source metric
	// (arena, mmluPro, gpqa, liveCodeBench, ...).
	Benchmarks map[string]float64 `json:"benchmarks,omitempty"`

	Speed Speed `json:"speed"`

	// SourcesCovered is the ordered set of source names that contributed.
	SourcesCovered []string `json:"sourcesCovered"`

	Tags []string `json:"tags,omitempty"`

	// HuggingFaceID is the provider-supplied HF identifier, used by the
	// name matcher.
	HuggingFaceID string `json:"huggingFaceId,omitempty"`
}

// HasCategory reports membership including the implicit general fallback.
func (m *EnrichedModel) HasCategory(c Category) bool {
	for _, have := range m.Categories {
		if have == c {
			return true
		}
	}
	return false
}

// Score returns the category score and whether one exists.
func (m *EnrichedModel) Score(c Category) (float64, bool) {
	if m.Scores == nil {
		return 0, false
	}
	s, ok := m.Scores[c]
	return s, ok
}

// HasSource reports whether a source contributed data to this entry.
func (m *EnrichedModel) HasSource(name string) bool {
	for _, s := range m.SourcesCovered {
		if s == name {
			return true
		}
	}
	return false
}
