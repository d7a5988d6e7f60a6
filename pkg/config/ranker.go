package config

import (
	"os"
	"time"
)

// RankerConfig holds the ranking tier's tunables: benchmark feed locations,
// refresh cadence, and feedback limits. Used by cmd/rankd.
type RankerConfig struct {
	// RefreshInterval is the periodic catalog refresh cadence.
	RefreshInterval time.Duration `yaml:"-"`

	// SourceTimeout bounds each benchmark source fetch during a refresh.
	SourceTimeout time.Duration `yaml:"-"`

	// Sources are the benchmark feed base URLs.
	Sources SourcesConfig `yaml:"sources"`

	// OverridePath points to an optional YAML file of per-model score
	// overrides applied after scoring. Empty disables.
	OverridePath string `yaml:"override_path"`

	// CommunityHourlyLimit caps community feedback submissions per instance
	// per hour.
	CommunityHourlyLimit int `yaml:"community_hourly_limit"`
}

// SourcesConfig holds the benchmark feed base URLs. Each source client
// appends its own path; keys come from the environment.
type SourcesConfig struct {
	OpenRouterBaseURL         string `yaml:"openrouter_base_url"`
	ArtificialAnalysisBaseURL string `yaml:"artificialanalysis_base_url"`
	HuggingFaceBaseURL        string `yaml:"huggingface_base_url"`
	LMArenaBaseURL            string `yaml:"lmarena_base_url"`
	LiveBenchBaseURL          string `yaml:"livebench_base_url"`
}

// OpenRouterAPIKey returns the optional OpenRouter key from the environment.
func (c *RankerConfig) OpenRouterAPIKey() string {
	return os.Getenv("OPENROUTER_API_KEY")
}

// ArtificialAnalysisAPIKey returns the AA key from the environment. The AA
// feed rejects unauthenticated requests; without a key the source goes stale.
func (c *RankerConfig) ArtificialAnalysisAPIKey() string {
	return os.Getenv("AA_API_KEY")
}

// DefaultRankerConfig returns the built-in ranking tier defaults.
func DefaultRankerConfig() *RankerConfig {
	return &RankerConfig{
		RefreshInterval: 6 * time.Hour,
		SourceTimeout:   45 * time.Second,
		Sources: SourcesConfig{
			OpenRouterBaseURL:         "https://openrouter.ai/api/v1",
			ArtificialAnalysisBaseURL: "https://artificialanalysis.ai/api/v2",
			HuggingFaceBaseURL:        "https://open-llm-leaderboard-open-llm-leaderboard.hf.space",
			LMArenaBaseURL:            "https://storage.googleapis.com/arena-elo-public",
			LiveBenchBaseURL:          "https://livebench.ai",
		},
		CommunityHourlyLimit: 20,
	}
}
