package config

import "time"

// RankingConfig describes the ranking service the planner consults for model
// picks, recommendations, task decomposition, and role composition.
type RankingConfig struct {
	// BaseURL is the ranking service root (RANKING_BASE_URL).
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each ranking call. Planning degrades to hard-coded
	// fallback models when a call fails, so this stays short.
	Timeout time.Duration `yaml:"-"`
}

// DefaultRankingConfig returns the built-in ranking client defaults.
func DefaultRankingConfig() *RankingConfig {
	return &RankingConfig{
		BaseURL: "http://localhost:8090",
		Timeout: 10 * time.Second,
	}
}
