package config

// CompletionConfig describes the chat-completion endpoint the executor calls
// for every node. BaseURL and APIKey usually come from COMPLETION_BASE_URL and
// COMPLETION_API_KEY; the sampling knobs can be set in troupe.yaml.
type CompletionConfig struct {
	// BaseURL is the endpoint root; the client POSTs to
	// <BaseURL>/chat/completions.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string `yaml:"api_key"`

	// MaxTokens caps the completion length per call.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature for all node calls.
	Temperature float64 `yaml:"temperature"`
}

// Configured reports whether an endpoint is set. Used by the health check;
// runs created without one will fail at node execution time.
func (c *CompletionConfig) Configured() bool {
	return c.BaseURL != ""
}

// DefaultCompletionConfig returns the built-in completion defaults.
func DefaultCompletionConfig() *CompletionConfig {
	return &CompletionConfig{
		MaxTokens:   4096,
		Temperature: 0.2,
	}
}
