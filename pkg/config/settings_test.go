package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 2, s.MaxParallelRuns)
	assert.Equal(t, 4, s.MaxParallelNodesPerRun)
	assert.Equal(t, 5.0, s.MaxUsdPerRun)
	assert.Equal(t, 180*time.Second, s.NodeTimeout)
	assert.Equal(t, 1800*time.Second, s.RunTimeout)
	assert.Equal(t, 1200*time.Millisecond, s.PollInterval)
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("MAX_PARALLEL_RUNS", "6")
	t.Setenv("MAX_PARALLEL_NODES_PER_RUN", "8")
	t.Setenv("MAX_USD_PER_RUN", "12.5")
	t.Setenv("NODE_TIMEOUT_SECONDS", "60")
	t.Setenv("RUN_TIMEOUT_SECONDS", "600")
	t.Setenv("POLL_INTERVAL_MS", "250")

	s := LoadSettingsFromEnv()
	assert.Equal(t, 6, s.MaxParallelRuns)
	assert.Equal(t, 8, s.MaxParallelNodesPerRun)
	assert.Equal(t, 12.5, s.MaxUsdPerRun)
	assert.Equal(t, 60*time.Second, s.NodeTimeout)
	assert.Equal(t, 600*time.Second, s.RunTimeout)
	assert.Equal(t, 250*time.Millisecond, s.PollInterval)
}

func TestLoadSettingsFromEnvFallsBackOnInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric int", "MAX_PARALLEL_RUNS", "many"},
		{"zero", "MAX_PARALLEL_NODES_PER_RUN", "0"},
		{"negative", "RUN_TIMEOUT_SECONDS", "-5"},
		{"non-numeric float", "MAX_USD_PER_RUN", "cheap"},
		{"negative float", "MAX_USD_PER_RUN", "-1.5"},
		{"empty string", "POLL_INTERVAL_MS", ""},
	}

	defaults := DefaultSettings()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			s := LoadSettingsFromEnv()
			assert.Equal(t, defaults, s, "invalid %s should keep all defaults", tt.key)
		})
	}
}
