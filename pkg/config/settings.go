package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Settings holds the core orchestrator tunables. All of them come from the
// environment with positive-number validation; invalid values log a warning
// and fall back to the default.
type Settings struct {
	// MaxParallelRuns is the number of runs in flight simultaneously.
	MaxParallelRuns int

	// MaxParallelNodesPerRun is the number of concurrent nodes within a run.
	MaxParallelNodesPerRun int

	// MaxUsdPerRun is the budget cap per run. A run whose accumulated node
	// cost strictly exceeds this is canceled before the next dispatch.
	MaxUsdPerRun float64

	// NodeTimeout bounds a single chat-completion call.
	NodeTimeout time.Duration

	// RunTimeout bounds a run's wall clock from its started_at stamp.
	RunTimeout time.Duration

	// PollInterval is the queue tick.
	PollInterval time.Duration
}

// DefaultSettings returns the built-in tunable defaults.
func DefaultSettings() *Settings {
	return &Settings{
		MaxParallelRuns:        2,
		MaxParallelNodesPerRun: 4,
		MaxUsdPerRun:           5.0,
		NodeTimeout:            180 * time.Second,
		RunTimeout:             1800 * time.Second,
		PollInterval:           1200 * time.Millisecond,
	}
}

// LoadSettingsFromEnv reads the tunables from environment variables:
// MAX_PARALLEL_RUNS, MAX_PARALLEL_NODES_PER_RUN, MAX_USD_PER_RUN,
// NODE_TIMEOUT_SECONDS, RUN_TIMEOUT_SECONDS, POLL_INTERVAL_MS.
// Never fails; unset, non-numeric, or non-positive values keep the default.
func LoadSettingsFromEnv() *Settings {
	s := DefaultSettings()

	s.MaxParallelRuns = envPositiveInt("MAX_PARALLEL_RUNS", s.MaxParallelRuns)
	s.MaxParallelNodesPerRun = envPositiveInt("MAX_PARALLEL_NODES_PER_RUN", s.MaxParallelNodesPerRun)
	s.MaxUsdPerRun = envPositiveFloat("MAX_USD_PER_RUN", s.MaxUsdPerRun)
	s.NodeTimeout = time.Duration(envPositiveInt("NODE_TIMEOUT_SECONDS", int(s.NodeTimeout/time.Second))) * time.Second
	s.RunTimeout = time.Duration(envPositiveInt("RUN_TIMEOUT_SECONDS", int(s.RunTimeout/time.Second))) * time.Second
	s.PollInterval = time.Duration(envPositiveInt("POLL_INTERVAL_MS", int(s.PollInterval/time.Millisecond))) * time.Millisecond

	return s
}

// envPositiveInt reads an integer environment variable, requiring a value > 0.
func envPositiveInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		slog.Warn("Ignoring invalid environment value, using default",
			"key", key,
			"value", raw,
			"default", def)
		return def
	}
	return val
}

// envPositiveFloat reads a float environment variable, requiring a value > 0.
func envPositiveFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val <= 0 {
		slog.Warn("Ignoring invalid environment value, using default",
			"key", key,
			"value", raw,
			"default", def)
		return def
	}
	return val
}
