package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Config is the umbrella configuration object for the orchestrator.
// Built-in defaults are overridden by the optional troupe.yaml settings file,
// which in turn is overridden by environment variables.
type Config struct {
	// Home is the data directory (artifact blobs, default settings file).
	Home string

	// Settings holds the core executor/queue tunables.
	Settings *Settings

	// Queue holds worker pool tunables beyond the core settings.
	Queue *QueueConfig

	// Retention controls purging of old terminal runs.
	Retention *RetentionConfig

	// Completion is the chat-completion endpoint the executor calls.
	Completion *CompletionConfig

	// Ranking is the ranking service the planner consults.
	Ranking *RankingConfig

	// Ranker holds the ranking tier's own tunables (used by rankd).
	Ranker *RankerConfig
}

// ArtifactDir returns the artifact blob root under Home.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.Home, "artifacts")
}

// ResolveHome returns the data directory: TROUPE_HOME if set, else ~/.troupe.
func ResolveHome() (string, error) {
	if home := os.Getenv("TROUPE_HOME"); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(userHome, ".troupe"), nil
}

// Initialize loads, resolves, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load troupe.yaml from home (or TROUPE_CONFIG), missing file is fine
//  2. Expand environment variables inside the YAML ({{.VAR}} syntax)
//  3. Merge YAML values over built-in defaults
//  4. Apply environment variable overrides (env wins)
func Initialize(ctx context.Context, home string) (*Config, error) {
	log := slog.With("home", home)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"max_parallel_runs", cfg.Settings.MaxParallelRuns,
		"max_parallel_nodes_per_run", cfg.Settings.MaxParallelNodesPerRun,
		"max_usd_per_run", cfg.Settings.MaxUsdPerRun,
		"completion_configured", cfg.Completion.Configured(),
		"ranking_base_url", cfg.Ranking.BaseURL)

	return cfg, nil
}
