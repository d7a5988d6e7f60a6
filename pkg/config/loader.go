package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// troupeYAMLConfig represents the complete troupe.yaml file structure.
// Duration fields are strings parsed with time.ParseDuration so the file can
// say "45s" or "6h"; invalid values log a warning and keep the default.
type troupeYAMLConfig struct {
	Queue      *QueueYAMLConfig     `yaml:"queue"`
	Retention  *RetentionYAMLConfig `yaml:"retention"`
	Completion *CompletionConfig    `yaml:"completion"`
	Ranking    *RankingYAMLConfig   `yaml:"ranking"`
	Ranker     *RankerYAMLConfig    `yaml:"ranker"`
}

// QueueYAMLConfig holds worker pool settings from YAML.
type QueueYAMLConfig struct {
	PollIntervalJitter      string `yaml:"poll_interval_jitter,omitempty"`
	HeartbeatInterval       string `yaml:"heartbeat_interval,omitempty"`
	OrphanThreshold         string `yaml:"orphan_threshold,omitempty"`
	GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout,omitempty"`
}

// RetentionYAMLConfig holds retention settings from YAML.
type RetentionYAMLConfig struct {
	RunRetentionDays int    `yaml:"run_retention_days,omitempty"`
	EventTTL         string `yaml:"event_ttl,omitempty"`
	CleanupInterval  string `yaml:"cleanup_interval,omitempty"`
}

// RankingYAMLConfig holds ranking client settings from YAML.
type RankingYAMLConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// RankerYAMLConfig holds ranking tier settings from YAML.
type RankerYAMLConfig struct {
	RefreshInterval      string         `yaml:"refresh_interval,omitempty"`
	SourceTimeout        string         `yaml:"source_timeout,omitempty"`
	Sources              *SourcesConfig `yaml:"sources,omitempty"`
	OverridePath         string         `yaml:"override_path,omitempty"`
	CommunityHourlyLimit int            `yaml:"community_hourly_limit,omitempty"`
}

// load is the internal loader (not exported)
func load(_ context.Context, home string) (*Config, error) {
	cfg := &Config{
		Home:       home,
		Settings:   LoadSettingsFromEnv(),
		Queue:      DefaultQueueConfig(),
		Retention:  DefaultRetentionConfig(),
		Completion: DefaultCompletionConfig(),
		Ranking:    DefaultRankingConfig(),
		Ranker:     DefaultRankerConfig(),
	}

	yamlCfg, err := loadSettingsFile(home)
	if err != nil {
		return nil, err
	}
	if yamlCfg != nil {
		if err := applyYAML(cfg, yamlCfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadSettingsFile reads and parses the optional settings file. The path is
// TROUPE_CONFIG when set, else <home>/troupe.yaml. A missing file returns
// (nil, nil); a present but unparsable file is an error.
func loadSettingsFile(home string) (*troupeYAMLConfig, error) {
	path := os.Getenv("TROUPE_CONFIG")
	if path == "" {
		path = filepath.Join(home, "troupe.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No settings file found, using defaults", "path", path)
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	var yamlCfg troupeYAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	slog.Info("Loaded settings file", "path", path)
	return &yamlCfg, nil
}

// applyYAML resolves file values over the built-in defaults already in cfg.
func applyYAML(cfg *Config, yamlCfg *troupeYAMLConfig) error {
	if q := yamlCfg.Queue; q != nil {
		cfg.Queue.PollIntervalJitter = parseDurationOrDefault("queue.poll_interval_jitter", q.PollIntervalJitter, cfg.Queue.PollIntervalJitter)
		cfg.Queue.HeartbeatInterval = parseDurationOrDefault("queue.heartbeat_interval", q.HeartbeatInterval, cfg.Queue.HeartbeatInterval)
		cfg.Queue.OrphanThreshold = parseDurationOrDefault("queue.orphan_threshold", q.OrphanThreshold, cfg.Queue.OrphanThreshold)
		cfg.Queue.GracefulShutdownTimeout = parseDurationOrDefault("queue.graceful_shutdown_timeout", q.GracefulShutdownTimeout, cfg.Queue.GracefulShutdownTimeout)
	}

	if r := yamlCfg.Retention; r != nil {
		if r.RunRetentionDays > 0 {
			cfg.Retention.RunRetentionDays = r.RunRetentionDays
		}
		cfg.Retention.EventTTL = parseDurationOrDefault("retention.event_ttl", r.EventTTL, cfg.Retention.EventTTL)
		cfg.Retention.CleanupInterval = parseDurationOrDefault("retention.cleanup_interval", r.CleanupInterval, cfg.Retention.CleanupInterval)
	}

	if yamlCfg.Completion != nil {
		// Merge user-provided values into defaults (non-zero values override)
		if err := mergo.Merge(cfg.Completion, yamlCfg.Completion, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge completion config: %w", err)
		}
	}

	if r := yamlCfg.Ranking; r != nil {
		if r.BaseURL != "" {
			cfg.Ranking.BaseURL = r.BaseURL
		}
		cfg.Ranking.Timeout = parseDurationOrDefault("ranking.timeout", r.Timeout, cfg.Ranking.Timeout)
	}

	if r := yamlCfg.Ranker; r != nil {
		cfg.Ranker.RefreshInterval = parseDurationOrDefault("ranker.refresh_interval", r.RefreshInterval, cfg.Ranker.RefreshInterval)
		cfg.Ranker.SourceTimeout = parseDurationOrDefault("ranker.source_timeout", r.SourceTimeout, cfg.Ranker.SourceTimeout)
		if r.Sources != nil {
			if err := mergo.Merge(&cfg.Ranker.Sources, *r.Sources, mergo.WithOverride); err != nil {
				return fmt.Errorf("failed to merge ranker sources: %w", err)
			}
		}
		if r.OverridePath != "" {
			cfg.Ranker.OverridePath = r.OverridePath
		}
		if r.CommunityHourlyLimit > 0 {
			cfg.Ranker.CommunityHourlyLimit = r.CommunityHourlyLimit
		}
	}

	return nil
}

// applyEnvOverrides applies the environment variables that win over both
// defaults and the settings file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMPLETION_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("COMPLETION_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("RANKING_BASE_URL"); v != "" {
		cfg.Ranking.BaseURL = v
	}
	if days := envPositiveInt("RETENTION_DAYS", cfg.Retention.RunRetentionDays); days > 0 {
		cfg.Retention.RunRetentionDays = days
	}
}

// parseDurationOrDefault parses a duration string from YAML, keeping the
// default (and warning) when the value is empty or invalid.
func parseDurationOrDefault(field, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration in settings file, using default",
			"field", field,
			"value", raw,
			"default", def)
		return def
	}
	return d
}
