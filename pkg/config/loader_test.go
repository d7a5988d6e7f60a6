package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, home, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(home, "troupe.yaml"), []byte(content), 0o644))
}

func TestInitializeWithoutSettingsFile(t *testing.T) {
	home := t.TempDir()

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, filepath.Join(home, "artifacts"), cfg.ArtifactDir())
	assert.Equal(t, DefaultSettings(), cfg.Settings)
	assert.Equal(t, DefaultQueueConfig(), cfg.Queue)
	assert.Equal(t, 30, cfg.Retention.RunRetentionDays)
	assert.False(t, cfg.Completion.Configured())
	assert.Equal(t, "http://localhost:8090", cfg.Ranking.BaseURL)
	assert.Equal(t, 6*time.Hour, cfg.Ranker.RefreshInterval)
	assert.Equal(t, 45*time.Second, cfg.Ranker.SourceTimeout)
	assert.Equal(t, 20, cfg.Ranker.CommunityHourlyLimit)
}

func TestInitializeMergesSettingsFileOverDefaults(t *testing.T) {
	home := t.TempDir()
	writeSettingsFile(t, home, `
queue:
  heartbeat_interval: 10s
  orphan_threshold: 2m
retention:
  run_retention_days: 7
completion:
  base_url: https://llm.example.com/v1
  max_tokens: 2048
ranking:
  base_url: http://rankd:9000
  timeout: 5s
ranker:
  refresh_interval: 1h
  community_hourly_limit: 50
  sources:
    openrouter_base_url: https://proxy.example.com/openrouter
`)

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 10*time.Second, cfg.Queue.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.Queue.OrphanThreshold)
	assert.Equal(t, 7, cfg.Retention.RunRetentionDays)
	assert.Equal(t, "https://llm.example.com/v1", cfg.Completion.BaseURL)
	assert.Equal(t, 2048, cfg.Completion.MaxTokens)
	assert.Equal(t, "http://rankd:9000", cfg.Ranking.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Ranking.Timeout)
	assert.Equal(t, 1*time.Hour, cfg.Ranker.RefreshInterval)
	assert.Equal(t, 50, cfg.Ranker.CommunityHourlyLimit)
	assert.Equal(t, "https://proxy.example.com/openrouter", cfg.Ranker.Sources.OpenRouterBaseURL)

	// Untouched values keep their defaults
	assert.Equal(t, DefaultQueueConfig().PollIntervalJitter, cfg.Queue.PollIntervalJitter)
	assert.Equal(t, DefaultRetentionConfig().EventTTL, cfg.Retention.EventTTL)
	assert.Equal(t, DefaultCompletionConfig().Temperature, cfg.Completion.Temperature)
	assert.Equal(t, 45*time.Second, cfg.Ranker.SourceTimeout)
	assert.Equal(t, DefaultRankerConfig().Sources.LiveBenchBaseURL, cfg.Ranker.Sources.LiveBenchBaseURL)
}

func TestInitializeExpandsEnvInSettingsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TEST_COMPLETION_URL", "https://gateway.example.com/v1")
	writeSettingsFile(t, home, `
completion:
  base_url: "{{.TEST_COMPLETION_URL}}"
`)

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example.com/v1", cfg.Completion.BaseURL)
}

func TestInitializeEnvOverridesSettingsFile(t *testing.T) {
	home := t.TempDir()
	writeSettingsFile(t, home, `
completion:
  base_url: https://from-yaml.example.com
ranking:
  base_url: http://from-yaml:9000
retention:
  run_retention_days: 7
`)
	t.Setenv("COMPLETION_BASE_URL", "https://from-env.example.com")
	t.Setenv("COMPLETION_API_KEY", "sk-test")
	t.Setenv("RANKING_BASE_URL", "http://from-env:9000")
	t.Setenv("RETENTION_DAYS", "90")

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", cfg.Completion.BaseURL)
	assert.Equal(t, "sk-test", cfg.Completion.APIKey)
	assert.True(t, cfg.Completion.Configured())
	assert.Equal(t, "http://from-env:9000", cfg.Ranking.BaseURL)
	assert.Equal(t, 90, cfg.Retention.RunRetentionDays)
}

func TestInitializeSettingsFilePathOverride(t *testing.T) {
	home := t.TempDir()
	other := t.TempDir()
	path := filepath.Join(other, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  run_retention_days: 3\n"), 0o644))
	t.Setenv("TROUPE_CONFIG", path)

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retention.RunRetentionDays)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	home := t.TempDir()
	writeSettingsFile(t, home, "queue:\n  heartbeat_interval: [unclosed")

	_, err := Initialize(context.Background(), home)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeKeepsDefaultOnBadDuration(t *testing.T) {
	home := t.TempDir()
	writeSettingsFile(t, home, `
queue:
  heartbeat_interval: soon
ranker:
  refresh_interval: "-2h"
`)

	cfg, err := Initialize(context.Background(), home)
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueConfig().HeartbeatInterval, cfg.Queue.HeartbeatInterval)
	assert.Equal(t, DefaultRankerConfig().RefreshInterval, cfg.Ranker.RefreshInterval)
}

func TestResolveHome(t *testing.T) {
	t.Setenv("TROUPE_HOME", "/data/troupe")
	home, err := ResolveHome()
	require.NoError(t, err)
	assert.Equal(t, "/data/troupe", home)

	t.Setenv("TROUPE_HOME", "")
	t.Setenv("HOME", "/home/tester")
	home, err = ResolveHome()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".troupe"), home)
}
