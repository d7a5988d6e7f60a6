package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// RunRetentionDays is how many days to keep terminal runs before their
	// rows and artifact blobs are purged. Overridable via RETENTION_DAYS.
	RunRetentionDays int

	// EventTTL is how long a terminal run's event feed outlives the run's
	// finish before the cleanup loop trims it. Live runs keep their full
	// feed; run deletion cascades whatever remains.
	EventTTL time.Duration

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetentionDays: 30,
		EventTTL:         24 * time.Hour,
		CleanupInterval:  12 * time.Hour,
	}
}
