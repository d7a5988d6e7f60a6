package config

import "time"

// QueueConfig contains worker pool tunables beyond the core Settings.
// MaxParallelRuns and PollInterval live in Settings; these control the
// supporting machinery around the claim loop.
type QueueConfig struct {
	// PollIntervalJitter is the random jitter added to the poll interval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// HeartbeatInterval is how often an in-flight run's last_heartbeat_at
	// is stamped.
	HeartbeatInterval time.Duration

	// OrphanThreshold is how long a running run can go without a heartbeat
	// before startup recovery re-queues it.
	OrphanThreshold time.Duration

	// GracefulShutdownTimeout is the maximum wait for in-flight runs during
	// shutdown. Runs cut off here are re-queued by orphan recovery on the
	// next startup.
	GracefulShutdownTimeout time.Duration
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		PollIntervalJitter:      300 * time.Millisecond,
		HeartbeatInterval:       30 * time.Second,
		OrphanThreshold:         5 * time.Minute,
		GracefulShutdownTimeout: 60 * time.Second,
	}
}
