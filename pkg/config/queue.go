package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how queued runs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	// Each worker independently polls and processes runs.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking queued runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// RunTimeout is the maximum wall-clock time one run may be processed.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active runs
	// to complete during shutdown. Should match RunTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanScanInterval is how often to scan for orphaned runs.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`

	// OrphanThreshold is how long a run may sit in "running" before the
	// reaper considers its worker dead and marks it failed.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// MaxRetries is how many times the worker re-runs a failed processing
	// attempt on the run it has claimed before the failure is considered final.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffBase is the base delay for backoff-with-jitter between
	// retry attempts.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		RunTimeout:              5 * time.Minute,
		GracefulShutdownTimeout: 5 * time.Minute,
		OrphanScanInterval:      1 * time.Minute,
		OrphanThreshold:         10 * time.Minute,
		MaxRetries:              3,
		RetryBackoffBase:        2 * time.Second,
	}
}
