package config

import "time"

// QueueConfig contains sync queue and executor tunables. These pace
// the per-account executor loops against the remote's rate limits.
type QueueConfig struct {
	// BatchSize is the page size requested per history fetch.
	BatchSize int `json:"batch_size"`

	// MaxBatchesPerJob caps batches per job run; zero runs the job
	// to completion.
	MaxBatchesPerJob int `json:"max_batches_per_job"`

	// InterBatchDelay is the pause between batches of one job.
	InterBatchDelay time.Duration `json:"inter_batch_delay"`

	// InterJobDelay is the pause between consecutive jobs.
	InterJobDelay time.Duration `json:"inter_job_delay"`

	// IdleSleep is how long an executor sleeps on an empty queue.
	IdleSleep time.Duration `json:"idle_sleep"`

	// GracefulShutdownTimeout is the max time to wait for executors
	// to finish their current batch during shutdown.
	GracefulShutdownTimeout time.Duration `json:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		BatchSize:               100,
		MaxBatchesPerJob:        0,
		InterBatchDelay:         250 * time.Millisecond,
		InterJobDelay:           1 * time.Second,
		IdleSleep:               1 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
