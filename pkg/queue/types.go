// Package queue provides the sync-job execution infrastructure: the
// per-account sync worker, the paced job executor loop, and the
// account pool that supervises one executor per account.
package queue

import (
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no pending jobs are in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrJobNotClaimable indicates a job was not in the expected
	// status for the requested transition.
	ErrJobNotClaimable = errors.New("job not claimable")
)

// SyncResult is the outcome of one batch of sync work.
type SyncResult struct {
	Success         bool  `json:"success"`
	MessagesFetched int   `json:"messages_fetched"`
	HasMore         bool  `json:"has_more"`
	NewCursor       int64 `json:"new_cursor,omitempty"`
	RateLimited     bool  `json:"rate_limited,omitempty"`
	WaitSeconds     int   `json:"wait_seconds,omitempty"`
}

// ExecutionResult is the terminal outcome of a full job run through
// the executor.
type ExecutionResult struct {
	Success         bool   `json:"success"`
	MessagesFetched int    `json:"messages_fetched"`
	Batches         int    `json:"batches"`
	HasMoreWork     bool   `json:"has_more_work"`
	RateLimited     bool   `json:"rate_limited,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ExecutorStatus is the executor's current state.
type ExecutorStatus string

// Executor states.
const (
	ExecutorIdle    ExecutorStatus = "idle"
	ExecutorWorking ExecutorStatus = "working"
	ExecutorStopped ExecutorStatus = "stopped"
)

// ExecutorHealth is a point-in-time executor snapshot.
type ExecutorHealth struct {
	AccountID     int64          `json:"account_id"`
	Status        ExecutorStatus `json:"status"`
	CurrentJobID  string         `json:"current_job_id,omitempty"`
	JobsProcessed int            `json:"jobs_processed"`
	LastActivity  time.Time      `json:"last_activity"`
}

// PoolHealth aggregates health for the whole account pool.
type PoolHealth struct {
	IsHealthy  bool             `json:"is_healthy"`
	QueueDepth int              `json:"queue_depth"`
	Running    int              `json:"running"`
	Executors  []ExecutorHealth `json:"executors"`
}
