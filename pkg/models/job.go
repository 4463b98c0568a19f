// Package models contains the domain types shared by the storage,
// scheduling, and sync layers.
package models

import "time"

// JobType identifies what kind of sync work a job represents.
type JobType string

// Job types.
const (
	JobForwardCatchup  JobType = "forward_catchup"
	JobBackwardHistory JobType = "backward_history"
	JobInitialLoad     JobType = "initial_load"
)

// JobStatus is the lifecycle state of a sync job.
// Transitions are pending → running → {completed, failed} only.
type JobStatus string

// Job statuses.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// SyncPriority orders jobs in the queue. Lower value = higher urgency.
type SyncPriority int

// Sync priorities.
const (
	PriorityRealtime   SyncPriority = 0
	PriorityHigh       SyncPriority = 1
	PriorityMedium     SyncPriority = 2
	PriorityLow        SyncPriority = 3
	PriorityBackground SyncPriority = 4
)

// String returns the human-readable priority name.
func (p SyncPriority) String() string {
	switch p {
	case PriorityRealtime:
		return "realtime"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// SyncJob is a persisted unit of sync work for one chat.
type SyncJob struct {
	ID              string       `json:"id"`
	ChatID          string       `json:"chat_id"`
	JobType         JobType      `json:"job_type"`
	Priority        SyncPriority `json:"priority"`
	Status          JobStatus    `json:"status"`
	CursorStart     *int64       `json:"cursor_start,omitempty"`
	CursorEnd       *int64       `json:"cursor_end,omitempty"`
	MessagesFetched int          `json:"messages_fetched"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// QueueStats aggregates pending jobs by type and priority plus the
// number of currently running jobs.
type QueueStats struct {
	PendingByType     map[JobType]int      `json:"pending_by_type"`
	PendingByPriority map[SyncPriority]int `json:"pending_by_priority"`
	PendingTotal      int                  `json:"pending_total"`
	Running           int                  `json:"running"`
}
