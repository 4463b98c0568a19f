package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/scheduler"
)

// Executor pacing defaults.
const (
	DefaultInterBatchDelay = 250 * time.Millisecond
	DefaultInterJobDelay   = 1 * time.Second
	DefaultIdleSleep       = 1 * time.Second
)

// ExecutorConfig tunes the executor's pacing and batch limits.
type ExecutorConfig struct {
	// MaxBatchesPerJob caps batches per ExecuteJob call. Zero means
	// run the job to completion.
	MaxBatchesPerJob int
	InterBatchDelay  time.Duration
	InterJobDelay    time.Duration
	IdleSleep        time.Duration
}

func (c *ExecutorConfig) applyDefaults() {
	if c.InterBatchDelay <= 0 {
		c.InterBatchDelay = DefaultInterBatchDelay
	}
	if c.InterJobDelay <= 0 {
		c.InterJobDelay = DefaultInterJobDelay
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
}

// JobExecutor drives one account's worker in a paced loop: claim,
// run batches until the job has no more work, finalize, sleep, repeat.
// Stop is cooperative and honored between batches, never mid-fetch.
type JobExecutor struct {
	worker    *SyncWorker
	scheduler *scheduler.Scheduler
	cfg       ExecutorConfig

	mu            sync.Mutex
	status        ExecutorStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
	lastCompleted time.Time
	stopRequested bool
}

// NewJobExecutor creates an executor over a worker.
func NewJobExecutor(worker *SyncWorker, sched *scheduler.Scheduler, cfg ExecutorConfig) *JobExecutor {
	cfg.applyDefaults()
	return &JobExecutor{
		worker:       worker,
		scheduler:    sched,
		cfg:          cfg,
		status:       ExecutorIdle,
		lastActivity: time.Now(),
	}
}

// RequestStop asks the loop to exit at the next batch boundary.
func (e *JobExecutor) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
}

func (e *JobExecutor) stopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

func (e *JobExecutor) setStatus(s ExecutorStatus, jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
	e.currentJobID = jobID
	e.lastActivity = time.Now()
}

// Health returns a point-in-time snapshot of the executor.
func (e *JobExecutor) Health() ExecutorHealth {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ExecutorHealth{
		AccountID:     e.worker.AccountID(),
		Status:        e.status,
		CurrentJobID:  e.currentJobID,
		JobsProcessed: e.jobsProcessed,
		LastActivity:  e.lastActivity,
	}
}

// ExecuteJob runs a claimed job batch by batch until it reports no
// more work, an error, a rate limit, or the batch cap. When the cap
// cuts the job short, the job stays running with HasMoreWork set so
// a later pass can resume it.
func (e *JobExecutor) ExecuteJob(ctx context.Context, job *models.SyncJob) (*ExecutionResult, error) {
	e.setStatus(ExecutorWorking, job.ID)
	defer e.setStatus(ExecutorIdle, "")

	if job.Status == models.JobPending {
		ok, err := e.scheduler.StartJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &ExecutionResult{Error: "job no longer pending"}, nil
		}
	}

	result := &ExecutionResult{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := e.worker.RunBatch(ctx, job)
		if err != nil {
			result.Error = err.Error()
			if _, failErr := e.scheduler.FailJob(ctx, job.ID, err.Error()); failErr != nil {
				slog.Error("Failed to mark job failed", "job_id", job.ID, "error", failErr)
			}
			return result, nil
		}

		result.Batches++
		result.MessagesFetched += batch.MessagesFetched

		if batch.RateLimited {
			result.RateLimited = true
			msg := fmt.Sprintf("Rate limited: wait %ds", batch.WaitSeconds)
			if _, failErr := e.scheduler.FailJob(ctx, job.ID, msg); failErr != nil {
				slog.Error("Failed to mark job failed", "job_id", job.ID, "error", failErr)
			}
			return result, nil
		}

		if err := e.scheduler.UpdateProgress(ctx, job.ID, cursorPtr(batch), batch.MessagesFetched); err != nil {
			slog.Warn("Failed to update job progress", "job_id", job.ID, "error", err)
		}

		if !batch.HasMore {
			break
		}
		if e.cfg.MaxBatchesPerJob > 0 && result.Batches >= e.cfg.MaxBatchesPerJob {
			result.HasMoreWork = true
			return result, nil
		}
		if e.stopping() {
			result.HasMoreWork = true
			return result, nil
		}

		select {
		case <-ctx.Done():
			result.HasMoreWork = true
			return result, ctx.Err()
		case <-time.After(e.cfg.InterBatchDelay):
		}
	}

	if _, err := e.scheduler.CompleteJob(ctx, job.ID); err != nil {
		return result, err
	}
	result.Success = true

	e.mu.Lock()
	e.jobsProcessed++
	e.mu.Unlock()

	return result, nil
}

// interJobPause returns how much of the inter-job delay is still owed,
// measured from the last completion epoch. Time already spent since
// the previous job finished counts against the delay.
func (e *JobExecutor) interJobPause(now time.Time) time.Duration {
	e.mu.Lock()
	last := e.lastCompleted
	e.mu.Unlock()

	if last.IsZero() {
		return 0
	}
	remaining := e.cfg.InterJobDelay - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *JobExecutor) markCompletedEpoch() {
	e.mu.Lock()
	e.lastCompleted = time.Now()
	e.mu.Unlock()
}

// ProcessNextJob enforces the remainder of the inter-job delay, then
// claims the next pending job and executes it fully. Returns nil when
// the queue is empty. When the account is blocked by a rate limit
// nothing is claimed.
func (e *JobExecutor) ProcessNextJob(ctx context.Context) (*ExecutionResult, error) {
	if pause := e.interJobPause(time.Now()); pause > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}

	ok, wait, err := e.worker.CanMakeAPICall(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ExecutionResult{RateLimited: true, Error: fmt.Sprintf("Rate limited: wait %ds", wait)}, nil
	}

	job, err := e.scheduler.NextJob(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	slog.Debug("Executing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"chat_id", job.ChatID,
		"priority", job.Priority)

	result, err := e.ExecuteJob(ctx, job)
	if result != nil && !result.HasMoreWork {
		e.markCompletedEpoch()
	}
	return result, err
}

// Run is the executor's main loop. Inter-job pacing lives in
// ProcessNextJob; the loop itself only sleeps IdleSleep when the
// queue is empty, errored, or rate limited, until the context is
// cancelled or a stop is requested.
func (e *JobExecutor) Run(ctx context.Context) {
	slog.Info("Job executor started", "account_id", e.worker.AccountID())
	defer func() {
		e.setStatus(ExecutorStopped, "")
		slog.Info("Job executor stopped", "account_id", e.worker.AccountID())
	}()

	for {
		if e.stopping() {
			return
		}

		result, err := e.ProcessNextJob(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			slog.Error("Job execution error",
				"account_id", e.worker.AccountID(), "error", err)
		case result == nil, result.RateLimited:
		default:
			// Job ran; the next ProcessNextJob call owes the delay
			// remainder relative to its completion epoch.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.IdleSleep):
		}
	}
}
