package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tgsync/tgsync/pkg/models"
)

// JobService owns the persistent sync-job queue. All state transitions
// are atomic: claim uses a conditional UPDATE with RETURNING, and the
// mark* operations are compare-and-set against the expected prior
// status.
type JobService struct {
	db *sql.DB
}

// NewJobService creates a new JobService.
func NewJobService(db *sql.DB) *JobService {
	return &JobService{db: db}
}

const jobColumns = `id, chat_id, job_type, priority, status, cursor_start, cursor_end,
	messages_fetched, COALESCE(error_message, ''), created_at, started_at, completed_at`

// Create inserts a pending job and returns the full row.
// Idempotency per (chat, type) is the scheduler's responsibility.
func (s *JobService) Create(ctx context.Context, chatID string, jobType models.JobType, priority models.SyncPriority) (*models.SyncJob, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "must not be empty")
	}

	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, chat_id, job_type, priority, status, messages_fetched, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id, chatID, jobType, priority, models.JobPending, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return s.Get(ctx, id)
}

// Get returns one job by id.
func (s *JobService) Get(ctx context.Context, id string) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ClaimNext atomically flips the highest-urgency pending job to
// running and returns it. The conditional UPDATE guarantees that
// concurrent claimants never receive the same row. Returns
// ErrNotFound when the queue is empty.
func (s *JobService) ClaimNext(ctx context.Context) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE sync_jobs SET status = ?, started_at = ?
		WHERE id = (
			SELECT id FROM sync_jobs WHERE status = ?
			ORDER BY priority ASC, created_at ASC LIMIT 1
		) AND status = ?
		RETURNING `+jobColumns,
		models.JobRunning, time.Now().Unix(), models.JobPending, models.JobPending)
	return scanJob(row)
}

// MarkRunning transitions pending → running. Returns false when the
// job was not pending.
func (s *JobService) MarkRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		models.JobRunning, time.Now().Unix(), id, models.JobPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s running: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkCompleted transitions running → completed. Returns false when
// the job was not running.
func (s *JobService) MarkCompleted(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.JobCompleted, time.Now().Unix(), id, models.JobRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s completed: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed transitions running → failed with an error message.
// Returns false when the job was not running.
func (s *JobService) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.JobFailed, message, time.Now().Unix(), id, models.JobRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateProgress adds fetchedDelta to the fetched counter and
// advances cursor_end.
func (s *JobService) UpdateProgress(ctx context.Context, id string, cursorEnd *int64, fetchedDelta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET messages_fetched = messages_fetched + ?,
		       cursor_end = COALESCE(?, cursor_end)
		WHERE id = ?`,
		fetchedDelta, cursorEnd, id)
	if err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return nil
}

// SetCursorWindow records the cursor window touched by a job.
func (s *JobService) SetCursorWindow(ctx context.Context, id string, cursorStart, cursorEnd int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET cursor_start = ?, cursor_end = ? WHERE id = ?`,
		cursorStart, cursorEnd, id)
	if err != nil {
		return fmt.Errorf("failed to set cursor window for job %s: %w", id, err)
	}
	return nil
}

// CrashRecoveryMessage marks jobs recovered after an unclean exit.
const CrashRecoveryMessage = "daemon crashed during execution"

// RecoverCrashedJobs reverts every running job to pending, stamping
// the crash marker. Called once on startup before any claim.
func (s *JobService) RecoverCrashedJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = ?, started_at = NULL, error_message = ?
		WHERE status = ?`,
		models.JobPending, CrashRecoveryMessage, models.JobRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to recover crashed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HasActiveJobForChat reports whether any pending or running job of
// the given type exists for the chat.
func (s *JobService) HasActiveJobForChat(ctx context.Context, chatID string, jobType models.JobType) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_jobs
		WHERE chat_id = ? AND job_type = ? AND status IN (?, ?)`,
		chatID, jobType, models.JobPending, models.JobRunning).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check active jobs for chat %s: %w", chatID, err)
	}
	return n > 0, nil
}

// HasPendingJobForChat reports whether a pending job of the given
// type exists for the chat.
func (s *JobService) HasPendingJobForChat(ctx context.Context, chatID string, jobType models.JobType) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_jobs
		WHERE chat_id = ? AND job_type = ? AND status = ?`,
		chatID, jobType, models.JobPending).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending jobs for chat %s: %w", chatID, err)
	}
	return n > 0, nil
}

// CancelPendingForChat deletes pending jobs for one chat. Returns the
// number removed.
func (s *JobService) CancelPendingForChat(ctx context.Context, chatID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_jobs WHERE chat_id = ? AND status = ?`, chatID, models.JobPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending jobs for chat %s: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupCompleted deletes completed jobs older than maxAge.
func (s *JobService) CleanupCompleted(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.cleanup(ctx, models.JobCompleted, maxAge)
}

// CleanupFailed deletes failed jobs older than maxAge.
func (s *JobService) CleanupFailed(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.cleanup(ctx, models.JobFailed, maxAge)
}

func (s *JobService) cleanup(ctx context.Context, status models.JobStatus, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_jobs WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?`,
		status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup %s jobs: %w", status, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns pending-job counts by type and priority plus the
// running count.
func (s *JobService) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{
		PendingByType:     make(map[models.JobType]int),
		PendingByPriority: make(map[models.SyncPriority]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_type, priority, COUNT(*) FROM sync_jobs
		WHERE status = ? GROUP BY job_type, priority`, models.JobPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var jobType models.JobType
		var priority models.SyncPriority
		var n int
		if err := rows.Scan(&jobType, &priority, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.PendingByType[jobType] += n
		stats.PendingByPriority[priority] += n
		stats.PendingTotal += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE status = ?`, models.JobRunning).Scan(&stats.Running); err != nil {
		return nil, fmt.Errorf("failed to count running jobs: %w", err)
	}

	return stats, nil
}

// ListByStatus returns jobs in one status, oldest first.
func (s *JobService) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.SyncJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(sc scanner) (*models.SyncJob, error) {
	var j models.SyncJob
	var created int64
	var started, completed sql.NullInt64
	err := sc.Scan(&j.ID, &j.ChatID, &j.JobType, &j.Priority, &j.Status,
		&j.CursorStart, &j.CursorEnd, &j.MessagesFetched, &j.ErrorMessage,
		&created, &started, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.CreatedAt = time.Unix(created, 0)
	if started.Valid {
		t := time.Unix(started.Int64, 0)
		j.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		j.CompletedAt = &t
	}
	return &j, nil
}
