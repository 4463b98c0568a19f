package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/scheduler"
	"github.com/tgsync/tgsync/pkg/services"
	"github.com/tgsync/tgsync/pkg/telegram"
)

// DefaultBatchSize is the page size requested from the remote when
// the worker config leaves it unset.
const DefaultBatchSize = 100

// DefaultAPIMethod is the rate-limit counter key for history fetches.
const DefaultAPIMethod = "messages.getHistory"

// WorkerConfig tunes one account's sync worker.
type WorkerConfig struct {
	BatchSize int
	APIMethod string
}

// SyncWorker translates claimed jobs into remote calls and cache
// writes for a single account. Every batch goes through the
// rate-limit gate first; flood waits are persisted and surfaced as
// rate-limited results, never as remote retries.
type SyncWorker struct {
	accountID int64
	fetcher   telegram.MessageFetcher
	scheduler *scheduler.Scheduler
	messages  *services.MessageService
	syncState *services.SyncStateService
	limits    *services.RateLimitService
	status    *services.DaemonStatusService
	cfg       WorkerConfig
}

// NewSyncWorker creates a worker for one account. status may be nil
// (global counters disabled, used by tests).
func NewSyncWorker(
	accountID int64,
	fetcher telegram.MessageFetcher,
	sched *scheduler.Scheduler,
	messages *services.MessageService,
	syncState *services.SyncStateService,
	limits *services.RateLimitService,
	status *services.DaemonStatusService,
	cfg WorkerConfig,
) *SyncWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.APIMethod == "" {
		cfg.APIMethod = DefaultAPIMethod
	}
	return &SyncWorker{
		accountID: accountID,
		fetcher:   fetcher,
		scheduler: sched,
		messages:  messages,
		syncState: syncState,
		limits:    limits,
		status:    status,
		cfg:       cfg,
	}
}

// AccountID returns the owning account.
func (w *SyncWorker) AccountID() int64 {
	return w.accountID
}

// CanMakeAPICall reports whether the worker's method is currently
// unblocked, and the remaining wait otherwise.
func (w *SyncWorker) CanMakeAPICall(ctx context.Context) (bool, int, error) {
	wait, err := w.limits.GetWaitTime(ctx, w.cfg.APIMethod)
	if err != nil {
		return false, 0, err
	}
	return wait == 0, wait, nil
}

// fetchPage performs the common preflight and remote call for every
// job type: gate on the rate limiter, record the call, fetch, and
// translate flood waits into persistent blocks.
func (w *SyncWorker) fetchPage(ctx context.Context, chatID string, opts telegram.GetMessagesOptions) (*telegram.GetMessagesResult, *SyncResult, error) {
	ok, wait, err := w.CanMakeAPICall(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, &SyncResult{RateLimited: true, WaitSeconds: wait}, nil
	}

	if err := w.limits.RecordCall(ctx, w.cfg.APIMethod); err != nil {
		return nil, nil, err
	}

	result, err := w.fetcher.GetMessages(ctx, chatID, opts)
	if err != nil {
		var fw *telegram.FloodWaitError
		if errors.As(err, &fw) {
			if setErr := w.limits.SetFloodWait(ctx, w.cfg.APIMethod, fw.Seconds); setErr != nil {
				slog.Error("Failed to persist flood wait",
					"method", w.cfg.APIMethod, "error", setErr)
			}
			slog.Warn("Flood wait from remote",
				"account_id", w.accountID, "chat_id", chatID, "seconds", fw.Seconds)
			return nil, &SyncResult{RateLimited: true, WaitSeconds: fw.Seconds}, nil
		}
		return nil, nil, err
	}

	return result, nil, nil
}

// cacheBatch writes one fetched page to the message cache and bumps
// the per-chat and global synced counters.
func (w *SyncWorker) cacheBatch(ctx context.Context, chatID string, raw []telegram.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	now := time.Now().Unix()
	batch := make([]*models.Message, 0, len(raw))
	for _, rm := range raw {
		msg := rawToMessage(rm)
		if msg.ChatID == "" {
			msg.ChatID = chatID
		}
		msg.FetchedAt = now
		batch = append(batch, msg)
	}

	if err := w.messages.UpsertBatch(ctx, batch); err != nil {
		return err
	}
	if err := w.syncState.IncrementSyncedMessages(ctx, chatID, len(batch)); err != nil {
		return err
	}
	if w.status != nil {
		if err := w.status.AddMessagesSynced(ctx, len(batch)); err != nil {
			slog.Warn("Failed to bump global synced counter", "error", err)
		}
	}
	return nil
}

// ProcessForwardCatchup fetches messages strictly newer than the
// forward cursor and advances it to the batch maximum. An empty batch
// leaves the cursor untouched.
func (w *SyncWorker) ProcessForwardCatchup(ctx context.Context, job *models.SyncJob) (*SyncResult, error) {
	chatID := job.ChatID

	var cursor int64
	state, err := w.syncState.Get(ctx, chatID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	if state != nil && state.ForwardCursor != nil {
		cursor = *state.ForwardCursor
	}

	page, limited, err := w.fetchPage(ctx, chatID, telegram.GetMessagesOptions{
		Limit:     w.cfg.BatchSize,
		OffsetID:  cursor,
		AddOffset: -w.cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	if limited != nil {
		return limited, nil
	}

	if err := w.cacheBatch(ctx, chatID, page.Messages); err != nil {
		return nil, err
	}

	newCursor := cursor
	if len(page.Messages) > 0 {
		newCursor = maxMessageID(page.Messages)
		if _, err := w.syncState.AdvanceForwardCursor(ctx, chatID, newCursor); err != nil {
			return nil, err
		}
	}
	if err := w.syncState.UpdateLastSync(ctx, chatID, models.DirectionForward); err != nil {
		return nil, err
	}

	return &SyncResult{
		Success:         true,
		MessagesFetched: len(page.Messages),
		HasMore:         len(page.Messages) == w.cfg.BatchSize,
		NewCursor:       newCursor,
	}, nil
}

// ProcessBackwardHistory fetches one page older than the backward
// cursor and retreats it to the batch minimum. History is declared
// complete on an empty page, an explicit remote exhaustion signal, or
// a short page.
func (w *SyncWorker) ProcessBackwardHistory(ctx context.Context, job *models.SyncJob) (*SyncResult, error) {
	chatID := job.ChatID

	state, err := w.syncState.Get(ctx, chatID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	if state != nil && state.HistoryComplete {
		return &SyncResult{Success: true}, nil
	}

	var offsetID int64
	switch {
	case state != nil && state.BackwardCursor != nil:
		offsetID = *state.BackwardCursor
	default:
		oldest, err := w.messages.OldestMessageID(ctx, chatID)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			offsetID = oldest
		}
		// No cursor and no cached messages: a degenerate initial
		// load. The scheduler avoids queueing this shape, but a
		// stale job can still arrive here; fetch from the top.
	}

	page, limited, err := w.fetchPage(ctx, chatID, telegram.GetMessagesOptions{
		Limit:    w.cfg.BatchSize,
		OffsetID: offsetID,
	})
	if err != nil {
		return nil, err
	}
	if limited != nil {
		return limited, nil
	}

	if err := w.cacheBatch(ctx, chatID, page.Messages); err != nil {
		return nil, err
	}

	var newCursor int64
	if len(page.Messages) > 0 {
		newCursor = minMessageID(page.Messages)
		if _, err := w.syncState.RetreatBackwardCursor(ctx, chatID, newCursor); err != nil {
			return nil, err
		}
	}

	complete := len(page.Messages) == 0 || page.NoMoreMessages || len(page.Messages) < w.cfg.BatchSize
	if complete {
		if err := w.syncState.MarkHistoryComplete(ctx, chatID); err != nil {
			return nil, err
		}
	}
	if err := w.syncState.UpdateLastSync(ctx, chatID, models.DirectionBackward); err != nil {
		return nil, err
	}

	return &SyncResult{
		Success:         true,
		MessagesFetched: len(page.Messages),
		HasMore:         !complete,
		NewCursor:       newCursor,
	}, nil
}

// ProcessInitialLoad fetches the most recent page and establishes
// both cursors atomically. A short page means the chat's entire
// history fit in one fetch.
func (w *SyncWorker) ProcessInitialLoad(ctx context.Context, job *models.SyncJob) (*SyncResult, error) {
	chatID := job.ChatID

	page, limited, err := w.fetchPage(ctx, chatID, telegram.GetMessagesOptions{
		Limit: w.cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	if limited != nil {
		return limited, nil
	}

	if err := w.cacheBatch(ctx, chatID, page.Messages); err != nil {
		return nil, err
	}

	var newCursor int64
	if len(page.Messages) > 0 {
		maxID := maxMessageID(page.Messages)
		minID := minMessageID(page.Messages)
		if err := w.syncState.SetCursors(ctx, chatID, maxID, minID); err != nil {
			return nil, err
		}
		if err := w.scheduler.SetCursorWindow(ctx, job.ID, maxID, minID); err != nil {
			return nil, err
		}
		newCursor = minID
	}

	if len(page.Messages) == 0 || page.NoMoreMessages || len(page.Messages) < w.cfg.BatchSize {
		if err := w.syncState.MarkHistoryComplete(ctx, chatID); err != nil {
			return nil, err
		}
	}
	if err := w.syncState.UpdateLastSync(ctx, chatID, models.DirectionForward); err != nil {
		return nil, err
	}

	return &SyncResult{
		Success:         true,
		MessagesFetched: len(page.Messages),
		NewCursor:       newCursor,
	}, nil
}

// RunBatch dispatches one batch of work by job type without touching
// the job's lifecycle status. The executor drives multi-batch jobs
// through this entry point.
func (w *SyncWorker) RunBatch(ctx context.Context, job *models.SyncJob) (*SyncResult, error) {
	switch job.JobType {
	case models.JobForwardCatchup:
		return w.ProcessForwardCatchup(ctx, job)
	case models.JobBackwardHistory:
		return w.ProcessBackwardHistory(ctx, job)
	case models.JobInitialLoad:
		return w.ProcessInitialLoad(ctx, job)
	default:
		return nil, fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// ProcessJob runs a single batch for the job and finalizes its
// status: completed on success, failed on a rate limit or error.
func (w *SyncWorker) ProcessJob(ctx context.Context, job *models.SyncJob) (*SyncResult, error) {
	if job.Status == models.JobPending {
		ok, err := w.scheduler.StartJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &SyncResult{}, ErrJobNotClaimable
		}
	}

	if job.JobType != models.JobForwardCatchup &&
		job.JobType != models.JobBackwardHistory &&
		job.JobType != models.JobInitialLoad {
		msg := fmt.Sprintf("Unknown job type: %s", job.JobType)
		if _, err := w.scheduler.FailJob(ctx, job.ID, msg); err != nil {
			return nil, err
		}
		return &SyncResult{}, nil
	}

	result, err := w.RunBatch(ctx, job)
	switch {
	case err != nil:
		if _, failErr := w.scheduler.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			slog.Error("Failed to mark job failed", "job_id", job.ID, "error", failErr)
		}
		return nil, err
	case result.RateLimited:
		msg := fmt.Sprintf("Rate limited: wait %ds", result.WaitSeconds)
		if _, failErr := w.scheduler.FailJob(ctx, job.ID, msg); failErr != nil {
			slog.Error("Failed to mark job failed", "job_id", job.ID, "error", failErr)
		}
		return result, nil
	default:
		if err := w.scheduler.UpdateProgress(ctx, job.ID, cursorPtr(result), result.MessagesFetched); err != nil {
			slog.Warn("Failed to update job progress", "job_id", job.ID, "error", err)
		}
		if _, err := w.scheduler.CompleteJob(ctx, job.ID); err != nil {
			return nil, err
		}
		return result, nil
	}
}

// RunOnce claims and processes one job. When the rate limiter is
// blocked no job is pulled, preserving queue order. Returns
// ErrNoJobsAvailable when the queue is empty.
func (w *SyncWorker) RunOnce(ctx context.Context) (*SyncResult, error) {
	ok, wait, err := w.CanMakeAPICall(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SyncResult{RateLimited: true, WaitSeconds: wait}, nil
	}

	job, err := w.scheduler.NextJob(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNoJobsAvailable
	}
	return w.ProcessJob(ctx, job)
}

func cursorPtr(r *SyncResult) *int64 {
	if r.NewCursor == 0 {
		return nil
	}
	c := r.NewCursor
	return &c
}

func rawToMessage(rm telegram.RawMessage) *models.Message {
	msgType := rm.MessageType
	if msgType == "" {
		msgType = "text"
	}
	return &models.Message{
		ChatID:      rm.ChatID,
		ID:          rm.ID,
		SenderID:    rm.SenderID,
		Text:        rm.Text,
		MessageType: msgType,
		HasMedia:    rm.HasMedia,
		MediaType:   rm.MediaType,
		ReplyToID:   rm.ReplyToID,
		ForwardFrom: rm.ForwardFrom,
		IsOutgoing:  rm.IsOutgoing,
		IsPinned:    rm.IsPinned,
		Date:        rm.Date,
		EditDate:    rm.EditDate,
		Raw:         rm.Raw,
	}
}

func maxMessageID(msgs []telegram.RawMessage) int64 {
	max := msgs[0].ID
	for _, m := range msgs[1:] {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

func minMessageID(msgs []telegram.RawMessage) int64 {
	min := msgs[0].ID
	for _, m := range msgs[1:] {
		if m.ID < min {
			min = m.ID
		}
	}
	return min
}
