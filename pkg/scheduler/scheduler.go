// Package scheduler turns sync intent into persisted jobs. It wraps
// the job, sync-state, and message services with the idempotency and
// priority rules the queue relies on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/services"
)

// initialLoadBatch is the page size used for startup initial loads.
const initialLoadBatch = 10

// Scheduler queues sync jobs idempotently per (chat, type) and hands
// the next one to the executor in priority order.
type Scheduler struct {
	jobs      *services.JobService
	syncState *services.SyncStateService
	messages  *services.MessageService
}

// New creates a Scheduler over the store-backed services.
func New(jobs *services.JobService, syncState *services.SyncStateService, messages *services.MessageService) *Scheduler {
	return &Scheduler{jobs: jobs, syncState: syncState, messages: messages}
}

// QueueForwardCatchup queues a forward catchup at realtime priority.
// No-op when a pending forward catchup already exists for the chat.
func (s *Scheduler) QueueForwardCatchup(ctx context.Context, chatID string) (*models.SyncJob, error) {
	pending, err := s.jobs.HasPendingJobForChat(ctx, chatID, models.JobForwardCatchup)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, nil
	}
	return s.jobs.Create(ctx, chatID, models.JobForwardCatchup, models.PriorityRealtime)
}

// QueueBackwardHistory queues a backward history page at background
// priority. No-op when history is already complete or a pending
// backward job exists. When the chat has neither a backward cursor
// nor any cached messages, an initial load is queued instead: a bare
// backward offset against an empty cache would loop forever on the
// remote.
func (s *Scheduler) QueueBackwardHistory(ctx context.Context, chatID string) (*models.SyncJob, error) {
	state, err := s.syncState.Get(ctx, chatID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	if state != nil && state.HistoryComplete {
		return nil, nil
	}

	pending, err := s.jobs.HasPendingJobForChat(ctx, chatID, models.JobBackwardHistory)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, nil
	}

	if state == nil || state.BackwardCursor == nil {
		count, err := s.messages.CountByChat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			slog.Debug("No cursor and empty cache, queueing initial load instead",
				"chat_id", chatID)
			return s.QueueInitialLoad(ctx, chatID, initialLoadBatch)
		}
	}

	return s.jobs.Create(ctx, chatID, models.JobBackwardHistory, models.PriorityBackground)
}

// QueueInitialLoad queues an initial load at the chat's configured
// priority (medium when the chat has no sync state). No-op when a
// pending initial load exists.
func (s *Scheduler) QueueInitialLoad(ctx context.Context, chatID string, limit int) (*models.SyncJob, error) {
	pending, err := s.jobs.HasPendingJobForChat(ctx, chatID, models.JobInitialLoad)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, nil
	}

	priority := models.PriorityMedium
	state, err := s.syncState.Get(ctx, chatID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	if state != nil {
		priority = state.SyncPriority
	}

	_ = limit // page size is the worker's batch size; limit is advisory

	return s.jobs.Create(ctx, chatID, models.JobInitialLoad, priority)
}

// InitializeForStartup prepares the queue for a fresh daemon run:
// crashed jobs are recovered, every enabled chat gets a forward
// catchup, empty medium-or-better chats get an initial load, and
// incomplete histories get a backward page.
func (s *Scheduler) InitializeForStartup(ctx context.Context) error {
	recovered, err := s.jobs.RecoverCrashedJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover crashed jobs: %w", err)
	}
	if recovered > 0 {
		slog.Warn("Recovered crashed jobs from previous run", "count", recovered)
	}

	enabled, err := s.syncState.GetEnabledChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled chats: %w", err)
	}
	for _, st := range enabled {
		if _, err := s.QueueForwardCatchup(ctx, st.ChatID); err != nil {
			return fmt.Errorf("failed to queue forward catchup for chat %s: %w", st.ChatID, err)
		}
	}

	prioritized, err := s.syncState.GetChatsByPriority(ctx, models.PriorityMedium)
	if err != nil {
		return fmt.Errorf("failed to list prioritized chats: %w", err)
	}
	for _, st := range prioritized {
		if st.SyncedMessages == 0 && !st.HistoryComplete {
			if _, err := s.QueueInitialLoad(ctx, st.ChatID, initialLoadBatch); err != nil {
				return fmt.Errorf("failed to queue initial load for chat %s: %w", st.ChatID, err)
			}
		}
	}
	for _, st := range prioritized {
		if !st.HistoryComplete {
			if _, err := s.QueueBackwardHistory(ctx, st.ChatID); err != nil {
				return fmt.Errorf("failed to queue backward history for chat %s: %w", st.ChatID, err)
			}
		}
	}

	slog.Info("Scheduler initialized",
		"enabled_chats", len(enabled),
		"recovered_jobs", recovered)
	return nil
}

// NextJob claims the highest-urgency pending job. Returns nil when
// the queue is empty.
func (s *Scheduler) NextJob(ctx context.Context) (*models.SyncJob, error) {
	job, err := s.jobs.ClaimNext(ctx)
	if errors.Is(err, services.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// StartJob transitions a pending job to running.
func (s *Scheduler) StartJob(ctx context.Context, id string) (bool, error) {
	return s.jobs.MarkRunning(ctx, id)
}

// CompleteJob transitions a running job to completed.
func (s *Scheduler) CompleteJob(ctx context.Context, id string) (bool, error) {
	return s.jobs.MarkCompleted(ctx, id)
}

// FailJob transitions a running job to failed with a message.
func (s *Scheduler) FailJob(ctx context.Context, id, message string) (bool, error) {
	return s.jobs.MarkFailed(ctx, id, message)
}

// UpdateProgress records per-batch progress against a job.
func (s *Scheduler) UpdateProgress(ctx context.Context, id string, cursorEnd *int64, fetchedDelta int) error {
	return s.jobs.UpdateProgress(ctx, id, cursorEnd, fetchedDelta)
}

// SetCursorWindow records the message-id window a job covered.
func (s *Scheduler) SetCursorWindow(ctx context.Context, id string, cursorStart, cursorEnd int64) error {
	return s.jobs.SetCursorWindow(ctx, id, cursorStart, cursorEnd)
}

// Status aggregates pending counts by type and priority plus the
// running count.
func (s *Scheduler) Status(ctx context.Context) (*models.QueueStats, error) {
	return s.jobs.Stats(ctx)
}
