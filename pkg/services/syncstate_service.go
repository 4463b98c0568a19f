package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
)

// SyncStateService keeps the per-chat cursor bookkeeping.
type SyncStateService struct {
	db *sql.DB
}

// NewSyncStateService creates a new SyncStateService.
func NewSyncStateService(db *sql.DB) *SyncStateService {
	return &SyncStateService{db: db}
}

const syncStateColumns = `chat_id, chat_type, sync_priority, sync_enabled, forward_cursor,
	backward_cursor, history_complete, synced_messages, last_forward_sync, last_backward_sync`

// Upsert inserts or updates a sync-state row. On conflict the cursors
// and counters are left alone; only type, priority, and enabled flag
// follow the new value.
func (s *SyncStateService) Upsert(ctx context.Context, st *models.ChatSyncState) error {
	if st.ChatID == "" {
		return NewValidationError("chat_id", "must not be empty")
	}
	if st.ChatType == "" {
		st.ChatType = models.ChatPrivate
	}

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sync_state (chat_id, chat_type, sync_priority, sync_enabled,
		                             forward_cursor, backward_cursor, history_complete,
		                             synced_messages, last_forward_sync, last_backward_sync,
		                             created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			chat_type     = excluded.chat_type,
			sync_priority = excluded.sync_priority,
			sync_enabled  = excluded.sync_enabled,
			updated_at    = excluded.updated_at`,
		st.ChatID, st.ChatType, st.SyncPriority, st.SyncEnabled,
		st.ForwardCursor, st.BackwardCursor, st.HistoryComplete,
		st.SyncedMessages, st.LastForwardSync, st.LastBackwardSync,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert sync state for chat %s: %w", st.ChatID, err)
	}
	return nil
}

// EnsureExists creates a default sync-state row for a chat if none
// exists yet. Existing rows are left untouched.
func (s *SyncStateService) EnsureExists(ctx context.Context, chatID string, chatType models.ChatType, priority models.SyncPriority, enabled bool) error {
	if chatType == "" {
		chatType = models.ChatPrivate
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sync_state (chat_id, chat_type, sync_priority, sync_enabled,
		                             history_complete, synced_messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT (chat_id) DO NOTHING`,
		chatID, chatType, priority, enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure sync state for chat %s: %w", chatID, err)
	}
	return nil
}

// Get returns the sync state for one chat.
func (s *SyncStateService) Get(ctx context.Context, chatID string) (*models.ChatSyncState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncStateColumns+` FROM chat_sync_state WHERE chat_id = ?`, chatID)
	return scanSyncState(row)
}

// GetEnabledChats returns sync states with sync_enabled set, ordered
// by priority then chat id.
func (s *SyncStateService) GetEnabledChats(ctx context.Context) ([]*models.ChatSyncState, error) {
	return s.query(ctx,
		`SELECT `+syncStateColumns+` FROM chat_sync_state WHERE sync_enabled = 1
		 ORDER BY sync_priority, chat_id`)
}

// GetChatsByPriority returns enabled chats at or above the given
// urgency (priority value less than or equal to max).
func (s *SyncStateService) GetChatsByPriority(ctx context.Context, max models.SyncPriority) ([]*models.ChatSyncState, error) {
	return s.query(ctx,
		`SELECT `+syncStateColumns+` FROM chat_sync_state
		 WHERE sync_enabled = 1 AND sync_priority <= ?
		 ORDER BY sync_priority, chat_id`, max)
}

// GetIncompleteHistory returns enabled chats whose backward history
// is not yet complete.
func (s *SyncStateService) GetIncompleteHistory(ctx context.Context) ([]*models.ChatSyncState, error) {
	return s.query(ctx,
		`SELECT `+syncStateColumns+` FROM chat_sync_state
		 WHERE sync_enabled = 1 AND history_complete = 0
		 ORDER BY sync_priority, chat_id`)
}

// AdvanceForwardCursor moves the forward cursor up, but never down:
// the update applies only when candidate is greater than the current
// cursor (or the cursor is unset). Returns true when the row changed.
func (s *SyncStateService) AdvanceForwardCursor(ctx context.Context, chatID string, candidate int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET forward_cursor = ?, updated_at = ?
		WHERE chat_id = ? AND (forward_cursor IS NULL OR forward_cursor < ?)`,
		candidate, time.Now().Unix(), chatID, candidate)
	if err != nil {
		return false, fmt.Errorf("failed to advance forward cursor for chat %s: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RetreatBackwardCursor moves the backward cursor down, but never up.
func (s *SyncStateService) RetreatBackwardCursor(ctx context.Context, chatID string, candidate int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET backward_cursor = ?, updated_at = ?
		WHERE chat_id = ? AND (backward_cursor IS NULL OR backward_cursor > ?)`,
		candidate, time.Now().Unix(), chatID, candidate)
	if err != nil {
		return false, fmt.Errorf("failed to retreat backward cursor for chat %s: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetCursors writes both cursors in one statement. Used by the
// initial-load path which establishes the window atomically.
func (s *SyncStateService) SetCursors(ctx context.Context, chatID string, forward, backward int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET forward_cursor = ?, backward_cursor = ?, updated_at = ?
		WHERE chat_id = ?`,
		forward, backward, time.Now().Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to set cursors for chat %s: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkHistoryComplete sets the history-complete flag. The flag stays
// set until ResetHistory is called.
func (s *SyncStateService) MarkHistoryComplete(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET history_complete = 1, updated_at = ?
		WHERE chat_id = ?`, time.Now().Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to mark history complete for chat %s: %w", chatID, err)
	}
	return nil
}

// ResetHistory clears the history-complete flag and the backward
// cursor so backward sync can start over.
func (s *SyncStateService) ResetHistory(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET history_complete = 0, backward_cursor = NULL, updated_at = ?
		WHERE chat_id = ?`, time.Now().Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to reset history for chat %s: %w", chatID, err)
	}
	return nil
}

// IncrementSyncedMessages adds delta to the per-chat synced counter.
func (s *SyncStateService) IncrementSyncedMessages(ctx context.Context, chatID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET synced_messages = synced_messages + ?, updated_at = ?
		WHERE chat_id = ?`, delta, time.Now().Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to increment synced counter for chat %s: %w", chatID, err)
	}
	return nil
}

// UpdateLastSync stamps the last-sync time for one direction.
func (s *SyncStateService) UpdateLastSync(ctx context.Context, chatID string, direction models.SyncDirection) error {
	column := "last_forward_sync"
	if direction == models.DirectionBackward {
		column = "last_backward_sync"
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_sync_state SET `+column+` = ?, updated_at = ? WHERE chat_id = ?`,
		now, now, chatID)
	if err != nil {
		return fmt.Errorf("failed to update %s for chat %s: %w", column, chatID, err)
	}
	return nil
}

// SetEnabled toggles sync for one chat.
func (s *SyncStateService) SetEnabled(ctx context.Context, chatID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_sync_state SET sync_enabled = ?, updated_at = ? WHERE chat_id = ?`,
		enabled, time.Now().Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to set sync enabled for chat %s: %w", chatID, err)
	}
	return nil
}

func (s *SyncStateService) query(ctx context.Context, query string, args ...any) ([]*models.ChatSyncState, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var states []*models.ChatSyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func scanSyncState(sc scanner) (*models.ChatSyncState, error) {
	var st models.ChatSyncState
	var enabled, complete int
	err := sc.Scan(&st.ChatID, &st.ChatType, &st.SyncPriority, &enabled,
		&st.ForwardCursor, &st.BackwardCursor, &complete,
		&st.SyncedMessages, &st.LastForwardSync, &st.LastBackwardSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan sync state: %w", err)
	}
	st.SyncEnabled = enabled != 0
	st.HistoryComplete = complete != 0
	return &st, nil
}
