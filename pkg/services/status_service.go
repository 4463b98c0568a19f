package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
)

// DaemonStatusService maintains the singleton daemon bookkeeping row.
type DaemonStatusService struct {
	db *sql.DB
}

// NewDaemonStatusService creates a new DaemonStatusService.
func NewDaemonStatusService(db *sql.DB) *DaemonStatusService {
	return &DaemonStatusService{db: db}
}

// MarkStarted resets the singleton row for a fresh daemon run.
// Account counts are carried in, the synced counter is preserved.
func (s *DaemonStatusService) MarkStarted(ctx context.Context, connected, total int) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_status (id, started_at, last_update, connected_accounts, total_accounts, messages_synced)
		VALUES (1, ?, ?, ?, ?, 0)
		ON CONFLICT (id) DO UPDATE SET
			started_at         = excluded.started_at,
			last_update        = excluded.last_update,
			connected_accounts = excluded.connected_accounts,
			total_accounts     = excluded.total_accounts`,
		now, now, connected, total)
	if err != nil {
		return fmt.Errorf("failed to mark daemon started: %w", err)
	}
	return nil
}

// Touch advances last_update.
func (s *DaemonStatusService) Touch(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daemon_status SET last_update = ? WHERE id = 1`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to touch daemon status: %w", err)
	}
	return nil
}

// SetAccountCounts updates the connected/total account counters.
func (s *DaemonStatusService) SetAccountCounts(ctx context.Context, connected, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daemon_status SET connected_accounts = ?, total_accounts = ?, last_update = ?
		WHERE id = 1`, connected, total, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set account counts: %w", err)
	}
	return nil
}

// AddMessagesSynced adds delta to the global synced counter.
func (s *DaemonStatusService) AddMessagesSynced(ctx context.Context, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE daemon_status SET messages_synced = messages_synced + ?, last_update = ?
		WHERE id = 1`, delta, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add synced messages: %w", err)
	}
	return nil
}

// Snapshot returns the current daemon status row. A zero-value
// snapshot is returned when the daemon has never started.
func (s *DaemonStatusService) Snapshot(ctx context.Context) (*models.DaemonStatus, error) {
	var started, updated int64
	var st models.DaemonStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, last_update, connected_accounts, total_accounts, messages_synced
		FROM daemon_status WHERE id = 1`).
		Scan(&started, &updated, &st.ConnectedAccounts, &st.TotalAccounts, &st.MessagesSynced)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.DaemonStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read daemon status: %w", err)
	}
	st.StartedAt = time.Unix(started, 0)
	st.LastUpdate = time.Unix(updated, 0)
	return &st, nil
}
