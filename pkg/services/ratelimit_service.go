package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
)

// rateLimitWindow is the rolling window for per-method call counters.
const rateLimitWindow = 60 * time.Second

// RateLimitService tracks per-method call counters and flood-wait
// blocks. A method is blocked iff now < blocked_until.
type RateLimitService struct {
	db  *sql.DB
	now func() time.Time
}

// NewRateLimitService creates a new RateLimitService.
func NewRateLimitService(db *sql.DB) *RateLimitService {
	return &RateLimitService{db: db, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (s *RateLimitService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordCall appends a timestamped call record for a method.
func (s *RateLimitService) RecordCall(ctx context.Context, method string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limit_calls (method, called_at) VALUES (?, ?)`,
		method, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record call for %s: %w", method, err)
	}
	return nil
}

// CallsInWindow counts calls for a method inside the rolling window.
func (s *RateLimitService) CallsInWindow(ctx context.Context, method string) (int, error) {
	cutoff := s.now().Add(-rateLimitWindow).Unix()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_calls WHERE method = ? AND called_at >= ?`,
		method, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count calls for %s: %w", method, err)
	}
	return n, nil
}

// IsBlocked reports whether a flood wait is active for the method.
func (s *RateLimitService) IsBlocked(ctx context.Context, method string) (bool, error) {
	wait, err := s.GetWaitTime(ctx, method)
	if err != nil {
		return false, err
	}
	return wait > 0, nil
}

// GetWaitTime returns the remaining flood-wait seconds for a method,
// zero when unblocked.
func (s *RateLimitService) GetWaitTime(ctx context.Context, method string) (int, error) {
	var blockedUntil int64
	err := s.db.QueryRowContext(ctx,
		`SELECT blocked_until FROM flood_waits WHERE method = ?`, method).Scan(&blockedUntil)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read flood wait for %s: %w", method, err)
	}

	remaining := blockedUntil - s.now().Unix()
	if remaining <= 0 {
		return 0, nil
	}
	return int(remaining), nil
}

// SetFloodWait records a remote-imposed block: blocked_until is
// now+seconds. A longer existing block is never shortened.
func (s *RateLimitService) SetFloodWait(ctx context.Context, method string, seconds int) error {
	now := s.now().Unix()
	blockedUntil := now + int64(seconds)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flood_waits (method, blocked_until, wait_seconds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (method) DO UPDATE SET
			blocked_until = MAX(flood_waits.blocked_until, excluded.blocked_until),
			wait_seconds  = excluded.wait_seconds,
			updated_at    = excluded.updated_at`,
		method, blockedUntil, seconds, now)
	if err != nil {
		return fmt.Errorf("failed to set flood wait for %s: %w", method, err)
	}
	return nil
}

// Status returns a snapshot: total calls in the window, the
// per-method breakdown, and every active flood wait.
func (s *RateLimitService) Status(ctx context.Context) (*models.RateLimitStatus, error) {
	now := s.now().Unix()
	cutoff := s.now().Add(-rateLimitWindow).Unix()

	status := &models.RateLimitStatus{
		CallsByMethod: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT method, COUNT(*) FROM rate_limit_calls
		WHERE called_at >= ? GROUP BY method`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query call counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return nil, fmt.Errorf("failed to scan call counter: %w", err)
		}
		status.CallsByMethod[method] = n
		status.TotalCalls += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	waits, err := s.db.QueryContext(ctx, `
		SELECT method, blocked_until, wait_seconds FROM flood_waits
		WHERE blocked_until > ? ORDER BY method`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query flood waits: %w", err)
	}
	defer waits.Close()

	for waits.Next() {
		var fw models.FloodWait
		if err := waits.Scan(&fw.Method, &fw.BlockedUntil, &fw.WaitSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan flood wait: %w", err)
		}
		status.ActiveFloodWaits = append(status.ActiveFloodWaits, fw)
	}
	return status, waits.Err()
}

// PruneOldCalls removes call records older than the rolling window.
// Run periodically to keep the table small.
func (s *RateLimitService) PruneOldCalls(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-rateLimitWindow).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_calls WHERE called_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune call records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
