package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
)

// AccountService manages persistent account identities in accounts.db.
type AccountService struct {
	db *sql.DB
}

// NewAccountService creates a new AccountService.
func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

// Create inserts a new account and returns it.
func (s *AccountService) Create(ctx context.Context, phone, displayName, username, label string) (*models.Account, error) {
	if phone == "" {
		return nil, NewValidationError("phone", "must not be empty")
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (phone, display_name, username, label, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		phone, displayName, username, label, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("account with phone %s: %w", phone, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read account id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get returns one account by id.
func (s *AccountService) Get(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone, COALESCE(display_name, ''), COALESCE(username, ''), COALESCE(label, ''),
		       session, is_active, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetActive returns the currently active account.
// Returns ErrNoActiveAccount when none is selected.
func (s *AccountService) GetActive(ctx context.Context) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone, COALESCE(display_name, ''), COALESCE(username, ''), COALESCE(label, ''),
		       session, is_active, created_at, updated_at
		FROM accounts WHERE is_active = 1 LIMIT 1`)
	acc, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveAccount
	}
	return acc, err
}

// List returns all accounts ordered by id.
func (s *AccountService) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone, COALESCE(display_name, ''), COALESCE(username, ''), COALESCE(label, ''),
		       session, is_active, created_at, updated_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// SetActive marks one account active and clears the flag on all
// others in the same transaction.
func (s *AccountService) SetActive(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_active = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("failed to activate account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_active = 0, updated_at = ? WHERE id != ? AND is_active = 1`, now, id); err != nil {
		return fmt.Errorf("failed to clear active flags: %w", err)
	}

	return tx.Commit()
}

// UpdateSession stores the opaque session blob for an account.
func (s *AccountService) UpdateSession(ctx context.Context, id int64, session []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET session = ?, updated_at = ? WHERE id = ?`,
		session, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an account.
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored accounts.
func (s *AccountService) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (*models.Account, error) {
	var acc models.Account
	var session []byte
	var active int
	err := sc.Scan(&acc.ID, &acc.Phone, &acc.DisplayName, &acc.Username, &acc.Label,
		&session, &active, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	acc.Session = session
	acc.IsActive = active != 0
	return &acc, nil
}
