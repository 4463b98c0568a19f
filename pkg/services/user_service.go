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

// UserService caches remote peers.
type UserService struct {
	db *sql.DB
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db}
}

const userColumns = `id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
	COALESCE(phone, ''), COALESCE(access_hash, ''), is_contact, is_bot, is_premium, fetched_at, raw`

// Upsert inserts or refreshes one cached user. created_at is preserved
// across upserts; updated_at always advances.
func (s *UserService) Upsert(ctx context.Context, u *models.User) error {
	return upsertUser(ctx, s.db, u)
}

// UpsertBatch writes a batch of users in one transaction.
func (s *UserService) UpsertBatch(ctx context.Context, users []*models.User) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range users {
		if err := upsertUser(ctx, tx, u); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// execer matches *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertUser(ctx context.Context, ex execer, u *models.User) error {
	if u.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	now := time.Now().Unix()
	_, err := ex.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name, phone, access_hash,
		                   is_contact, is_bot, is_premium, fetched_at, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username    = excluded.username,
			first_name  = excluded.first_name,
			last_name   = excluded.last_name,
			phone       = excluded.phone,
			access_hash = excluded.access_hash,
			is_contact  = excluded.is_contact,
			is_bot      = excluded.is_bot,
			is_premium  = excluded.is_premium,
			fetched_at  = excluded.fetched_at,
			raw         = excluded.raw,
			updated_at  = excluded.updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Phone, u.AccessHash,
		u.IsContact, u.IsBot, u.IsPremium, u.FetchedAt, u.Raw, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetByID returns one cached user.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByUsername looks a user up case-insensitively, with or without a
// leading @.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimPrefix(username, "@")
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? COLLATE NOCASE`, username)
	return scanUser(row)
}

// GetByPhone looks a user up by phone, normalizing both sides by
// stripping non-digit characters.
func (s *UserService) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	normalized := normalizePhone(phone)
	if normalized == "" {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone IS NOT NULL AND phone != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by phone: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		if normalizePhone(u.Phone) == normalized {
			return u, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

// List returns cached users ordered by id.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func scanUser(sc scanner) (*models.User, error) {
	var u models.User
	var contact, bot, premium int
	err := sc.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Phone, &u.AccessHash,
		&contact, &bot, &premium, &u.FetchedAt, &u.Raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.IsContact = contact != 0
	u.IsBot = bot != 0
	u.IsPremium = premium != 0
	return &u, nil
}
