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

// ChatService caches remote dialogs.
type ChatService struct {
	db *sql.DB
}

// NewChatService creates a new ChatService.
func NewChatService(db *sql.DB) *ChatService {
	return &ChatService{db: db}
}

const chatColumns = `id, type, COALESCE(title, ''), COALESCE(username, ''), member_count,
	COALESCE(access_hash, ''), is_creator, is_admin, last_message_id, last_message_at, fetched_at, raw`

// Upsert inserts or refreshes one cached chat, preserving created_at.
func (s *ChatService) Upsert(ctx context.Context, c *models.Chat) error {
	if c.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	if c.Type == "" {
		c.Type = models.ChatPrivate
	}

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, type, title, username, member_count, access_hash,
		                   is_creator, is_admin, last_message_id, last_message_at,
		                   fetched_at, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type            = excluded.type,
			title           = excluded.title,
			username        = excluded.username,
			member_count    = excluded.member_count,
			access_hash     = excluded.access_hash,
			is_creator      = excluded.is_creator,
			is_admin        = excluded.is_admin,
			last_message_id = excluded.last_message_id,
			last_message_at = excluded.last_message_at,
			fetched_at      = excluded.fetched_at,
			raw             = excluded.raw,
			updated_at      = excluded.updated_at`,
		c.ID, c.Type, c.Title, c.Username, c.MemberCount, c.AccessHash,
		c.IsCreator, c.IsAdmin, c.LastMessageID, c.LastMessageAt,
		c.FetchedAt, c.Raw, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert chat %s: %w", c.ID, err)
	}
	return nil
}

// Get returns one cached chat by id.
func (s *ChatService) Get(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	return scanChat(row)
}

// GetByUsername looks a chat up case-insensitively, tolerating an
// optional leading @.
func (s *ChatService) GetByUsername(ctx context.Context, username string) (*models.Chat, error) {
	username = strings.TrimPrefix(username, "@")
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE username = ? COLLATE NOCASE`, username)
	return scanChat(row)
}

// List returns cached chats, most recently active first.
func (s *ChatService) List(ctx context.Context, filter models.ChatFilter) ([]*models.Chat, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + chatColumns + ` FROM chats`
	args := []any{}
	if filter.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY last_message_at DESC NULLS LAST, id LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func scanChat(sc scanner) (*models.Chat, error) {
	var c models.Chat
	var creator, admin int
	err := sc.Scan(&c.ID, &c.Type, &c.Title, &c.Username, &c.MemberCount, &c.AccessHash,
		&creator, &admin, &c.LastMessageID, &c.LastMessageAt, &c.FetchedAt, &c.Raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	c.IsCreator = creator != 0
	c.IsAdmin = admin != 0
	return &c, nil
}
