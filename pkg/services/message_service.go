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

// MessageService caches messages and maintains the full-text index.
type MessageService struct {
	db *sql.DB
}

// NewMessageService creates a new MessageService.
func NewMessageService(db *sql.DB) *MessageService {
	return &MessageService{db: db}
}

const messageColumns = `chat_id, message_id, COALESCE(sender_id, ''), text, message_type,
	has_media, COALESCE(media_type, ''), reply_to_id, COALESCE(forward_from, ''),
	is_outgoing, is_edited, is_pinned, is_deleted, date, edit_date, fetched_at, raw`

// Upsert inserts or refreshes one cached message, preserving created_at.
func (s *MessageService) Upsert(ctx context.Context, m *models.Message) error {
	return upsertMessage(ctx, s.db, m)
}

// UpsertBatch writes a batch of messages in one transaction.
func (s *MessageService) UpsertBatch(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range messages {
		if err := upsertMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertMessage(ctx context.Context, ex execer, m *models.Message) error {
	if m.ChatID == "" {
		return NewValidationError("chat_id", "must not be empty")
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}

	now := time.Now().Unix()
	_, err := ex.ExecContext(ctx, `
		INSERT INTO messages (chat_id, message_id, sender_id, text, message_type,
		                      has_media, media_type, reply_to_id, forward_from,
		                      is_outgoing, is_edited, is_pinned, is_deleted,
		                      date, edit_date, fetched_at, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			sender_id    = excluded.sender_id,
			text         = excluded.text,
			message_type = excluded.message_type,
			has_media    = excluded.has_media,
			media_type   = excluded.media_type,
			reply_to_id  = excluded.reply_to_id,
			forward_from = excluded.forward_from,
			is_outgoing  = excluded.is_outgoing,
			is_edited    = excluded.is_edited,
			is_pinned    = excluded.is_pinned,
			date         = excluded.date,
			edit_date    = excluded.edit_date,
			fetched_at   = excluded.fetched_at,
			raw          = excluded.raw,
			updated_at   = excluded.updated_at`,
		m.ChatID, m.ID, m.SenderID, m.Text, m.MessageType,
		m.HasMedia, m.MediaType, m.ReplyToID, m.ForwardFrom,
		m.IsOutgoing, m.IsEdited, m.IsPinned, m.IsDeleted,
		m.Date, m.EditDate, m.FetchedAt, m.Raw, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert message %s/%d: %w", m.ChatID, m.ID, err)
	}
	return nil
}

// Get returns one cached message.
func (s *MessageService) Get(ctx context.Context, chatID string, messageID int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID)
	return scanMessage(row)
}

// List returns cached messages, newest first. Tombstoned rows are
// excluded unless IncludeDeleted is set.
func (s *MessageService) List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var where []string
	var args []any
	if filter.ChatID != "" {
		where = append(where, "chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.SenderID != "" {
		where = append(where, "sender_id = ?")
		args = append(args, filter.SenderID)
	}
	if !filter.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date DESC, message_id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Search runs a full-text query over cached message text, joining
// chat and sender metadata. The query string is escaped so no FTS
// operator characters keep special meaning.
func (s *MessageService) Search(ctx context.Context, query string, filter models.SearchFilter) ([]*models.SearchResult, error) {
	escaped := escapeFTSQuery(query)
	if escaped == "" {
		return nil, NewValidationError("query", "must contain at least one searchable token")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `
		SELECT m.chat_id, m.message_id, COALESCE(m.sender_id, ''), m.text, m.message_type,
		       m.has_media, COALESCE(m.media_type, ''), m.reply_to_id, COALESCE(m.forward_from, ''),
		       m.is_outgoing, m.is_edited, m.is_pinned, m.is_deleted, m.date, m.edit_date,
		       m.fetched_at, m.raw,
		       COALESCE(c.title, ''), COALESCE(c.username, ''),
		       COALESCE(TRIM(COALESCE(u.first_name, '') || ' ' || COALESCE(u.last_name, '')), ''),
		       COALESCE(u.username, '')
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		LEFT JOIN chats c ON c.id = m.chat_id
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE messages_fts MATCH ?`
	args := []any{escaped}

	if filter.ChatID != "" {
		sqlQuery += ` AND m.chat_id = ?`
		args = append(args, filter.ChatID)
	}
	if filter.ChatUsername != "" {
		sqlQuery += ` AND c.username = ? COLLATE NOCASE`
		args = append(args, strings.TrimPrefix(filter.ChatUsername, "@"))
	}
	if filter.SenderID != "" {
		sqlQuery += ` AND m.sender_id = ?`
		args = append(args, filter.SenderID)
	}
	if filter.SenderUsername != "" {
		sqlQuery += ` AND u.username = ? COLLATE NOCASE`
		args = append(args, strings.TrimPrefix(filter.SenderUsername, "@"))
	}
	if !filter.IncludeDeleted {
		sqlQuery += ` AND m.is_deleted = 0`
	}
	sqlQuery += ` ORDER BY m.date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []*models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		var media, out, edited, pinned, deleted int
		err := rows.Scan(&r.ChatID, &r.ID, &r.SenderID, &r.Text, &r.MessageType,
			&media, &r.MediaType, &r.ReplyToID, &r.ForwardFrom,
			&out, &edited, &pinned, &deleted, &r.Date, &r.EditDate,
			&r.FetchedAt, &r.Raw,
			&r.ChatTitle, &r.ChatUsername, &r.SenderName, &r.SenderUsername)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.HasMedia = media != 0
		r.IsOutgoing = out != 0
		r.IsEdited = edited != 0
		r.IsPinned = pinned != 0
		r.IsDeleted = deleted != 0
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CountByChat returns the number of live (non-tombstoned) cached
// messages for a chat.
func (s *MessageService) CountByChat(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND is_deleted = 0`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages for chat %s: %w", chatID, err)
	}
	return n, nil
}

// LatestMessageID returns the highest cached message id for a chat,
// or ErrNotFound when the chat has no cached messages.
func (s *MessageService) LatestMessageID(ctx context.Context, chatID string) (int64, error) {
	return s.cursorQuery(ctx, chatID, "MAX")
}

// OldestMessageID returns the lowest cached message id for a chat,
// or ErrNotFound when the chat has no cached messages.
func (s *MessageService) OldestMessageID(ctx context.Context, chatID string) (int64, error) {
	return s.cursorQuery(ctx, chatID, "MIN")
}

func (s *MessageService) cursorQuery(ctx context.Context, chatID, fn string) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT `+fn+`(message_id) FROM messages WHERE chat_id = ?`, chatID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s message id for chat %s: %w", fn, chatID, err)
	}
	if !id.Valid {
		return 0, ErrNotFound
	}
	return id.Int64, nil
}

// MarkDeleted tombstones the given message ids within one chat.
// Returns the number of rows affected. Idempotent.
func (s *MessageService) MarkDeleted(ctx context.Context, chatID string, messageIDs []int64) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		UPDATE messages SET is_deleted = 1, updated_at = ?
		WHERE chat_id = ? AND message_id IN (%s)`, placeholders(len(messageIDs)))
	args := []any{time.Now().Unix(), chatID}
	for _, id := range messageIDs {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages deleted in chat %s: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkDeletedByMessageIDs tombstones every row matching the given
// message ids regardless of chat. Used for delete events that carry
// no chat context (private and small-group deletes).
func (s *MessageService) MarkDeletedByMessageIDs(ctx context.Context, messageIDs []int64) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		UPDATE messages SET is_deleted = 1, updated_at = ?
		WHERE message_id IN (%s)`, placeholders(len(messageIDs)))
	args := []any{time.Now().Unix()}
	for _, id := range messageIDs {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages deleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateText applies an edit event: new text, edit date, is_edited=1.
func (s *MessageService) UpdateText(ctx context.Context, chatID string, messageID int64, text string, editDate int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET text = ?, edit_date = ?, is_edited = 1, updated_at = ?
		WHERE chat_id = ? AND message_id = ?`,
		text, editDate, time.Now().Unix(), chatID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update message text %s/%d: %w", chatID, messageID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatedAt returns the created_at stamp for one row. Used by tests
// to verify that upserts preserve insertion time.
func (s *MessageService) CreatedAt(ctx context.Context, chatID string, messageID int64) (int64, error) {
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return created, err
}

// escapeFTSQuery neutralizes FTS5 operator characters by splitting
// the input into tokens and quoting each one. Hyphens, asterisks,
// parentheses, and quotes lose their special meaning.
func escapeFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '"', '\'', '(', ')', '*', '-', ':', '^':
			return true
		}
		return false
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// placeholders builds a "?, ?, ?" list of the given length.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanMessage(sc scanner) (*models.Message, error) {
	var m models.Message
	var media, out, edited, pinned, deleted int
	err := sc.Scan(&m.ChatID, &m.ID, &m.SenderID, &m.Text, &m.MessageType,
		&media, &m.MediaType, &m.ReplyToID, &m.ForwardFrom,
		&out, &edited, &pinned, &deleted, &m.Date, &m.EditDate, &m.FetchedAt, &m.Raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.HasMedia = media != 0
	m.IsOutgoing = out != 0
	m.IsEdited = edited != 0
	m.IsPinned = pinned != 0
	m.IsDeleted = deleted != 0
	return &m, nil
}
