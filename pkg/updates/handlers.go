// Package updates applies live events from the remote connection to
// the message cache: new messages, edits, deletions, and batched
// channel-gap backfills. Handler errors are logged and swallowed so a
// single bad event never tears down the update stream.
package updates

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/services"
	"github.com/tgsync/tgsync/pkg/telegram"
)

// maxLoggedIDs caps how many message ids a single error log carries.
const maxLoggedIDs = 5

// Handler applies live update events to the cache.
type Handler struct {
	messages  *services.MessageService
	syncState *services.SyncStateService
	users     *services.UserService
	chats     *services.ChatService
	status    *services.DaemonStatusService
}

// NewHandler creates an update handler. users, chats, and status are
// optional; nil disables the corresponding enrichment.
func NewHandler(
	messages *services.MessageService,
	syncState *services.SyncStateService,
	users *services.UserService,
	chats *services.ChatService,
	status *services.DaemonStatusService,
) *Handler {
	return &Handler{
		messages:  messages,
		syncState: syncState,
		users:     users,
		chats:     chats,
		status:    status,
	}
}

// NewMessage caches one freshly received message and advances the
// chat's forward cursor. Chats never seen before get a default
// sync-state row so live traffic starts tracking immediately.
func (h *Handler) NewMessage(ctx context.Context, raw telegram.RawMessage) {
	if err := h.handleNewMessage(ctx, raw); err != nil {
		slog.Error("Failed to apply new-message update",
			"chat_id", raw.ChatID, "message_id", raw.ID, "error", err)
	}
}

func (h *Handler) handleNewMessage(ctx context.Context, raw telegram.RawMessage) error {
	if raw.ChatID == "" {
		return errors.New("new message event without chat id")
	}

	if err := h.syncState.EnsureExists(ctx, raw.ChatID, models.ChatPrivate, models.PriorityMedium, true); err != nil {
		return err
	}

	msg := messageFromRaw(raw)
	if err := h.messages.Upsert(ctx, msg); err != nil {
		return err
	}

	if _, err := h.syncState.AdvanceForwardCursor(ctx, raw.ChatID, raw.ID); err != nil {
		return err
	}
	if err := h.syncState.IncrementSyncedMessages(ctx, raw.ChatID, 1); err != nil {
		return err
	}
	if h.status != nil {
		if err := h.status.AddMessagesSynced(ctx, 1); err != nil {
			slog.Warn("Failed to bump global synced counter", "error", err)
		}
	}
	return nil
}

// EditMessage replaces the text of a cached message and flags it as
// edited. A message not in the cache yet is inserted whole, keeping
// the cache convergent when edits arrive before the original fetch.
func (h *Handler) EditMessage(ctx context.Context, raw telegram.RawMessage) {
	if err := h.handleEditMessage(ctx, raw); err != nil {
		slog.Error("Failed to apply edit-message update",
			"chat_id", raw.ChatID, "message_id", raw.ID, "error", err)
	}
}

func (h *Handler) handleEditMessage(ctx context.Context, raw telegram.RawMessage) error {
	editDate := time.Now().Unix()
	if raw.EditDate != nil {
		editDate = *raw.EditDate
	}

	err := h.messages.UpdateText(ctx, raw.ChatID, raw.ID, raw.Text, editDate)
	if errors.Is(err, services.ErrNotFound) {
		msg := messageFromRaw(raw)
		msg.IsEdited = true
		msg.EditDate = &editDate
		return h.messages.Upsert(ctx, msg)
	}
	return err
}

// DeleteMessages tombstones the given messages in one chat.
func (h *Handler) DeleteMessages(ctx context.Context, chatID string, messageIDs []int64) {
	n, err := h.messages.MarkDeleted(ctx, chatID, messageIDs)
	if err != nil {
		slog.Error("Failed to apply delete-messages update",
			"chat_id", chatID, "message_ids", truncateIDs(messageIDs), "error", err)
		return
	}
	slog.Debug("Tombstoned messages", "chat_id", chatID, "count", n)
}

// DeleteMessagesNoChat tombstones messages by id alone. Private-chat
// delete events arrive without a chat reference; ids are globally
// scoped for those, so marking every match is correct.
func (h *Handler) DeleteMessagesNoChat(ctx context.Context, messageIDs []int64) {
	n, err := h.messages.MarkDeletedByMessageIDs(ctx, messageIDs)
	if err != nil {
		slog.Error("Failed to apply delete-messages update",
			"message_ids", truncateIDs(messageIDs), "error", err)
		return
	}
	slog.Debug("Tombstoned messages without chat scope", "count", n)
}

// BatchMessages applies a channel-gap backfill: messages are grouped
// by chat, upserted in one transaction per chat, and both cursors are
// stretched to cover the batch window.
func (h *Handler) BatchMessages(ctx context.Context, raws []telegram.RawMessage) {
	byChat := make(map[string][]*models.Message)
	for _, raw := range raws {
		if raw.ChatID == "" {
			continue
		}
		byChat[raw.ChatID] = append(byChat[raw.ChatID], messageFromRaw(raw))
	}

	for chatID, batch := range byChat {
		if err := h.applyChatBatch(ctx, chatID, batch); err != nil {
			slog.Error("Failed to apply batch update",
				"chat_id", chatID, "count", len(batch), "error", err)
		}
	}
}

func (h *Handler) applyChatBatch(ctx context.Context, chatID string, batch []*models.Message) error {
	if err := h.syncState.EnsureExists(ctx, chatID, models.ChatPrivate, models.PriorityMedium, true); err != nil {
		return err
	}
	if err := h.messages.UpsertBatch(ctx, batch); err != nil {
		return err
	}

	maxID, minID := batch[0].ID, batch[0].ID
	for _, m := range batch[1:] {
		if m.ID > maxID {
			maxID = m.ID
		}
		if m.ID < minID {
			minID = m.ID
		}
	}
	if _, err := h.syncState.AdvanceForwardCursor(ctx, chatID, maxID); err != nil {
		return err
	}
	if _, err := h.syncState.RetreatBackwardCursor(ctx, chatID, minID); err != nil {
		return err
	}
	if err := h.syncState.IncrementSyncedMessages(ctx, chatID, len(batch)); err != nil {
		return err
	}
	if h.status != nil {
		if err := h.status.AddMessagesSynced(ctx, len(batch)); err != nil {
			slog.Warn("Failed to bump global synced counter", "error", err)
		}
	}
	return nil
}

// UserSeen upserts sender metadata observed alongside an update.
func (h *Handler) UserSeen(ctx context.Context, user *models.User) {
	if h.users == nil || user == nil {
		return
	}
	if err := h.users.Upsert(ctx, user); err != nil {
		slog.Error("Failed to upsert user from update", "user_id", user.ID, "error", err)
	}
}

// ChatSeen upserts chat metadata observed alongside an update.
func (h *Handler) ChatSeen(ctx context.Context, chat *models.Chat) {
	if h.chats == nil || chat == nil {
		return
	}
	if err := h.chats.Upsert(ctx, chat); err != nil {
		slog.Error("Failed to upsert chat from update", "chat_id", chat.ID, "error", err)
	}
}

func messageFromRaw(raw telegram.RawMessage) *models.Message {
	msgType := raw.MessageType
	if msgType == "" {
		msgType = "text"
	}
	return &models.Message{
		ChatID:      raw.ChatID,
		ID:          raw.ID,
		SenderID:    raw.SenderID,
		Text:        raw.Text,
		MessageType: msgType,
		HasMedia:    raw.HasMedia,
		MediaType:   raw.MediaType,
		ReplyToID:   raw.ReplyToID,
		ForwardFrom: raw.ForwardFrom,
		IsOutgoing:  raw.IsOutgoing,
		IsPinned:    raw.IsPinned,
		Date:        raw.Date,
		EditDate:    raw.EditDate,
		FetchedAt:   time.Now().Unix(),
		Raw:         raw.Raw,
	}
}

func truncateIDs(ids []int64) []int64 {
	if len(ids) > maxLoggedIDs {
		return ids[:maxLoggedIDs]
	}
	return ids
}
