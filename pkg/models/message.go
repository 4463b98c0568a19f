package models

import "time"

// Message is a cached message row. The composite key is (ChatID, ID).
// Deletion is a tombstone: rows are kept with IsDeleted set so that
// repeated delete events reconcile idempotently.
type Message struct {
	ChatID       string `json:"chat_id"`
	ID           int64  `json:"message_id"`
	SenderID     string `json:"sender_id,omitempty"`
	Text         string `json:"text"`
	MessageType  string `json:"message_type"`
	HasMedia     bool   `json:"has_media"`
	MediaType    string `json:"media_type,omitempty"`
	ReplyToID    *int64 `json:"reply_to_id,omitempty"`
	ForwardFrom  string `json:"forward_from,omitempty"`
	IsOutgoing   bool   `json:"is_outgoing"`
	IsEdited     bool   `json:"is_edited"`
	IsPinned     bool   `json:"is_pinned"`
	IsDeleted    bool   `json:"is_deleted"`
	Date         int64  `json:"date"`
	EditDate     *int64 `json:"edit_date,omitempty"`
	FetchedAt    int64  `json:"fetched_at"`
	Raw          []byte `json:"-"`
}

// MessageFilter narrows List queries over cached messages.
type MessageFilter struct {
	ChatID         string
	SenderID       string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// SearchFilter narrows full-text search over cached messages.
type SearchFilter struct {
	ChatID         string
	ChatUsername   string
	SenderID       string
	SenderUsername string
	IncludeDeleted bool
	Limit          int
}

// SearchResult is one full-text search hit joined with chat and
// sender metadata.
type SearchResult struct {
	Message
	ChatTitle      string `json:"chat_title,omitempty"`
	ChatUsername   string `json:"chat_username,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
}

// DaemonStatus is the singleton daemon bookkeeping row.
type DaemonStatus struct {
	StartedAt         time.Time `json:"started_at"`
	LastUpdate        time.Time `json:"last_update"`
	ConnectedAccounts int       `json:"connected_accounts"`
	TotalAccounts     int       `json:"total_accounts"`
	MessagesSynced    int64     `json:"messages_synced"`
}
