package models

// ChatType classifies a cached dialog.
type ChatType string

// Chat types.
const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Chat is a cached dialog row.
type Chat struct {
	ID            string   `json:"id"`
	Type          ChatType `json:"type"`
	Title         string   `json:"title"`
	Username      string   `json:"username,omitempty"`
	MemberCount   *int     `json:"member_count,omitempty"`
	AccessHash    string   `json:"access_hash,omitempty"`
	IsCreator     bool     `json:"is_creator"`
	IsAdmin       bool     `json:"is_admin"`
	LastMessageID *int64   `json:"last_message_id,omitempty"`
	LastMessageAt *int64   `json:"last_message_at,omitempty"`
	FetchedAt     int64    `json:"fetched_at"`
	Raw           []byte   `json:"-"`
}

// ChatFilter narrows chat list queries.
type ChatFilter struct {
	Type   ChatType
	Limit  int
	Offset int
}
