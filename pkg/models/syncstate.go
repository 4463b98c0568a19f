package models

// SyncDirection selects which last-sync timestamp to touch.
type SyncDirection string

// Sync directions.
const (
	DirectionForward  SyncDirection = "forward"
	DirectionBackward SyncDirection = "backward"
)

// ChatSyncState is the per-chat sync bookkeeping row.
//
// Invariants: ForwardCursor never goes below any message id observed
// in the forward direction; BackwardCursor never goes above any
// message id fetched backward; HistoryComplete stays set until an
// explicit reset.
type ChatSyncState struct {
	ChatID           string       `json:"chat_id"`
	ChatType         ChatType     `json:"chat_type"`
	SyncPriority     SyncPriority `json:"sync_priority"`
	SyncEnabled      bool         `json:"sync_enabled"`
	ForwardCursor    *int64       `json:"forward_cursor,omitempty"`
	BackwardCursor   *int64       `json:"backward_cursor,omitempty"`
	HistoryComplete  bool         `json:"history_complete"`
	SyncedMessages   int64        `json:"synced_messages"`
	LastForwardSync  *int64       `json:"last_forward_sync,omitempty"`
	LastBackwardSync *int64       `json:"last_backward_sync,omitempty"`
}

// FloodWait is an active per-method block imposed by the remote.
type FloodWait struct {
	Method       string `json:"method"`
	BlockedUntil int64  `json:"blocked_until"`
	WaitSeconds  int    `json:"wait_seconds"`
}

// RateLimitStatus is a snapshot of the rate-limit tracker.
type RateLimitStatus struct {
	TotalCalls       int            `json:"total_calls"`
	CallsByMethod    map[string]int `json:"calls_by_method"`
	ActiveFloodWaits []FloodWait    `json:"active_flood_waits"`
}
