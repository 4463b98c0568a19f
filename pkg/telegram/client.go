// Package telegram defines the remote-client contract the sync layer
// consumes, and the rate-limit wrapper that sits in front of any
// concrete transport. The transport itself (MTProto session handling,
// reconnects) lives outside this repository; the daemon only depends
// on these interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
)

// RawMessage is the transport-level message shape handed to the sync
// layer. Raw carries the opaque serialized payload; the typed fields
// are the projection extracted at ingest.
type RawMessage struct {
	ID          int64
	ChatID      string
	SenderID    string
	Text        string
	MessageType string
	HasMedia    bool
	MediaType   string
	ReplyToID   *int64
	ForwardFrom string
	IsOutgoing  bool
	IsPinned    bool
	Date        int64
	EditDate    *int64
	Raw         []byte
}

// GetMessagesOptions mirrors the remote history call parameters.
// OffsetID plus a negative AddOffset expresses "messages strictly
// newer than OffsetID, up to Limit".
type GetMessagesOptions struct {
	Limit     int
	OffsetID  int64
	AddOffset int
	MinID     int64
}

// GetMessagesResult is one history page. NoMoreMessages is the
// remote's explicit exhaustion signal.
type GetMessagesResult struct {
	Messages       []RawMessage
	NoMoreMessages bool
}

// MessageFetcher is the single remote capability the sync worker
// needs.
type MessageFetcher interface {
	GetMessages(ctx context.Context, chatID string, opts GetMessagesOptions) (*GetMessagesResult, error)
}

// FloodWaitError is the transport-level "wait N seconds" error.
type FloodWaitError struct {
	Method  string
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait on %s: %d seconds", e.Method, e.Seconds)
}

// RateLimitError is the typed error the wrapper rethrows after a
// flood wait has been persisted. Callers gate on it with errors.As.
type RateLimitError struct {
	Method  string
	Seconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: wait %ds", e.Method, e.Seconds)
}

// IsRateLimited reports whether err carries a rate-limit condition
// and returns the declared wait seconds.
func IsRateLimited(err error) (int, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Seconds, true
	}
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Seconds, true
	}
	return 0, false
}
