package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RateLimiter is the persistence contract the wrapper needs. The
// daemon wires the store-backed rate-limit service here.
type RateLimiter interface {
	IsBlocked(ctx context.Context, method string) (bool, error)
	GetWaitTime(ctx context.Context, method string) (int, error)
	RecordCall(ctx context.Context, method string) error
	SetFloodWait(ctx context.Context, method string, seconds int) error
}

// Caller is a generic remote invocation: one named method, one opaque
// payload in and out.
type Caller interface {
	Call(ctx context.Context, method string, args any) (any, error)
}

// ClientWrapper gates every remote call on the persistent rate-limit
// state. Before each call it consults the block table; after a
// flood-wait error it persists the block and rethrows a typed
// RateLimitError so the job layer fails with a descriptive message.
type ClientWrapper struct {
	inner  Caller
	limits RateLimiter
}

// NewClientWrapper wraps a transport with rate-limit gating.
func NewClientWrapper(inner Caller, limits RateLimiter) *ClientWrapper {
	return &ClientWrapper{inner: inner, limits: limits}
}

// Call performs a gated remote invocation.
func (w *ClientWrapper) Call(ctx context.Context, method string, args any) (any, error) {
	wait, err := w.limits.GetWaitTime(ctx, method)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit for %s: %w", method, err)
	}
	if wait > 0 {
		return nil, &RateLimitError{Method: method, Seconds: wait}
	}

	if err := w.limits.RecordCall(ctx, method); err != nil {
		return nil, fmt.Errorf("failed to record call for %s: %w", method, err)
	}

	result, err := w.inner.Call(ctx, method, args)
	if err != nil {
		var fw *FloodWaitError
		if errors.As(err, &fw) {
			if setErr := w.limits.SetFloodWait(ctx, method, fw.Seconds); setErr != nil {
				slog.Error("Failed to persist flood wait",
					"method", method, "seconds", fw.Seconds, "error", setErr)
			}
			slog.Warn("Remote flood wait", "method", method, "seconds", fw.Seconds)
			return nil, &RateLimitError{Method: method, Seconds: fw.Seconds}
		}
		return nil, err
	}

	return result, nil
}
