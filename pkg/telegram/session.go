package telegram

import (
	"context"
	"errors"
	"sync"
)

// SessionOptions identifies one account session on disk plus the API
// credentials the transport needs to open it.
type SessionOptions struct {
	APIID       string
	APIHash     string
	SessionPath string
	AccountID   int64
}

// Transport opens account sessions. Concrete MTProto transports
// register themselves at init time, the same way database/sql drivers
// do; the daemon stays transport-agnostic.
type Transport interface {
	Open(ctx context.Context, opts SessionOptions) (MessageFetcher, error)
}

var (
	transportMu sync.RWMutex
	transport   Transport
)

// ErrNoTransport indicates no transport has been registered.
var ErrNoTransport = errors.New("no telegram transport registered")

// RegisterTransport installs the process-wide transport. Calling it
// twice panics; a transport is wired exactly once at startup.
func RegisterTransport(t Transport) {
	transportMu.Lock()
	defer transportMu.Unlock()
	if transport != nil {
		panic("telegram: transport already registered")
	}
	transport = t
}

// OpenSession opens one account's session through the registered
// transport.
func OpenSession(ctx context.Context, opts SessionOptions) (MessageFetcher, error) {
	transportMu.RLock()
	t := transport
	transportMu.RUnlock()
	if t == nil {
		return nil, ErrNoTransport
	}
	return t.Open(ctx, opts)
}
