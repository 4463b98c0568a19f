package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy describes the exponential backoff applied to
// account connection attempts: initialDelay * multiplier^(n-1),
// capped at maxDelay.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxRetries   uint64
}

// DefaultReconnectPolicy returns the built-in connect backoff. The
// retry budget is bounded: an account that cannot connect is skipped
// after the final attempt, so it never stalls the accounts behind it
// or keeps the daemon from starting.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		MaxRetries:   4,
	}
}

func (p ReconnectPolicy) newBackoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0

	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// Reconnect retries connect with the policy's backoff until it
// succeeds, the retry budget is exhausted, or the context ends. A
// zero MaxRetries retries until the context is cancelled.
func (p ReconnectPolicy) Reconnect(ctx context.Context, accountID int64, connect func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := connect(ctx)
		if err != nil {
			slog.Warn("Account connection attempt failed",
				"account_id", accountID, "attempt", attempt, "error", err)
		}
		return err
	}
	if err := backoff.Retry(op, p.newBackoff(ctx)); err != nil {
		return WrapError(CodeNetwork, "failed to connect account", err)
	}
	slog.Info("Account connected", "account_id", accountID, "attempts", attempt)
	return nil
}
