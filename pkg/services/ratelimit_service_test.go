package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a controllable time source pinned to a base
// instant.
func fixedClock(base time.Time) (*time.Duration, func() time.Time) {
	offset := new(time.Duration)
	return offset, func() time.Time { return base.Add(*offset) }
}

func TestRateLimitService_CallWindow(t *testing.T) {
	svc := NewRateLimitService(testCacheDB(t))
	ctx := testCtx()

	offset, clock := fixedClock(time.Unix(1700000000, 0))
	svc.SetClock(clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordCall(ctx, "messages.getHistory"))
	}
	require.NoError(t, svc.RecordCall(ctx, "messages.sendMessage"))

	n, err := svc.CallsInWindow(ctx, "messages.getHistory")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Calls fall out of the 60s rolling window.
	*offset = 61 * time.Second
	n, err = svc.CallsInWindow(ctx, "messages.getHistory")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRateLimitService_FloodWait(t *testing.T) {
	svc := NewRateLimitService(testCacheDB(t))
	ctx := testCtx()

	offset, clock := fixedClock(time.Unix(1700000000, 0))
	svc.SetClock(clock)

	require.NoError(t, svc.SetFloodWait(ctx, "messages.getHistory", 30))

	// Blocked for the whole declared interval.
	blocked, err := svc.IsBlocked(ctx, "messages.getHistory")
	require.NoError(t, err)
	assert.True(t, blocked)

	wait, err := svc.GetWaitTime(ctx, "messages.getHistory")
	require.NoError(t, err)
	assert.Equal(t, 30, wait)

	*offset = 29 * time.Second
	blocked, err = svc.IsBlocked(ctx, "messages.getHistory")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Unblocked exactly at expiry.
	*offset = 30 * time.Second
	blocked, err = svc.IsBlocked(ctx, "messages.getHistory")
	require.NoError(t, err)
	assert.False(t, blocked)

	// Other methods are never affected.
	blocked, err = svc.IsBlocked(ctx, "messages.sendMessage")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRateLimitService_FloodWaitNeverShortens(t *testing.T) {
	svc := NewRateLimitService(testCacheDB(t))
	ctx := testCtx()

	_, clock := fixedClock(time.Unix(1700000000, 0))
	svc.SetClock(clock)

	require.NoError(t, svc.SetFloodWait(ctx, "m", 100))
	require.NoError(t, svc.SetFloodWait(ctx, "m", 10))

	wait, err := svc.GetWaitTime(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 100, wait)

	// A longer block does extend.
	require.NoError(t, svc.SetFloodWait(ctx, "m", 200))
	wait, err = svc.GetWaitTime(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 200, wait)
}

func TestRateLimitService_Status(t *testing.T) {
	svc := NewRateLimitService(testCacheDB(t))
	ctx := testCtx()

	_, clock := fixedClock(time.Unix(1700000000, 0))
	svc.SetClock(clock)

	require.NoError(t, svc.RecordCall(ctx, "a"))
	require.NoError(t, svc.RecordCall(ctx, "a"))
	require.NoError(t, svc.RecordCall(ctx, "b"))
	require.NoError(t, svc.SetFloodWait(ctx, "a", 60))

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.TotalCalls)
	assert.Equal(t, 2, status.CallsByMethod["a"])
	assert.Equal(t, 1, status.CallsByMethod["b"])
	require.Len(t, status.ActiveFloodWaits, 1)
	assert.Equal(t, "a", status.ActiveFloodWaits[0].Method)
	assert.Equal(t, 60, status.ActiveFloodWaits[0].WaitSeconds)
}

func TestRateLimitService_PruneOldCalls(t *testing.T) {
	svc := NewRateLimitService(testCacheDB(t))
	ctx := testCtx()

	offset, clock := fixedClock(time.Unix(1700000000, 0))
	svc.SetClock(clock)

	require.NoError(t, svc.RecordCall(ctx, "a"))
	require.NoError(t, svc.RecordCall(ctx, "a"))

	*offset = 2 * time.Minute
	require.NoError(t, svc.RecordCall(ctx, "a"))

	pruned, err := svc.PruneOldCalls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	n, err := svc.CallsInWindow(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
