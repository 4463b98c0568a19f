package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/services"
	testdb "github.com/tgsync/tgsync/test/database"
)

func TestService_RunAll(t *testing.T) {
	db := testdb.NewTestCache(t).DB()
	jobs := services.NewJobService(db)
	limits := services.NewRateLimitService(db)
	ctx := context.Background()

	// One completed job well past retention, one fresh.
	old, err := jobs.Create(ctx, "100", models.JobForwardCatchup, models.PriorityMedium)
	require.NoError(t, err)
	fresh, err := jobs.Create(ctx, "200", models.JobForwardCatchup, models.PriorityMedium)
	require.NoError(t, err)
	for _, id := range []string{old.ID, fresh.ID} {
		ok, err := jobs.MarkRunning(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = jobs.MarkCompleted(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ancient := time.Now().Add(-48 * time.Hour).Unix()
	_, err = db.ExecContext(ctx, `UPDATE sync_jobs SET completed_at = ? WHERE id = ?`, ancient, old.ID)
	require.NoError(t, err)

	// A rate-limit call record outside the rolling window.
	require.NoError(t, limits.RecordCall(ctx, "messages.getHistory"))
	stale := time.Now().Add(-10 * time.Minute).Unix()
	_, err = db.ExecContext(ctx, `UPDATE rate_limit_calls SET called_at = ?`, stale)
	require.NoError(t, err)

	svc := NewService(DefaultConfig(), jobs, limits)
	svc.RunAll(ctx)

	_, err = jobs.Get(ctx, old.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = jobs.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	status, err := limits.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.TotalCalls)
}

func TestService_FailedJobsKeptLonger(t *testing.T) {
	db := testdb.NewTestCache(t).DB()
	jobs := services.NewJobService(db)
	limits := services.NewRateLimitService(db)
	ctx := context.Background()

	failed, err := jobs.Create(ctx, "100", models.JobBackwardHistory, models.PriorityBackground)
	require.NoError(t, err)
	ok, err := jobs.MarkRunning(ctx, failed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = jobs.MarkFailed(ctx, failed.ID, "connection reset")
	require.NoError(t, err)
	require.True(t, ok)

	// Two days old: past the completed retention but inside the failed one.
	aged := time.Now().Add(-48 * time.Hour).Unix()
	_, err = db.ExecContext(ctx, `UPDATE sync_jobs SET completed_at = ? WHERE id = ?`, aged, failed.ID)
	require.NoError(t, err)

	svc := NewService(DefaultConfig(), jobs, limits)
	svc.RunAll(ctx)

	_, err = jobs.Get(ctx, failed.ID)
	assert.NoError(t, err)
}

func TestService_StartStop(t *testing.T) {
	db := testdb.NewTestCache(t).DB()
	svc := NewService(Config{
		CompletedJobMaxAge: time.Hour,
		FailedJobMaxAge:    time.Hour,
		Interval:           time.Hour,
	}, services.NewJobService(db), services.NewRateLimitService(db))

	svc.Start(context.Background())
	svc.Start(context.Background()) // second Start is a no-op
	svc.Stop()
	svc.Stop() // second Stop is a no-op
}
