package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgsync/tgsync/pkg/models"
)

func TestJobService_CreateAndGet(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	job, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "100", job.ChatID)
	assert.Equal(t, models.JobForwardCatchup, job.JobType)
	assert.Equal(t, models.PriorityRealtime, job.Priority)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestJobService_Create_EmptyChatID(t *testing.T) {
	svc := NewJobService(testCacheDB(t))

	_, err := svc.Create(testCtx(), "", models.JobForwardCatchup, models.PriorityRealtime)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestJobService_ClaimNext_PriorityOrder(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	// Queued in the order background, realtime, medium; the claim
	// must return the realtime job first.
	_, err := svc.Create(ctx, "100", models.JobBackwardHistory, models.PriorityBackground)
	require.NoError(t, err)
	realtime, err := svc.Create(ctx, "200", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	medium, err := svc.Create(ctx, "300", models.JobInitialLoad, models.PriorityMedium)
	require.NoError(t, err)

	first, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, realtime.ID, first.ID)
	assert.Equal(t, models.JobRunning, first.Status)
	require.NotNil(t, first.StartedAt)

	second, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, medium.ID, second.ID)
}

func TestJobService_ClaimNext_Empty(t *testing.T) {
	svc := NewJobService(testCacheDB(t))

	_, err := svc.ClaimNext(testCtx())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJobService_ClaimNext_ConcurrentDistinct(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	const jobCount = 8
	for i := 0; i < jobCount; i++ {
		_, err := svc.Create(ctx, "100", models.JobBackwardHistory, models.PriorityBackground)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < jobCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := svc.ClaimNext(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, claimed[job.ID], "job %s claimed twice", job.ID)
			claimed[job.ID] = true
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
}

func TestJobService_StatusTransitions(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	job, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)

	// Completed/failed are unreachable from pending.
	ok, err := svc.MarkCompleted(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.MarkFailed(ctx, job.ID, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// MarkRunning is one-shot.
	ok, err = svc.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.MarkCompleted(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Terminal states reject further transitions.
	ok, err = svc.MarkFailed(ctx, job.ID, "too late")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestJobService_MarkFailed_RecordsMessage(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	job, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	_, err = svc.MarkRunning(ctx, job.ID)
	require.NoError(t, err)

	ok, err := svc.MarkFailed(ctx, job.ID, "Rate limited: wait 30s")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "Rate limited: wait 30s", got.ErrorMessage)
}

func TestJobService_RecoverCrashedJobs(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	// Two jobs left running by a crashed process.
	a, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	b, err := svc.Create(ctx, "200", models.JobBackwardHistory, models.PriorityBackground)
	require.NoError(t, err)
	for _, id := range []string{a.ID, b.ID} {
		ok, err := svc.MarkRunning(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	recovered, err := svc.RecoverCrashedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	for _, id := range []string{a.ID, b.ID} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobPending, got.Status)
		assert.Equal(t, CrashRecoveryMessage, got.ErrorMessage)
		assert.Nil(t, got.StartedAt)
	}

	// Recovered jobs are claimable again.
	next, err := svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Contains(t, []string{a.ID, b.ID}, next.ID)
}

func TestJobService_UpdateProgress(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	job, err := svc.Create(ctx, "100", models.JobBackwardHistory, models.PriorityBackground)
	require.NoError(t, err)

	cursor := int64(42)
	require.NoError(t, svc.UpdateProgress(ctx, job.ID, &cursor, 10))
	require.NoError(t, svc.UpdateProgress(ctx, job.ID, nil, 5))

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.MessagesFetched)
	require.NotNil(t, got.CursorEnd)
	// A nil cursor must not clear the recorded one.
	assert.Equal(t, int64(42), *got.CursorEnd)
}

func TestJobService_PendingChecks(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	pending, err := svc.HasPendingJobForChat(ctx, "100", models.JobForwardCatchup)
	require.NoError(t, err)
	assert.False(t, pending)

	job, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)

	pending, err = svc.HasPendingJobForChat(ctx, "100", models.JobForwardCatchup)
	require.NoError(t, err)
	assert.True(t, pending)

	// A running job is active but no longer pending.
	_, err = svc.MarkRunning(ctx, job.ID)
	require.NoError(t, err)

	pending, err = svc.HasPendingJobForChat(ctx, "100", models.JobForwardCatchup)
	require.NoError(t, err)
	assert.False(t, pending)

	active, err := svc.HasActiveJobForChat(ctx, "100", models.JobForwardCatchup)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestJobService_Stats(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	_, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "200", models.JobBackwardHistory, models.PriorityBackground)
	require.NoError(t, err)
	running, err := svc.Create(ctx, "300", models.JobInitialLoad, models.PriorityMedium)
	require.NoError(t, err)
	_, err = svc.MarkRunning(ctx, running.ID)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingTotal)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.PendingByType[models.JobForwardCatchup])
	assert.Equal(t, 1, stats.PendingByType[models.JobBackwardHistory])
	assert.Equal(t, 1, stats.PendingByPriority[models.PriorityRealtime])
}

func TestJobService_Cleanup(t *testing.T) {
	db := testCacheDB(t)
	svc := NewJobService(db)
	ctx := testCtx()

	job, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	_, err = svc.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, job.ID)
	require.NoError(t, err)

	// Age the row past the retention cutoff.
	old := time.Now().Add(-48 * time.Hour).Unix()
	_, err = db.ExecContext(ctx, `UPDATE sync_jobs SET completed_at = ? WHERE id = ?`, old, job.ID)
	require.NoError(t, err)

	deleted, err := svc.CleanupCompleted(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = svc.Get(ctx, job.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJobService_CancelPendingForChat(t *testing.T) {
	svc := NewJobService(testCacheDB(t))
	ctx := testCtx()

	_, err := svc.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "100", models.JobBackwardHistory, models.PriorityBackground)
	require.NoError(t, err)
	keep, err := svc.Create(ctx, "200", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)

	n, err := svc.CancelPendingForChat(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.Get(ctx, keep.ID)
	require.NoError(t, err)
}
