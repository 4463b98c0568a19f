package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountService_CreateAndGet(t *testing.T) {
	svc := NewAccountService(testAccountsDB(t))
	ctx := testCtx()

	acc, err := svc.Create(ctx, "+15550001111", "Ada Lovelace", "ada", "work")
	require.NoError(t, err)
	assert.NotZero(t, acc.ID)
	assert.Equal(t, "+15550001111", acc.Phone)
	assert.Equal(t, "work", acc.Label)
	assert.False(t, acc.IsActive)

	_, err = svc.Create(ctx, "", "", "", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	// The phone number is the account's identity; duplicates are
	// rejected.
	_, err = svc.Create(ctx, "+15550001111", "Other", "other", "")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAccountService_ActiveSelection(t *testing.T) {
	svc := NewAccountService(testAccountsDB(t))
	ctx := testCtx()

	_, err := svc.GetActive(ctx)
	require.ErrorIs(t, err, ErrNoActiveAccount)

	a, err := svc.Create(ctx, "+15550001111", "", "", "")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "+15550002222", "", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(ctx, a.ID))
	active, err := svc.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)

	// Switching moves the flag atomically; only one row is ever active.
	require.NoError(t, svc.SetActive(ctx, b.ID))
	active, err = svc.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)

	accounts, err := svc.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, acc := range accounts {
		if acc.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	require.ErrorIs(t, svc.SetActive(ctx, 9999), ErrNotFound)
}

func TestAccountService_Session(t *testing.T) {
	svc := NewAccountService(testAccountsDB(t))
	ctx := testCtx()

	acc, err := svc.Create(ctx, "+15550001111", "", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.UpdateSession(ctx, acc.ID, []byte("opaque-session")))

	got, err := svc.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque-session"), got.Session)

	require.ErrorIs(t, svc.UpdateSession(ctx, 9999, nil), ErrNotFound)
}

func TestAccountService_DeleteAndCount(t *testing.T) {
	svc := NewAccountService(testAccountsDB(t))
	ctx := testCtx()

	acc, err := svc.Create(ctx, "+15550001111", "", "", "")
	require.NoError(t, err)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, svc.Delete(ctx, acc.ID))
	require.ErrorIs(t, svc.Delete(ctx, acc.ID), ErrNotFound)

	n, err = svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
