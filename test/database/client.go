// Package database provides shared test helpers for store-backed
// tests. Each test gets its own SQLite files under t.TempDir, with
// migrations applied, cleaned up when the test ends.
package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgsync/tgsync/pkg/database"
)

// NewTestCache opens a fresh, fully migrated cache.db for one test.
func NewTestCache(t *testing.T) *database.Client {
	t.Helper()

	client, err := database.OpenCache(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// NewTestAccounts opens a fresh, fully migrated accounts.db for one test.
func NewTestAccounts(t *testing.T) *database.Client {
	t.Helper()

	client, err := database.OpenAccounts(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
