package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientHealth(t *testing.T) {
	client, err := OpenCache(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 1, status.OpenConns)
}

func TestClientHealth_ClosedStore(t *testing.T) {
	client, err := OpenAccounts(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	status, err := client.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, "unhealthy", status.Status)
}
