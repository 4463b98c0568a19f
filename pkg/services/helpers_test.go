package services

import (
	"context"
	"database/sql"
	"testing"

	testdb "github.com/tgsync/tgsync/test/database"
)

func testCacheDB(t *testing.T) *sql.DB {
	t.Helper()
	return testdb.NewTestCache(t).DB()
}

func testAccountsDB(t *testing.T) *sql.DB {
	t.Helper()
	return testdb.NewTestAccounts(t).DB()
}

func testCtx() context.Context {
	return context.Background()
}
