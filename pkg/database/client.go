// Package database provides the embedded SQLite stores and migration
// utilities. The daemon keeps two database files under its data dir:
// cache.db (messages, peers, sync state, jobs, rate limits) and
// accounts.db (account identities).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

// Store names map to migration sets and database files.
const (
	StoreCache    = "cache"
	StoreAccounts = "accounts"
)

// Client wraps a single SQLite database file.
type Client struct {
	db   *sql.DB
	path string
}

// DB returns the underlying connection for health checks and direct queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Path returns the database file path.
func (c *Client) Path() string {
	return c.path
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// HealthStatus is one store's liveness snapshot for the /health
// endpoint.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	OpenConns    int    `json:"open_connections"`
	InUse        int    `json:"in_use"`
}

// Health pings the store. Each store runs a single writer connection,
// so a slow ping usually means a long write transaction is holding it.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := c.db.Stats()
	return &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		OpenConns:    stats.OpenConnections,
		InUse:        stats.InUse,
	}, nil
}

// OpenCache opens (and migrates) cache.db under dataDir.
func OpenCache(ctx context.Context, dataDir string) (*Client, error) {
	return open(ctx, filepath.Join(dataDir, "cache.db"), StoreCache)
}

// OpenAccounts opens (and migrates) accounts.db under dataDir.
func OpenAccounts(ctx context.Context, dataDir string) (*Client, error) {
	return open(ctx, filepath.Join(dataDir, "accounts.db"), StoreAccounts)
}

// open opens one SQLite file, applies pragmas, and runs the embedded
// migrations for the given store.
func open(ctx context.Context, path, store string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"journal_mode(WAL)",
			"busy_timeout(5000)",
			"foreign_keys(ON)",
			"synchronous(NORMAL)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// A single writer keeps transactional claim/CAS semantics simple;
	// SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}

	if err := runMigrations(db, store); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations for %s: %w", store, err)
	}

	return &Client{db: db, path: path}, nil
}
