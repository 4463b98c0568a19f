package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgsync/tgsync/pkg/cleanup"
	"github.com/tgsync/tgsync/pkg/config"
	"github.com/tgsync/tgsync/pkg/database"
	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/queue"
	"github.com/tgsync/tgsync/pkg/scheduler"
	"github.com/tgsync/tgsync/pkg/services"
	"github.com/tgsync/tgsync/pkg/telegram"
	"github.com/tgsync/tgsync/pkg/updates"
)

// FetcherFactory opens a remote connection for one account and
// returns its message fetcher. The concrete transport lives outside
// this repository.
type FetcherFactory func(ctx context.Context, account *models.Account) (telegram.MessageFetcher, error)

// Runtime is the daemon's root object: it owns the two store handles
// and the service graph, and supervises one executor per account.
// Everything else holds references into it; nothing is global.
type Runtime struct {
	cfg     *config.Config
	pidFile *PIDFile

	cache    *database.Client
	accounts *database.Client

	Accounts  *services.AccountService
	Users     *services.UserService
	Chats     *services.ChatService
	Messages  *services.MessageService
	SyncState *services.SyncStateService
	Jobs      *services.JobService
	Limits    *services.RateLimitService
	Status    *services.DaemonStatusService

	Scheduler *scheduler.Scheduler
	Pool      *queue.AccountPool
	Updates   *updates.Handler
	Cleanup   *cleanup.Service

	newFetcher FetcherFactory
	reconnect  ReconnectPolicy
}

// NewRuntime acquires the pid file, opens both stores, and wires the
// service graph. The caller must Close the runtime on all paths after
// a successful return.
func NewRuntime(ctx context.Context, cfg *config.Config, newFetcher FetcherFactory) (*Runtime, error) {
	pidFile := NewPIDFile(cfg.DataDir)
	if err := pidFile.Acquire(); err != nil {
		return nil, err
	}

	cache, err := database.OpenCache(ctx, cfg.DataDir)
	if err != nil {
		_ = pidFile.Release()
		return nil, WrapError(CodeGeneral, "failed to open cache store", err)
	}
	accounts, err := database.OpenAccounts(ctx, cfg.DataDir)
	if err != nil {
		_ = cache.Close()
		_ = pidFile.Release()
		return nil, WrapError(CodeGeneral, "failed to open accounts store", err)
	}

	r := &Runtime{
		cfg:        cfg,
		pidFile:    pidFile,
		cache:      cache,
		accounts:   accounts,
		Accounts:   services.NewAccountService(accounts.DB()),
		Users:      services.NewUserService(cache.DB()),
		Chats:      services.NewChatService(cache.DB()),
		Messages:   services.NewMessageService(cache.DB()),
		SyncState:  services.NewSyncStateService(cache.DB()),
		Jobs:       services.NewJobService(cache.DB()),
		Limits:     services.NewRateLimitService(cache.DB()),
		Status:     services.NewDaemonStatusService(cache.DB()),
		newFetcher: newFetcher,
		reconnect:  DefaultReconnectPolicy(),
	}
	r.Scheduler = scheduler.New(r.Jobs, r.SyncState, r.Messages)
	r.Pool = queue.NewAccountPool(r.Scheduler)
	r.Updates = updates.NewHandler(r.Messages, r.SyncState, r.Users, r.Chats, r.Status)
	r.Cleanup = cleanup.NewService(cleanup.DefaultConfig(), r.Jobs, r.Limits)
	return r, nil
}

// CacheDB exposes the cache store for the status API's health check.
func (r *Runtime) CacheDB() *database.Client {
	return r.cache
}

// Start brings the daemon up: refuses to run with an empty accounts
// table, recovers crashed jobs, seeds the queue, connects each
// account, and launches the executor pool.
func (r *Runtime) Start(ctx context.Context) error {
	total, err := r.Accounts.Count(ctx)
	if err != nil {
		return WrapError(CodeGeneral, "failed to count accounts", err)
	}
	if total == 0 {
		return NewError(CodeNoActiveAccount, "no accounts configured; run auth login first")
	}

	if err := r.Status.MarkStarted(ctx, 0, total); err != nil {
		return WrapError(CodeGeneral, "failed to record daemon start", err)
	}

	if err := r.Scheduler.InitializeForStartup(ctx); err != nil {
		return WrapError(CodeGeneral, "failed to initialize scheduler", err)
	}

	accounts, err := r.Accounts.List(ctx)
	if err != nil {
		return WrapError(CodeGeneral, "failed to list accounts", err)
	}

	connected := 0
	for _, account := range accounts {
		var fetcher telegram.MessageFetcher
		err := r.reconnect.Reconnect(ctx, account.ID, func(ctx context.Context) error {
			var connErr error
			fetcher, connErr = r.newFetcher(ctx, account)
			return connErr
		})
		if err != nil {
			slog.Error("Skipping account, connection failed",
				"account_id", account.ID, "error", err)
			continue
		}

		worker := queue.NewSyncWorker(account.ID, fetcher, r.Scheduler,
			r.Messages, r.SyncState, r.Limits, r.Status,
			queue.WorkerConfig{BatchSize: r.cfg.Queue.BatchSize})
		exec := queue.NewJobExecutor(worker, r.Scheduler, queue.ExecutorConfig{
			MaxBatchesPerJob: r.cfg.Queue.MaxBatchesPerJob,
			InterBatchDelay:  r.cfg.Queue.InterBatchDelay,
			InterJobDelay:    r.cfg.Queue.InterJobDelay,
			IdleSleep:        r.cfg.Queue.IdleSleep,
		})
		r.Pool.AddExecutor(ctx, account.ID, exec)
		connected++
	}

	if err := r.Status.SetAccountCounts(ctx, connected, total); err != nil {
		slog.Warn("Failed to record account counts", "error", err)
	}

	r.Pool.Start(ctx)
	r.Cleanup.Start(ctx)
	slog.Info("Daemon started",
		"data_dir", r.cfg.DataDir,
		"accounts_total", total,
		"accounts_connected", connected)
	return nil
}

// Stop shuts the pool down within the configured timeout, flushes the
// status row, and releases the pid file.
func (r *Runtime) Stop(ctx context.Context) error {
	r.Cleanup.Stop()

	done := make(chan struct{})
	go func() {
		r.Pool.Stop()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-time.After(r.cfg.Queue.GracefulShutdownTimeout):
		stopErr = NewError(CodeDaemonShutdownTimeout,
			fmt.Sprintf("executors did not stop within %s", r.cfg.Queue.GracefulShutdownTimeout))
	}

	if err := r.Status.Touch(ctx); err != nil {
		slog.Warn("Failed to flush daemon status", "error", err)
	}
	if err := r.pidFile.Release(); err != nil {
		slog.Warn("Failed to remove pid file", "error", err)
	}
	slog.Info("Daemon stopped")
	return stopErr
}

// Close releases the store handles. Safe after a failed Start.
func (r *Runtime) Close() error {
	var first error
	if err := r.cache.Close(); err != nil {
		first = err
	}
	if err := r.accounts.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
