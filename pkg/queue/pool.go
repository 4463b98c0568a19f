package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tgsync/tgsync/pkg/scheduler"
)

// AccountPool supervises one executor per connected account. All
// executors share the queue; the store-level claim keeps them from
// double-processing a job.
type AccountPool struct {
	scheduler *scheduler.Scheduler

	mu        sync.Mutex
	executors map[int64]*JobExecutor
	started   bool

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAccountPool creates an empty pool over the shared scheduler.
func NewAccountPool(sched *scheduler.Scheduler) *AccountPool {
	return &AccountPool{
		scheduler: sched,
		executors: make(map[int64]*JobExecutor),
	}
}

// AddExecutor registers an executor for an account. When the pool is
// already running the executor's loop starts immediately.
func (p *AccountPool) AddExecutor(ctx context.Context, accountID int64, exec *JobExecutor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.executors[accountID]; exists {
		slog.Warn("Executor already registered for account", "account_id", accountID)
		return
	}
	p.executors[accountID] = exec

	if p.started {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			exec.Run(ctx)
		}()
	}
}

// Start launches all registered executors. Idempotent.
func (p *AccountPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true

	for id, exec := range p.executors {
		p.wg.Add(1)
		go func(id int64, exec *JobExecutor) {
			defer p.wg.Done()
			exec.Run(runCtx)
		}(id, exec)
	}

	slog.Info("Account pool started", "executors", len(p.executors))
}

// Stop requests every executor to finish its current batch and waits
// for all loops to exit. Safe to call more than once.
func (p *AccountPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		for _, exec := range p.executors {
			exec.RequestStop()
		}
		cancel := p.cancel
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		slog.Info("Account pool stopped")
	})
}

// Health aggregates queue depth and per-executor snapshots.
func (p *AccountPool) Health(ctx context.Context) (*PoolHealth, error) {
	stats, err := p.scheduler.Status(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	health := &PoolHealth{
		IsHealthy:  true,
		QueueDepth: stats.PendingTotal,
		Running:    stats.Running,
		Executors:  make([]ExecutorHealth, 0, len(p.executors)),
	}
	for _, exec := range p.executors {
		h := exec.Health()
		if h.Status == ExecutorStopped && p.started {
			health.IsHealthy = false
		}
		health.Executors = append(health.Executors, h)
	}
	return health, nil
}
