// Package cleanup provides data retention for the cache store.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tgsync/tgsync/pkg/services"
)

// Config holds the retention knobs.
type Config struct {
	// CompletedJobMaxAge is how long completed jobs are kept.
	CompletedJobMaxAge time.Duration

	// FailedJobMaxAge is how long failed jobs are kept. Longer than
	// completed so operators can inspect failures.
	FailedJobMaxAge time.Duration

	// Interval is how often the cleanup pass runs.
	Interval time.Duration
}

// DefaultConfig returns the built-in retention defaults.
func DefaultConfig() Config {
	return Config{
		CompletedJobMaxAge: 24 * time.Hour,
		FailedJobMaxAge:    7 * 24 * time.Hour,
		Interval:           1 * time.Hour,
	}
}

// Service periodically enforces retention policies:
//   - Deletes completed and failed jobs past their max age
//   - Prunes rate-limit call records outside the rolling window
//
// All operations are idempotent.
type Service struct {
	config Config
	jobs   *services.JobService
	limits *services.RateLimitService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg Config, jobs *services.JobService, limits *services.RateLimitService) *Service {
	return &Service{
		config: cfg,
		jobs:   jobs,
		limits: limits,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"completed_job_max_age", s.config.CompletedJobMaxAge,
		"failed_job_max_age", s.config.FailedJobMaxAge,
		"interval", s.config.Interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll performs one full cleanup pass.
func (s *Service) RunAll(ctx context.Context) {
	s.cleanupJobs(ctx)
	s.pruneRateLimitCalls(ctx)
}

func (s *Service) cleanupJobs(ctx context.Context) {
	completed, err := s.jobs.CleanupCompleted(ctx, s.config.CompletedJobMaxAge)
	if err != nil {
		slog.Error("Retention: completed-job cleanup failed", "error", err)
	} else if completed > 0 {
		slog.Info("Retention: deleted old completed jobs", "count", completed)
	}

	failed, err := s.jobs.CleanupFailed(ctx, s.config.FailedJobMaxAge)
	if err != nil {
		slog.Error("Retention: failed-job cleanup failed", "error", err)
	} else if failed > 0 {
		slog.Info("Retention: deleted old failed jobs", "count", failed)
	}
}

func (s *Service) pruneRateLimitCalls(ctx context.Context) {
	count, err := s.limits.PruneOldCalls(ctx)
	if err != nil {
		slog.Error("Retention: rate-limit pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Debug("Retention: pruned rate-limit call records", "count", count)
	}
}
