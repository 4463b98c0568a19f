// Package api serves the daemon's local status API. It binds to
// localhost only; the external CLI's `daemon status` talks to it.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tgsync/tgsync/pkg/database"
	"github.com/tgsync/tgsync/pkg/queue"
	"github.com/tgsync/tgsync/pkg/scheduler"
	"github.com/tgsync/tgsync/pkg/services"
	"github.com/tgsync/tgsync/pkg/version"
)

// DefaultPort is the status API's default localhost port.
const DefaultPort = 8475

// Server is the local status API server.
type Server struct {
	db        *database.Client
	scheduler *scheduler.Scheduler
	pool      *queue.AccountPool
	status    *services.DaemonStatusService
	limits    *services.RateLimitService

	httpSrv *http.Server
}

// NewServer wires the status API over the daemon's service graph.
func NewServer(
	db *database.Client,
	sched *scheduler.Scheduler,
	pool *queue.AccountPool,
	status *services.DaemonStatusService,
	limits *services.RateLimitService,
) *Server {
	return &Server{
		db:        db,
		scheduler: sched,
		pool:      pool,
		status:    status,
		limits:    limits,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.statusHandler)
		v1.GET("/queue", s.queueHandler)
		v1.GET("/ratelimits", s.rateLimitsHandler)
	}
	return r
}

// Start runs the server on localhost:port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	if port == 0 {
		port = DefaultPort
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("Status API listening", "addr", s.httpSrv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Only the daemon's own components
// (store, executor pool) are checked; the remote connection is not,
// so a flood wait never reads as "unhealthy".
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := healthStatusHealthy

	if _, err := s.db.Health(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = err.Error()
	} else {
		checks["database"] = healthStatusHealthy
	}

	if s.pool != nil {
		poolHealth, err := s.pool.Health(ctx)
		switch {
		case err != nil:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["executor_pool"] = err.Error()
		case !poolHealth.IsHealthy:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["executor_pool"] = healthStatusDegraded
		default:
			checks["executor_pool"] = healthStatusHealthy
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.GitCommit,
		"checks":  checks,
	})
}

// statusHandler handles GET /api/v1/status: the daemon status row
// plus the queue counters.
func (s *Server) statusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	snapshot, err := s.status.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := s.scheduler.Status(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"daemon": snapshot,
		"queue":  stats,
	})
}

// queueHandler handles GET /api/v1/queue: per-executor health.
func (s *Server) queueHandler(c *gin.Context) {
	health, err := s.pool.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, health)
}

// rateLimitsHandler handles GET /api/v1/ratelimits.
func (s *Server) rateLimitsHandler(c *gin.Context) {
	status, err := s.limits.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
