package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/queue"
	"github.com/tgsync/tgsync/pkg/scheduler"
	"github.com/tgsync/tgsync/pkg/services"
	testdb "github.com/tgsync/tgsync/test/database"
)

func newTestServer(t *testing.T) (*Server, *services.JobService, *services.RateLimitService) {
	t.Helper()
	client := testdb.NewTestCache(t)
	db := client.DB()

	jobs := services.NewJobService(db)
	limits := services.NewRateLimitService(db)
	sched := scheduler.New(jobs, services.NewSyncStateService(db), services.NewMessageService(db))
	srv := NewServer(client, sched, queue.NewAccountPool(sched),
		services.NewDaemonStatusService(db), limits)
	return srv, jobs, limits
}

func doGet(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doGet(t, srv, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", checks["database"])
}

func TestServer_Status(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := context.Background()

	_, err := jobs.Create(ctx, "100", models.JobForwardCatchup, models.PriorityRealtime)
	require.NoError(t, err)

	rec, body := doGet(t, srv, "/api/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	queueStats, ok := body["queue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), queueStats["pending_total"])
}

func TestServer_Queue(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doGet(t, srv, "/api/v1/queue")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_healthy"])
}

func TestServer_RateLimits(t *testing.T) {
	srv, _, limits := newTestServer(t)
	require.NoError(t, limits.RecordCall(context.Background(), "messages.getHistory"))

	rec, body := doGet(t, srv, "/api/v1/ratelimits")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total_calls"])
}
