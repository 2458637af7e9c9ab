package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

func setupTestServer(t *testing.T) (*Server, *Tracker, *prometheus.Registry) {
	t.Helper()
	tracker := NewTracker("/src/app", "1.2.3")
	reg := prometheus.NewRegistry()
	server, err := NewServer(tracker, reg, zap.NewNop(), nil)
	require.NoError(t, err)
	return server, tracker, reg
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, _, _ := setupTestServer(t)
		assert.Equal(t, "localhost:9464", server.Addr())
	})

	t.Run("returns error when tracker is nil", func(t *testing.T) {
		_, err := NewServer(nil, prometheus.NewRegistry(), zap.NewNop(), nil)
		assert.ErrorContains(t, err, "tracker cannot be nil")
	})

	t.Run("returns error when gatherer is nil", func(t *testing.T) {
		_, err := NewServer(NewTracker("p", ""), nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "gatherer cannot be nil")
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(NewTracker("p", ""), prometheus.NewRegistry(), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := setupTestServer(t)
	rec := get(t, server, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleStatus(t *testing.T) {
	server, tracker, _ := setupTestServer(t)

	var resp StatusResponse
	rec := get(t, server, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.Status)
	assert.Equal(t, "/src/app", resp.Project)
	assert.Equal(t, "1.2.3", resp.Version)

	tracker.Started(2)
	tracker.Finished(&orchestrator.AggregateOutcome{
		RunID:   "run-1",
		Policy:  orchestrator.PolicyStrict,
		Overall: orchestrator.OverallAllPassed,
		Results: []orchestrator.GateResult{
			{Tool: "formatter", Status: orchestrator.StatusPassed, Duration: 250 * time.Millisecond},
			{Tool: "tests", Status: orchestrator.StatusPassed},
		},
		CacheHits: []string{"formatter"},
	}, nil)

	rec = get(t, server, "/api/v1/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "passing", resp.Status)
	assert.Equal(t, 1, resp.Runs)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "run-1", resp.LastRun.RunID)
	assert.Equal(t, 1, resp.LastRun.CacheHits)
	require.Len(t, resp.LastRun.Gates, 2)
	assert.Equal(t, int64(250), resp.LastRun.Gates[0].DurationMS)
}

func TestHandleMetrics(t *testing.T) {
	server, _, reg := setupTestServer(t)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "reviewgate_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reviewgate_test_total 1")
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	tracker := NewTracker("p", "")
	server, err := NewServer(tracker, prometheus.NewRegistry(), zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestTracker_States(t *testing.T) {
	tracker := NewTracker("p", "")
	assert.Equal(t, "idle", tracker.Snapshot().Status)

	tracker.Started(4)
	snap := tracker.Snapshot()
	assert.Equal(t, "running", snap.Status)
	assert.True(t, snap.Running)
	assert.Equal(t, 4, snap.Gates)

	tracker.Finished(&orchestrator.AggregateOutcome{Overall: orchestrator.OverallPartial}, nil)
	snap = tracker.Snapshot()
	assert.Equal(t, "failing", snap.Status)
	assert.Zero(t, snap.Gates)

	tracker.Started(1)
	tracker.Finished(nil, errors.New("invalid descriptor"))
	snap = tracker.Snapshot()
	assert.Equal(t, "error", snap.Status)
	assert.Equal(t, "invalid descriptor", snap.LastError)
	assert.Equal(t, "partial", snap.LastRun.Overall, "last finished run is kept")
	assert.Equal(t, 2, snap.Runs)
}

func TestTracker_Nil(t *testing.T) {
	var tracker *Tracker
	tracker.Started(1)
	tracker.Finished(nil, nil)
	assert.Equal(t, "idle", tracker.Snapshot().Status)
}
