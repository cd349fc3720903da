package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/routesim/routesim/internal/auth"
	"github.com/routesim/routesim/internal/runner"
	"github.com/routesim/routesim/internal/telemetry"
	"github.com/routesim/routesim/sim/cluster"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestRunner(t *testing.T, opts ...runner.Option) *runner.Runner {
	t.Helper()
	cfg := cluster.DefaultConfig(cluster.ModeSandbox)
	cfg.Topology = cluster.StarterTopology()
	s, err := cluster.NewSimulator(cfg)
	require.NoError(t, err)
	r, err := runner.New(s, "run-1", runner.DefaultConfig(), opts...)
	require.NoError(t, err)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r := newTestRunner(t)

	rec := do(t, New(r, Options{}).Router(), "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	rec = do(t, New(r, Options{Store: failingPinger{}}).Router(), "GET", "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStatus(t *testing.T) {
	r := newTestRunner(t)
	_, _, err := r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)

	rec := do(t, New(r, Options{}).Router(), "GET", "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st cluster.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.Steps)
	assert.Len(t, st.Nodes, 6)
	assert.Equal(t, cluster.ModeSandbox, st.Mode)
}

func TestSnapshot_Formats(t *testing.T) {
	r := newTestRunner(t)
	h := New(r, Options{}).Router()

	rec := do(t, h, "GET", "/api/v1/snapshot", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap, err := cluster.DecodeSnapshot(rec.Body.Bytes(), "json")
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 6)

	rec = do(t, h, "GET", "/api/v1/snapshot?format=yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	var decoded cluster.Snapshot
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, snap, decoded)

	rec = do(t, h, "GET", "/api/v1/snapshot?format=xml", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommands_QueuedForNextStep(t *testing.T) {
	// GIVEN an open API
	r := newTestRunner(t)
	h := New(r, Options{}).Router()

	// WHEN a place and a rate override are posted
	rec := do(t, h, "POST", "/api/v1/commands",
		`{"commands":[{"type":"place","kind":"sqs"}],"rate":3}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"queued":1}`, rec.Body.String())

	// THEN the next step applies them
	res, _, err := r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, "node_1", res.Commands[0].NodeID)
	assert.Equal(t, 3.0, r.Status().Rate)
}

func TestCommands_BadRequests(t *testing.T) {
	h := New(newTestRunner(t), Options{}).Router()
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"commands":`},
		{"unknown field", `{"cmds":[]}`},
		{"empty", `{}`},
		{"negative rate", `{"rate":-1}`},
		{"unknown traffic kind", `{"distribution":{"weights":{"NOPE":1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/v1/commands", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCommands_QueueFullLeavesRateUnchanged(t *testing.T) {
	// GIVEN a runner with no room for more commands
	r := newTestRunner(t)
	_, err := r.Submit(make([]cluster.Command, runner.MaxPending)...)
	require.NoError(t, err)
	before := r.Status().Rate
	h := New(r, Options{}).Router()

	// WHEN a command batch with a rate override is posted
	rec := do(t, h, "POST", "/api/v1/commands",
		`{"commands":[{"type":"place","kind":"sqs"}],"rate":999}`, nil)

	// THEN the request is refused and the override never lands
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "command queue full")
	_, _, err = r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	assert.Equal(t, before, r.Status().Rate)
}

func TestWriteRoutes_RequireToken(t *testing.T) {
	v, err := auth.NewVerifier("s3cret", "")
	require.NoError(t, err)
	r := newTestRunner(t)
	h := New(r, Options{Verifier: v}).Router()

	rec := do(t, h, "POST", "/api/v1/pause", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, r.Paused())

	tok, err := v.IssueToken("operator", time.Hour)
	require.NoError(t, err)
	rec = do(t, h, "POST", "/api/v1/pause", "", map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, r.Paused())

	rec = do(t, h, "POST", "/api/v1/resume", "", map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, r.Paused())

	// reads stay open
	rec = do(t, h, "GET", "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteRoutes_RateLimited(t *testing.T) {
	h := New(newTestRunner(t), Options{Limiter: rate.NewLimiter(rate.Every(time.Hour), 2)}).Router()

	for i := 0; i < 2; i++ {
		rec := do(t, h, "POST", "/api/v1/pause", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, "POST", "/api/v1/pause", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMetricsRoute(t *testing.T) {
	col := telemetry.NewCollector()
	r := newTestRunner(t, runner.WithSink(col))
	_, _, err := r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)

	rec := do(t, New(r, Options{Metrics: col.Handler()}).Router(), "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "routesim_steps_total 1")
}
