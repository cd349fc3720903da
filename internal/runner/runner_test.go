package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routesim/routesim/internal/sink"
	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/workload"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

type recordingSink struct {
	mu      sync.Mutex
	batches []sink.Batch
}

func (s *recordingSink) Publish(_ context.Context, b sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type memStore struct {
	mu    sync.Mutex
	saved []cluster.Snapshot
	err   error
}

func (m *memStore) SaveSnapshot(_ context.Context, _ string, snap cluster.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, snap)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type memArchiver struct {
	keys []string
}

func (a *memArchiver) ArchiveSnapshot(_ context.Context, runID string, snap cluster.Snapshot) (string, error) {
	key := runID + "/final"
	a.keys = append(a.keys, key)
	return key, nil
}

func newRunner(t *testing.T, cfg Config, opts ...Option) *Runner {
	t.Helper()
	c := cluster.DefaultConfig(cluster.ModeSandbox)
	c.Topology = cluster.StarterTopology()
	s, err := cluster.NewSimulator(c)
	require.NoError(t, err)
	r, err := New(s, "run-1", cfg, opts...)
	require.NoError(t, err)
	return r
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.Tick = 0 }},
		{"zero scale", func(c *Config) { c.TimeScale = 0 }},
		{"zero max step", func(c *Config) { c.MaxStep = 0 }},
		{"negative snapshot interval", func(c *Config) { c.SnapshotEvery = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStepOnce_ClampsAndScalesWallTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeScale = 4
	r := newRunner(t, cfg)

	// WHEN a 1s frame arrives
	res, stepped, err := r.StepOnce(context.Background(), 1)

	// THEN it covers 0.05s of wall time at 4x
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.InDelta(t, 0.2, res.Clock, 1e-12)

	res, _, err = r.StepOnce(context.Background(), 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 0.24, res.Clock, 1e-12)
}

func TestStepOnce_AppliesQueuedCommandsInOrder(t *testing.T) {
	rec := &recordingSink{}
	r := newRunner(t, DefaultConfig(), WithSink(rec))

	n, err := r.Submit(
		cluster.Command{Type: cluster.CmdPlace, Kind: sim.KindQueue},
		cluster.Command{Type: cluster.CmdLink, From: "compute", To: "node_1"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, _, err := r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	require.Len(t, res.Commands, 2)
	assert.True(t, res.Commands[0].OK())
	assert.True(t, res.Commands[1].OK(), res.Commands[1].Error)

	// queue drained; the batch went to the sink with node status
	res, _, err = r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	assert.Empty(t, res.Commands)
	require.Equal(t, 2, rec.count())
	assert.Equal(t, "run-1", rec.batches[0].RunID)
	assert.Equal(t, int64(1), rec.batches[0].Step)
	assert.Len(t, rec.batches[0].Nodes, 7)
}

func TestSubmit_QueueFull(t *testing.T) {
	r := newRunner(t, DefaultConfig())
	cmds := make([]cluster.Command, MaxPending)
	_, err := r.Submit(cmds...)
	require.NoError(t, err)
	_, err = r.Submit(cluster.Command{Type: cluster.CmdEndShift})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestApply_RejectedUpdateChangesNothing(t *testing.T) {
	// GIVEN a runner whose command queue is full
	r := newRunner(t, DefaultConfig())
	_, err := r.Submit(make([]cluster.Command, MaxPending)...)
	require.NoError(t, err)
	before := r.Status().Rate

	// WHEN a rate override arrives with one more command
	rate := 999.0
	_, err = r.Apply(Update{Rate: &rate, Commands: []cluster.Command{{Type: cluster.CmdEndShift}}})

	// THEN it is rejected and the next step runs at the old rate
	assert.ErrorIs(t, err, ErrQueueFull)
	_, _, err = r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	assert.Equal(t, before, r.Status().Rate)
}

func TestApply_InvalidDistributionDropsRate(t *testing.T) {
	r := newRunner(t, DefaultConfig())
	before := r.Status().Rate

	rate := 42.0
	_, err := r.Apply(Update{
		Rate:         &rate,
		Distribution: &workload.Distribution{Weights: map[sim.TrafficKind]float64{"NOPE": 1}},
	})
	require.Error(t, err)

	_, _, err = r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	assert.Equal(t, before, r.Status().Rate)
}

func TestPause_SkipsSteps(t *testing.T) {
	r := newRunner(t, DefaultConfig())
	r.Pause()
	assert.True(t, r.Paused())

	_, stepped, err := r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	assert.False(t, stepped)
	assert.Equal(t, 0.0, r.Status().Clock)

	r.Resume()
	_, stepped, err = r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	assert.True(t, stepped)
}

func TestSetRateAndDistribution(t *testing.T) {
	r := newRunner(t, DefaultConfig())
	assert.Error(t, r.SetRate(-1))
	require.NoError(t, r.SetRate(12))
	assert.Error(t, r.SetDistribution(workload.Distribution{Weights: map[sim.TrafficKind]float64{"NOPE": 1}}))
	require.NoError(t, r.SetDistribution(workload.Distribution{Weights: map[sim.TrafficKind]float64{sim.TrafficRead: 1}}))

	_, _, err := r.StepOnce(context.Background(), 0.05)
	require.NoError(t, err)
	st := r.Status()
	assert.Equal(t, 12.0, st.Rate)
}

func TestRun_SavesAndArchivesOnShutdown(t *testing.T) {
	// GIVEN a fast runner with a store and an archiver
	cfg := DefaultConfig()
	cfg.Tick = 5 * time.Millisecond
	cfg.SnapshotEvery = 20 * time.Millisecond
	store := &memStore{}
	arch := &memArchiver{}
	rec := &recordingSink{}
	r := newRunner(t, cfg, WithSink(rec), WithStore(store), WithArchiver(arch))

	// WHEN it runs until cancelled
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return store.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	// THEN it stops cleanly after a final save and archive
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, []string{"run-1/final"}, arch.keys)
	assert.Greater(t, rec.count(), 0)
	last := store.saved[len(store.saved)-1]
	assert.Equal(t, r.Snapshot(), last)
}

func TestRun_ShutdownReportsStoreError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tick = 5 * time.Millisecond
	r := newRunner(t, cfg, WithStore(&memStore{err: errors.New("disk full")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorContains(t, r.Run(ctx), "disk full")
}
