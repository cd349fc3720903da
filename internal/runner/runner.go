// Package runner drives a simulator in wall-clock time for the server.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/routesim/routesim/internal/sink"
	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/workload"
)

// MaxPending bounds the queued command list between steps.
const MaxPending = 1024

// ErrQueueFull is returned by Submit when MaxPending commands are waiting.
var ErrQueueFull = errors.New("command queue full")

// Config controls the wall-clock loop.
type Config struct {
	Tick           time.Duration // wall time between steps
	TimeScale      float64       // simulated seconds per wall second
	MaxStep        float64       // wall seconds a single step may cover before scaling
	SnapshotEvery  time.Duration // 0 disables periodic persistence
	PublishTimeout time.Duration
}

// DefaultConfig steps every 50ms at real time, clamping long frames to 0.05s.
func DefaultConfig() Config {
	return Config{
		Tick:           50 * time.Millisecond,
		TimeScale:      1,
		MaxStep:        0.05,
		PublishTimeout: 2 * time.Second,
	}
}

// Validate rejects non-positive durations and scales.
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.TimeScale <= 0 || math.IsInf(c.TimeScale, 0) || math.IsNaN(c.TimeScale) {
		return fmt.Errorf("time scale must be a positive number, got %f", c.TimeScale)
	}
	if c.MaxStep <= 0 {
		return fmt.Errorf("max step must be positive, got %f", c.MaxStep)
	}
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot interval must be non-negative, got %s", c.SnapshotEvery)
	}
	return nil
}

// SnapshotStore persists snapshots during the run.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, runID string, snap cluster.Snapshot) error
}

// Archiver receives the final snapshot on shutdown.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, runID string, snap cluster.Snapshot) (string, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithSink publishes every step batch to s.
func WithSink(s sink.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithStore saves snapshots every Config.SnapshotEvery and on shutdown.
func WithStore(s SnapshotStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithArchiver uploads the final snapshot on shutdown.
func WithArchiver(a Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// Runner owns a Simulator. All access goes through its mutex; commands
// submitted between ticks are applied at the start of the next step in
// submission order.
type Runner struct {
	cfg   Config
	runID string

	sink     sink.Sink
	store    SnapshotStore
	archiver Archiver

	mu      sync.Mutex
	sim     *cluster.Simulator
	pending []cluster.Command
	rate    *float64
	dist    *workload.Distribution
	paused  bool
}

// New wraps s. cfg must be valid.
func New(s *cluster.Simulator, runID string, cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}
	r := &Runner{cfg: cfg, runID: runID, sim: s, sink: sink.Multi{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunID identifies the session in sinks and storage.
func (r *Runner) RunID() string {
	return r.runID
}

// Run steps the simulator on every tick until ctx is done, then persists
// the final snapshot.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	var saveC <-chan time.Time
	if r.store != nil && r.cfg.SnapshotEvery > 0 {
		saveTicker := time.NewTicker(r.cfg.SnapshotEvery)
		defer saveTicker.Stop()
		saveC = saveTicker.C
	}

	logrus.Infof("runner %s: tick=%s scale=%.2f", r.runID, r.cfg.Tick, r.cfg.TimeScale)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return r.shutdown()
		case now := <-ticker.C:
			wall := now.Sub(last).Seconds()
			last = now
			if _, _, err := r.StepOnce(ctx, wall); err != nil {
				return err
			}
		case <-saveC:
			if err := r.saveSnapshot(ctx); err != nil {
				logrus.Warnf("runner %s: snapshot save failed: %v", r.runID, err)
			}
		}
	}
}

// StepOnce advances the simulator for wall seconds of real time. It reports
// false without stepping while paused.
func (r *Runner) StepOnce(ctx context.Context, wall float64) (cluster.StepResult, bool, error) {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()
		return cluster.StepResult{}, false, nil
	}
	in := cluster.StepInput{
		DT:           math.Min(math.Max(wall, 0), r.cfg.MaxStep) * r.cfg.TimeScale,
		Commands:     r.pending,
		Rate:         r.rate,
		Distribution: r.dist,
	}
	r.pending, r.rate, r.dist = nil, nil, nil
	res, err := r.sim.Step(in)
	if err != nil {
		r.mu.Unlock()
		return res, false, err
	}
	batch := sink.NewBatch(r.runID, r.sim.Steps(), res, r.sim.Status().Nodes)
	r.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	if err := r.sink.Publish(pctx, batch); err != nil {
		logrus.Warnf("runner %s: publish step %d: %v", r.runID, batch.Step, err)
	}
	return res, true, nil
}

// Update is one batch of caller input for the next step. Nil fields leave
// the current setting unchanged.
type Update struct {
	Commands     []cluster.Command
	Rate         *float64
	Distribution *workload.Distribution
}

// Apply validates u as a whole and queues it for the next step. A rejected
// update changes nothing. Returns the number of pending commands.
func (r *Runner) Apply(u Update) (int, error) {
	if u.Rate != nil {
		if rate := *u.Rate; rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return 0, fmt.Errorf("rate must be a finite non-negative number, got %f", rate)
		}
	}
	if u.Distribution != nil {
		if err := u.Distribution.Validate(r.sim.Registry()); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending)+len(u.Commands) > MaxPending {
		return len(r.pending), ErrQueueFull
	}
	r.pending = append(r.pending, u.Commands...)
	if u.Rate != nil {
		rate := *u.Rate
		r.rate = &rate
	}
	if u.Distribution != nil {
		d := *u.Distribution
		r.dist = &d
	}
	return len(r.pending), nil
}

// Submit queues commands for the next step.
func (r *Runner) Submit(cmds ...cluster.Command) (int, error) {
	return r.Apply(Update{Commands: cmds})
}

// SetRate overrides the base rate from the next step on.
func (r *Runner) SetRate(rate float64) error {
	_, err := r.Apply(Update{Rate: &rate})
	return err
}

// SetDistribution replaces the traffic mix from the next step on.
func (r *Runner) SetDistribution(d workload.Distribution) error {
	_, err := r.Apply(Update{Distribution: &d})
	return err
}

// Pause stops stepping; queued commands wait.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume restarts stepping.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// Paused reports whether stepping is suspended.
func (r *Runner) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Status returns the simulator's current view.
func (r *Runner) Status() cluster.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.Status()
}

// Snapshot captures the simulator's persisted state.
func (r *Runner) Snapshot() cluster.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.Snapshot()
}

func (r *Runner) saveSnapshot(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	snap := r.Snapshot()
	if err := r.store.SaveSnapshot(ctx, r.runID, snap); err != nil {
		return err
	}
	logrus.Debugf("runner %s: saved snapshot at step %d", r.runID, snap.Steps)
	return nil
}

// shutdown persists and archives the final state on a fresh context; the
// run context is already cancelled.
func (r *Runner) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := r.saveSnapshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if r.archiver != nil {
		key, err := r.archiver.ArchiveSnapshot(ctx, r.runID, r.Snapshot())
		if err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		} else {
			logrus.Infof("runner %s: archived final snapshot to %s", r.runID, key)
		}
	}
	st := r.Status()
	logrus.Infof("runner %s stopped: clock=%.2fs steps=%d resolved=%d success=%.3f",
		r.runID, st.Clock, st.Steps, st.Resolved, st.SuccessRate)
	return errors.Join(errs...)
}
