package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/routesim/routesim/sim"
)

// MaliciousSpikeName labels shifts started by StartMaliciousSpike.
const MaliciousSpikeName = "malicious-spike"

// EventType classifies generator interventions reported by Tick.
type EventType string

const (
	EventMilestone  EventType = "milestone"
	EventShiftStart EventType = "shift_start"
	EventShiftEnd   EventType = "shift_end"
)

// Event reports a generator intervention.
type Event struct {
	Type       EventType `json:"type"`
	Name       string    `json:"name,omitempty"`
	Multiplier float64   `json:"multiplier,omitempty"`
	Clock      float64   `json:"clock"`
}

// activeShift is the single temporary-distribution slot. saved holds the
// distribution in effect before the first shift in a chain.
type activeShift struct {
	name      string
	remaining float64
	saved     Distribution
}

// Generator turns elapsed time into new requests. It owns the rate
// accumulator, the active traffic mix and the scheduled interventions.
//
// Thread-safety: NOT thread-safe.
type Generator struct {
	reg *sim.Registry
	rng *rand.Rand

	baseRate    float64
	accumulator float64
	elapsed     float64
	nextID      int

	active Distribution
	shift  *activeShift

	milestones   []Milestone
	milestoneIdx int
	multiplier   float64

	spike      *SpikeSchedule
	spikeTimer float64
	shifts     *ShiftSchedule
	shiftTimer float64
	shiftIdx   int
}

// NewGenerator validates spec and returns a generator drawing from rng.
func NewGenerator(spec GeneratorSpec, reg *sim.Registry, rng *rand.Rand) (*Generator, error) {
	if err := spec.Validate(reg); err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return &Generator{
		reg:        reg,
		rng:        rng,
		baseRate:   spec.BaseRate,
		active:     spec.Distribution.Clone(),
		milestones: sortedMilestones(spec.Milestones),
		multiplier: 1,
		spike:      spec.MaliciousSpike,
		shifts:     spec.TrafficShifts,
	}, nil
}

// Rate is the effective request rate: base rate times the milestone multiplier.
func (g *Generator) Rate() float64 {
	return g.baseRate * g.multiplier
}

// BaseRate returns the rate before milestone scaling.
func (g *Generator) BaseRate() float64 {
	return g.baseRate
}

// SetBaseRate replaces the base rate.
func (g *Generator) SetBaseRate(rate float64) error {
	if err := validateFiniteNonNegative("rate", rate); err != nil {
		return err
	}
	g.baseRate = rate
	return nil
}

// Multiplier returns the current milestone multiplier.
func (g *Generator) Multiplier() float64 {
	return g.multiplier
}

// Elapsed returns the simulated seconds seen by Tick.
func (g *Generator) Elapsed() float64 {
	return g.elapsed
}

// Distribution returns a copy of the mix currently in effect.
func (g *Generator) Distribution() Distribution {
	return g.active.Clone()
}

// BaseDistribution returns the mix that is restored when the active shift
// ends, or the active mix when no shift is running.
func (g *Generator) BaseDistribution() Distribution {
	if g.shift != nil {
		return g.shift.saved.Clone()
	}
	return g.active.Clone()
}

// SetDistribution replaces the steady-state mix. During a shift the new mix
// takes effect when the shift ends.
func (g *Generator) SetDistribution(d Distribution) error {
	if err := d.Validate(g.reg); err != nil {
		return err
	}
	if g.shift != nil {
		g.shift.saved = d.Clone()
		return nil
	}
	g.active = d.Clone()
	return nil
}

// ActiveShift returns the running shift's name and remaining seconds.
func (g *Generator) ActiveShift() (string, float64, bool) {
	if g.shift == nil {
		return "", 0, false
	}
	return g.shift.name, g.shift.remaining, true
}

// Generate advances the accumulator by Rate()*dt and emits floor(accumulator)
// requests, keeping the fractional remainder for the next call.
func (g *Generator) Generate(dt, now float64) []*sim.Request {
	g.accumulator += g.Rate() * dt
	count := int(math.Floor(g.accumulator))
	if count <= 0 {
		return nil
	}
	g.accumulator -= float64(count)
	out := make([]*sim.Request, 0, count)
	for i := 0; i < count; i++ {
		kind := g.active.Sample(g.rng, g.reg)
		out = append(out, g.newRequest(kind, now))
	}
	return out
}

// Burst creates n requests of kind immediately, bypassing the accumulator
// and the mix.
func (g *Generator) Burst(kind sim.TrafficKind, n int, now float64) ([]*sim.Request, error) {
	if !g.reg.Has(kind) {
		return nil, fmt.Errorf("burst: %w: %q", sim.ErrUnknownTrafficKind, kind)
	}
	if n < 0 {
		return nil, fmt.Errorf("burst: count must be non-negative, got %d", n)
	}
	out := make([]*sim.Request, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.newRequest(kind, now))
	}
	return out, nil
}

func (g *Generator) newRequest(kind sim.TrafficKind, now float64) *sim.Request {
	id := fmt.Sprintf("request_%d", g.nextID)
	g.nextID++
	return sim.NewRequest(id, g.reg.MustLookup(kind), now)
}

// StartShift replaces the mix with d for duration seconds. Shifts share one
// slot: a new shift overrides a running one, and the mix saved before the
// first shift is the one restored at expiry.
func (g *Generator) StartShift(name string, d Distribution, duration float64) error {
	if err := d.Validate(g.reg); err != nil {
		return fmt.Errorf("shift %s: %w", name, err)
	}
	if err := validateFinitePositive("shift duration", duration); err != nil {
		return err
	}
	if g.shift == nil {
		g.shift = &activeShift{saved: g.active.Clone()}
	}
	g.shift.name = name
	g.shift.remaining = duration
	g.active = d.Clone()
	logrus.Debugf("[%.2fs] shift %q started for %.1fs", g.elapsed, name, duration)
	return nil
}

// StartMaliciousSpike raises the malicious share of the steady-state mix to
// share for duration seconds.
func (g *Generator) StartMaliciousSpike(share, duration float64) error {
	if share < 0 || share > 1 {
		return fmt.Errorf("malicious spike: share must be in [0,1], got %f", share)
	}
	return g.StartShift(MaliciousSpikeName, g.BaseDistribution().WithMaliciousShare(share), duration)
}

// EndShift restores the saved mix. No-op without an active shift.
func (g *Generator) EndShift() bool {
	if g.shift == nil {
		return false
	}
	g.active = g.shift.saved
	g.shift = nil
	return true
}

// Tick advances elapsed time by dt: milestones, shift expiry and scheduled
// spikes and shifts. Returns the interventions that happened.
func (g *Generator) Tick(dt float64) []Event {
	var events []Event
	g.elapsed += dt

	for g.milestoneIdx < len(g.milestones) && g.elapsed >= g.milestones[g.milestoneIdx].At {
		m := g.milestones[g.milestoneIdx]
		g.milestoneIdx++
		g.multiplier = math.Max(g.multiplier, m.Multiplier)
		logrus.Infof("[%.2fs] milestone reached: rate x%.2f", g.elapsed, g.multiplier)
		events = append(events, Event{Type: EventMilestone, Multiplier: g.multiplier, Clock: g.elapsed})
	}

	if g.shift != nil {
		g.shift.remaining -= dt
		if g.shift.remaining <= 0 {
			name := g.shift.name
			g.EndShift()
			events = append(events, Event{Type: EventShiftEnd, Name: name, Clock: g.elapsed})
		}
	}

	if g.spike != nil {
		g.spikeTimer += dt
		if g.spikeTimer >= g.spike.Interval {
			g.spikeTimer -= g.spike.Interval
			if err := g.StartMaliciousSpike(g.spike.Share, g.spike.Duration); err == nil {
				events = append(events, Event{Type: EventShiftStart, Name: MaliciousSpikeName, Clock: g.elapsed})
			}
		}
	}

	if g.shifts != nil {
		g.shiftTimer += dt
		if g.shiftTimer >= g.shifts.Interval {
			g.shiftTimer -= g.shifts.Interval
			preset := g.shifts.Presets[g.shiftIdx%len(g.shifts.Presets)]
			g.shiftIdx++
			if err := g.StartShift(preset.Name, preset.Distribution, g.shifts.Duration); err == nil {
				events = append(events, Event{Type: EventShiftStart, Name: preset.Name, Clock: g.elapsed})
			}
		}
	}
	return events
}

// TimeUntilNextMilestone returns the seconds until the next milestone, or
// false when none remain.
func (g *Generator) TimeUntilNextMilestone() (float64, bool) {
	if g.milestoneIdx >= len(g.milestones) {
		return 0, false
	}
	return math.Max(0, g.milestones[g.milestoneIdx].At-g.elapsed), true
}

// NextMultiplier returns the multiplier that will apply after the next
// milestone, or false when none remain.
func (g *Generator) NextMultiplier() (float64, bool) {
	if g.milestoneIdx >= len(g.milestones) {
		return 0, false
	}
	return math.Max(g.multiplier, g.milestones[g.milestoneIdx].Multiplier), true
}

// ShiftState is the persisted form of the active shift.
type ShiftState struct {
	Name      string       `yaml:"name" json:"name"`
	Remaining float64      `yaml:"remaining" json:"remaining"`
	Saved     Distribution `yaml:"saved" json:"saved"`
}

// State is the persisted form of a Generator. The random stream itself is
// not captured; a restored generator continues from a fresh stream.
type State struct {
	BaseRate       float64      `yaml:"base_rate" json:"base_rate"`
	Accumulator    float64      `yaml:"accumulator" json:"accumulator"`
	Elapsed        float64      `yaml:"elapsed" json:"elapsed"`
	NextID         int          `yaml:"next_id" json:"next_id"`
	Distribution   Distribution `yaml:"distribution" json:"distribution"`
	MilestoneIndex int          `yaml:"milestone_index" json:"milestone_index"`
	Multiplier     float64      `yaml:"multiplier" json:"multiplier"`
	Shift          *ShiftState  `yaml:"shift,omitempty" json:"shift,omitempty"`
	SpikeTimer     float64      `yaml:"spike_timer" json:"spike_timer"`
	ShiftTimer     float64      `yaml:"shift_timer" json:"shift_timer"`
	ShiftIndex     int          `yaml:"shift_index" json:"shift_index"`
}

// State exports the generator for persistence.
func (g *Generator) State() State {
	s := State{
		BaseRate:       g.baseRate,
		Accumulator:    g.accumulator,
		Elapsed:        g.elapsed,
		NextID:         g.nextID,
		Distribution:   g.active.Clone(),
		MilestoneIndex: g.milestoneIdx,
		Multiplier:     g.multiplier,
		SpikeTimer:     g.spikeTimer,
		ShiftTimer:     g.shiftTimer,
		ShiftIndex:     g.shiftIdx,
	}
	if g.shift != nil {
		s.Shift = &ShiftState{Name: g.shift.name, Remaining: g.shift.remaining, Saved: g.shift.saved.Clone()}
	}
	return s
}

// Restore loads s, keeping the configured milestones and schedules.
func (g *Generator) Restore(s State) error {
	if err := s.Distribution.Validate(g.reg); err != nil {
		return fmt.Errorf("restore generator: %w", err)
	}
	if s.MilestoneIndex < 0 || s.MilestoneIndex > len(g.milestones) {
		return fmt.Errorf("restore generator: milestone index %d out of range [0,%d]", s.MilestoneIndex, len(g.milestones))
	}
	if s.Multiplier <= 0 {
		return fmt.Errorf("restore generator: multiplier must be positive, got %f", s.Multiplier)
	}
	if s.Shift != nil {
		if err := s.Shift.Saved.Validate(g.reg); err != nil {
			return fmt.Errorf("restore generator shift: %w", err)
		}
	}
	g.baseRate = s.BaseRate
	g.accumulator = s.Accumulator
	g.elapsed = s.Elapsed
	g.nextID = s.NextID
	g.active = s.Distribution.Clone()
	g.milestoneIdx = s.MilestoneIndex
	g.multiplier = s.Multiplier
	g.spikeTimer = s.SpikeTimer
	g.shiftTimer = s.ShiftTimer
	g.shiftIdx = s.ShiftIndex
	g.shift = nil
	if s.Shift != nil {
		g.shift = &activeShift{name: s.Shift.Name, remaining: s.Shift.Remaining, saved: s.Shift.Saved.Clone()}
	}
	return nil
}
