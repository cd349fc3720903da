package cluster

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/trace"
	"github.com/routesim/routesim/sim/workload"
)

// Simulator owns the network, the generator and every request in the run.
// It advances only when Step is called; the caller supplies dt.
//
// Thread-safety: NOT thread-safe. internal/runner serializes access.
type Simulator struct {
	cfg     Config
	reg     *sim.Registry
	catalog sim.Catalog
	rng     *sim.PartitionedRNG

	net *sim.Network
	gen *workload.Generator

	// generated last step, delivered at the start of the next one
	inFlight []*sim.Request

	clock      float64
	steps      int64
	nextNodeID int

	metrics *sim.Metrics
	trace   *trace.SimulationTrace

	incident       *Incident
	incidentTimer  float64
	costMultiplier float64
}

// StepInput carries the caller's per-step inputs. Nil fields leave the
// current setting unchanged.
type StepInput struct {
	DT           float64
	Distribution *workload.Distribution
	Rate         *float64
	Commands     []Command
	Flags        *sim.StepFlags
}

// StepResult is everything that happened during one step, in order.
type StepResult struct {
	Clock         float64            `json:"clock"`
	Events        []sim.OutcomeEvent `json:"events"`
	Upkeep        float64            `json:"upkeep"`
	AutoRepaired  float64            `json:"auto_repaired,omitempty"`
	Commands      []CommandResult    `json:"commands,omitempty"`
	Incidents     []IncidentEvent    `json:"incidents,omitempty"`
	Interventions []workload.Event   `json:"interventions,omitempty"`
}

// NewSimulator validates cfg and builds a simulator at clock 0 with the
// configured topology in place.
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	gen, err := workload.NewGenerator(cfg.GeneratorSpec, reg, rng.ForSubsystem(sim.SubsystemWorkload))
	if err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:            cfg,
		reg:            reg,
		catalog:        cfg.Catalog(),
		rng:            rng,
		net:            sim.NewNetwork(),
		gen:            gen,
		metrics:        sim.NewMetrics(),
		trace:          trace.NewSimulationTrace(cfg.Trace),
		costMultiplier: 1,
	}
	if cfg.Topology != nil {
		if err := s.buildTopology(cfg.Topology); err != nil {
			return nil, fmt.Errorf("building topology: %w", err)
		}
	}
	logrus.Infof("simulator ready: mode=%s seed=%d nodes=%d links=%d",
		cfg.Mode, cfg.Seed, s.net.Len(), len(s.net.Connections()))
	return s, nil
}

func (s *Simulator) buildTopology(t *TopologySpec) error {
	for _, p := range t.Nodes {
		if _, err := s.placeNode(p.ID, p.Kind, max(1, p.Tier)); err != nil {
			return err
		}
	}
	for _, l := range t.Links {
		if err := s.net.Link(l.From, l.To); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the simulation by in.DT seconds. Order: commands, rate and
// mix overrides, delivery of last step's arrivals, generation, generator
// interventions, incidents, then every node in creation order.
// Returns an error only for an invalid dt; command failures are reported in
// the result.
func (s *Simulator) Step(in StepInput) (StepResult, error) {
	if math.IsNaN(in.DT) || math.IsInf(in.DT, 0) || in.DT < 0 {
		return StepResult{}, fmt.Errorf("dt must be a finite non-negative number, got %f", in.DT)
	}
	dt := in.DT
	now := s.clock + dt
	res := StepResult{Clock: now}

	// 1. Commands
	for _, cmd := range in.Commands {
		cr, events, err := s.applyCommand(cmd, now)
		if err != nil {
			cr.Error = err.Error()
			logrus.Warnf("[%.2fs] command %s failed: %v", now, cmd.Type, err)
		}
		res.Commands = append(res.Commands, cr)
		res.Events = append(res.Events, events...)
	}
	if in.Rate != nil {
		if err := s.gen.SetBaseRate(*in.Rate); err != nil {
			logrus.Warnf("[%.2fs] rate override ignored: %v", now, err)
		}
	}
	if in.Distribution != nil {
		if err := s.gen.SetDistribution(*in.Distribution); err != nil {
			logrus.Warnf("[%.2fs] distribution override ignored: %v", now, err)
		}
	}
	flags := s.cfg.Features
	if in.Flags != nil {
		flags = *in.Flags
	}

	// 2. Deliver last step's arrivals
	for _, req := range s.inFlight {
		if !s.net.Deliver(req) {
			res.Events = append(res.Events, sim.Resolve(req, sim.OutcomeFailed, sim.ReasonNodeRemoved, nil, now))
		}
	}
	s.inFlight = s.inFlight[:0]

	// 3. Generate
	reqs := s.gen.Generate(dt, now)
	s.metrics.Generated += len(reqs)
	res.Events = append(res.Events, s.launch(reqs, now)...)

	// 4. Interventions and incidents
	res.Interventions = s.gen.Tick(dt)
	for _, ev := range res.Interventions {
		logrus.Infof("[%.2fs] generator %s %s (x%.2f)", now, ev.Type, ev.Name, s.gen.Multiplier())
	}
	incidents, burst := s.advanceIncidents(dt, now)
	res.Incidents = incidents
	res.Events = append(res.Events, burst...)

	// 5. Nodes
	env := sim.NodeEnv{
		Flags:          flags,
		Degradation:    s.cfg.Degradation,
		CostMultiplier: s.costMultiplier,
		Now:            now,
	}
	for _, n := range s.net.Nodes() {
		u := n.Update(dt, s.net, s.rng.ForSubsystem(sim.SubsystemNode(n.ID)), env)
		res.Events = append(res.Events, u.Events...)
		res.Upkeep += u.Upkeep
		res.AutoRepaired += u.AutoRepaired
	}

	s.clock = now
	s.steps++
	s.record(&res)
	logrus.Debugf("[%.2fs] step %d: %d events, %d held, %d in flight",
		now, s.steps, len(res.Events), s.net.Held(), len(s.inFlight))
	return res, nil
}

// launch points new requests at the entry target. They stay in flight until
// the next step delivers them. Without an entry route they are blocked.
func (s *Simulator) launch(reqs []*sim.Request, now float64) []sim.OutcomeEvent {
	if len(reqs) == 0 {
		return nil
	}
	entry := s.net.EntryTarget()
	if entry == nil {
		events := make([]sim.OutcomeEvent, 0, len(reqs))
		for _, req := range reqs {
			events = append(events, sim.Resolve(req, sim.OutcomeBlocked, sim.ReasonNoEntryRoute, nil, now))
		}
		return events
	}
	for _, req := range reqs {
		req.NodeID = entry.ID
		s.inFlight = append(s.inFlight, req)
	}
	return nil
}

func (s *Simulator) record(res *StepResult) {
	s.metrics.UpkeepSpent += res.Upkeep
	for _, ev := range res.Events {
		spec, err := s.reg.Lookup(ev.Kind)
		if err != nil {
			panic(fmt.Sprintf("outcome for unregistered traffic kind %q", ev.Kind))
		}
		s.metrics.Record(ev, spec)
		if s.trace.Enabled() {
			s.trace.RecordOutcome(trace.OutcomeRecord{
				RequestID:   ev.RequestID,
				Kind:        string(ev.Kind),
				Destination: string(ev.Destination),
				Outcome:     string(ev.Outcome),
				Reason:      string(ev.Reason),
				NodeID:      ev.NodeID,
				Hops:        ev.Hops,
				Clock:       ev.Clock,
				Latency:     ev.Latency,
			})
		}
	}
	sample := s.trace.WantSamples()
	for _, n := range s.net.Nodes() {
		s.metrics.ObserveQueueDepth(n.QueueLen())
		if sample {
			s.trace.RecordSample(trace.NodeSample{
				Clock:             s.clock,
				NodeID:            n.ID,
				Kind:              string(n.Kind),
				Queue:             n.QueueLen(),
				Processing:        n.ProcessingLen(),
				EffectiveCapacity: n.EffectiveCapacity(),
				Load:              n.TotalLoad(),
				Health:            n.Health,
			})
		}
	}
}

// Run steps the simulator with a fixed dt until duration seconds have
// elapsed, for headless use.
func (s *Simulator) Run(duration, dt float64) error {
	if dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", dt)
	}
	steps := int(math.Ceil(duration/dt - 1e-9))
	for i := 0; i < steps; i++ {
		if _, err := s.Step(StepInput{DT: dt}); err != nil {
			return err
		}
	}
	return nil
}

// CheckInvariants verifies request ownership across the network and the
// in-flight list.
func (s *Simulator) CheckInvariants() error {
	if err := s.net.CheckInvariants(); err != nil {
		return err
	}
	for _, req := range s.inFlight {
		if req.State != sim.StateInFlight {
			return fmt.Errorf("in-flight request %s is %s", req.ID, req.State)
		}
		if s.net.Node(req.NodeID) == nil {
			return fmt.Errorf("in-flight request %s targets missing node %q", req.ID, req.NodeID)
		}
	}
	return nil
}

// Clock returns the simulation clock in seconds.
func (s *Simulator) Clock() float64 {
	return s.clock
}

// Steps returns the number of completed steps.
func (s *Simulator) Steps() int64 {
	return s.steps
}

// Network exposes the node graph. Mutating it outside Step bypasses command
// validation and logging.
func (s *Simulator) Network() *sim.Network {
	return s.net
}

// Generator exposes the traffic generator.
func (s *Simulator) Generator() *workload.Generator {
	return s.gen
}

// Registry returns the traffic registry in use.
func (s *Simulator) Registry() *sim.Registry {
	return s.reg
}

// Metrics returns the running totals.
func (s *Simulator) Metrics() *sim.Metrics {
	return s.metrics
}

// Trace returns the decision trace; it records nothing at level none.
func (s *Simulator) Trace() *trace.SimulationTrace {
	return s.trace
}

// Config returns the configuration the simulator was built from.
func (s *Simulator) Config() Config {
	return s.cfg
}

// InFlight returns the number of generated requests awaiting delivery.
func (s *Simulator) InFlight() int {
	return len(s.inFlight)
}
