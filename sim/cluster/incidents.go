package cluster

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/routesim/routesim/sim"
)

// IncidentKind names a random disruption.
type IncidentKind string

const (
	IncidentCapacityDrop IncidentKind = "capacity_drop" // one node runs at a fraction of its slots
	IncidentOutage       IncidentKind = "outage"        // one node accepts no new work
	IncidentTrafficBurst IncidentKind = "traffic_burst" // a block of extra requests arrives at once
	IncidentCostSpike    IncidentKind = "cost_spike"    // upkeep is multiplied
)

// IncidentKinds lists every incident kind in draw order.
var IncidentKinds = []IncidentKind{IncidentCapacityDrop, IncidentOutage, IncidentTrafficBurst, IncidentCostSpike}

// IncidentConfig schedules random incidents. At most one incident is active;
// the next one is drawn Interval seconds after the previous one ended.
type IncidentConfig struct {
	Interval       float64        `yaml:"interval"`
	Duration       float64        `yaml:"duration"`
	CapacityFactor float64        `yaml:"capacity_factor"`
	BurstSize      int            `yaml:"burst_size"`
	CostMultiplier float64        `yaml:"cost_multiplier"`
	Kinds          []IncidentKind `yaml:"kinds,omitempty"` // empty means all
}

// DefaultIncidentConfig is the survival-mode incident schedule.
func DefaultIncidentConfig() *IncidentConfig {
	return &IncidentConfig{
		Interval:       60,
		Duration:       10,
		CapacityFactor: 0.5,
		BurstSize:      20,
		CostMultiplier: 2,
	}
}

// Validate checks ranges and kind names.
func (c *IncidentConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("incidents.interval must be positive, got %f", c.Interval)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("incidents.duration must be positive, got %f", c.Duration)
	}
	if c.CapacityFactor < 0 || c.CapacityFactor > 1 {
		return fmt.Errorf("incidents.capacity_factor must be in [0,1], got %f", c.CapacityFactor)
	}
	if c.BurstSize < 0 {
		return fmt.Errorf("incidents.burst_size must be non-negative, got %d", c.BurstSize)
	}
	if c.CostMultiplier < 1 {
		return fmt.Errorf("incidents.cost_multiplier must be >= 1, got %f", c.CostMultiplier)
	}
	for i, k := range c.Kinds {
		if !isValidIncidentKind(k) {
			return fmt.Errorf("incidents.kinds[%d]: unknown kind %q", i, k)
		}
	}
	return nil
}

func (c *IncidentConfig) kinds() []IncidentKind {
	if len(c.Kinds) == 0 {
		return IncidentKinds
	}
	return c.Kinds
}

func isValidIncidentKind(k IncidentKind) bool {
	for _, v := range IncidentKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Incident is the active disruption.
type Incident struct {
	Kind      IncidentKind `yaml:"kind" json:"kind"`
	NodeID    string       `yaml:"node_id,omitempty" json:"node_id,omitempty"`
	Remaining float64      `yaml:"remaining" json:"remaining"`
}

// IncidentEvent reports an incident starting or ending.
type IncidentEvent struct {
	Kind    IncidentKind `json:"kind"`
	NodeID  string       `json:"node_id,omitempty"`
	Started bool         `json:"started"`
	Clock   float64      `json:"clock"`
}

// advanceIncidents expires the active incident and draws a new one when the
// interval has elapsed. Bursts may produce no-entry-route outcomes.
func (s *Simulator) advanceIncidents(dt, now float64) ([]IncidentEvent, []sim.OutcomeEvent) {
	var events []IncidentEvent
	var outcomes []sim.OutcomeEvent

	if s.incident != nil {
		s.incident.Remaining -= dt
		if s.incident.Remaining <= 0 {
			events = append(events, s.endIncident(now))
		}
		return events, outcomes
	}
	if s.cfg.Incidents == nil {
		return nil, nil
	}
	s.incidentTimer += dt
	if s.incidentTimer < s.cfg.Incidents.Interval {
		return nil, nil
	}
	s.incidentTimer = 0

	ev, blocked, ok := s.startIncident(now)
	if ok {
		events = append(events, ev)
	}
	return events, blocked
}

func (s *Simulator) startIncident(now float64) (IncidentEvent, []sim.OutcomeEvent, bool) {
	cfg := s.cfg.Incidents
	rng := s.rng.ForSubsystem(sim.SubsystemIncidents)
	kinds := cfg.kinds()
	kind := kinds[rng.Intn(len(kinds))]
	inc := &Incident{Kind: kind, Remaining: cfg.Duration}
	var outcomes []sim.OutcomeEvent

	switch kind {
	case IncidentCapacityDrop, IncidentOutage:
		nodes := s.net.Nodes()
		if len(nodes) == 0 {
			return IncidentEvent{}, nil, false
		}
		target := nodes[rng.Intn(len(nodes))]
		inc.NodeID = target.ID
		if kind == IncidentOutage {
			target.Disabled = true
		} else {
			target.TempCapacityFactor = cfg.CapacityFactor
		}
	case IncidentTrafficBurst:
		traffic := s.gen.Distribution().Sample(rng, s.reg)
		reqs, err := s.gen.Burst(traffic, cfg.BurstSize, now)
		if err != nil {
			logrus.Warnf("[%.2fs] traffic burst incident: %v", now, err)
			return IncidentEvent{}, nil, false
		}
		s.metrics.Generated += len(reqs)
		outcomes = s.launch(reqs, now)
	case IncidentCostSpike:
		s.costMultiplier = cfg.CostMultiplier
	}

	s.incident = inc
	logrus.Infof("[%.2fs] incident started: %s %s", now, kind, inc.NodeID)
	return IncidentEvent{Kind: kind, NodeID: inc.NodeID, Started: true, Clock: now}, outcomes, true
}

// endIncident reverts the active incident. A node removed in the meantime
// needs no cleanup.
func (s *Simulator) endIncident(now float64) IncidentEvent {
	inc := s.incident
	s.incident = nil
	switch inc.Kind {
	case IncidentCapacityDrop:
		if n := s.net.Node(inc.NodeID); n != nil {
			n.TempCapacityFactor = 1
		}
	case IncidentOutage:
		if n := s.net.Node(inc.NodeID); n != nil {
			n.Disabled = false
		}
	case IncidentCostSpike:
		s.costMultiplier = 1
	}
	logrus.Infof("[%.2fs] incident ended: %s %s", now, inc.Kind, inc.NodeID)
	return IncidentEvent{Kind: inc.Kind, NodeID: inc.NodeID, Clock: now}
}

// ActiveIncident returns a copy of the running incident, if any.
func (s *Simulator) ActiveIncident() (Incident, bool) {
	if s.incident == nil {
		return Incident{}, false
	}
	return *s.incident, true
}
