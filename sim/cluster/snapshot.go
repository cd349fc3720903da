package cluster

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/workload"
)

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 1

// NodeState is the persisted form of a node. Capacity and cache hit rate
// are not stored; they are re-derived from the tier table on restore.
type NodeState struct {
	ID                 string       `json:"id" yaml:"id"`
	Kind               sim.NodeKind `json:"kind" yaml:"kind"`
	Tier               int          `json:"tier" yaml:"tier"`
	Health             float64      `json:"health" yaml:"health"`
	TempCapacityFactor float64      `json:"temp_capacity_factor" yaml:"temp_capacity_factor"`
	Disabled           bool         `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Snapshot is the persisted state of a simulator. Requests held by nodes or
// in flight are not persisted; a restored run starts with empty queues.
type Snapshot struct {
	Version        int              `json:"version" yaml:"version"`
	Seed           int64            `json:"seed" yaml:"seed"`
	Mode           Mode             `json:"mode" yaml:"mode"`
	Clock          float64          `json:"clock" yaml:"clock"`
	Steps          int64            `json:"steps" yaml:"steps"`
	NextNodeID     int              `json:"next_node_id" yaml:"next_node_id"`
	Nodes          []NodeState      `json:"nodes" yaml:"nodes"`
	Connections    []sim.Connection `json:"connections" yaml:"connections"`
	Generator      workload.State   `json:"generator" yaml:"generator"`
	Incident       *Incident        `json:"incident,omitempty" yaml:"incident,omitempty"`
	IncidentTimer  float64          `json:"incident_timer" yaml:"incident_timer"`
	CostMultiplier float64          `json:"cost_multiplier" yaml:"cost_multiplier"`
}

// Snapshot captures the current state.
func (s *Simulator) Snapshot() Snapshot {
	snap := Snapshot{
		Version:        SnapshotVersion,
		Seed:           int64(s.rng.Key()),
		Mode:           s.cfg.Mode,
		Clock:          s.clock,
		Steps:          s.steps,
		NextNodeID:     s.nextNodeID,
		Nodes:          make([]NodeState, 0, s.net.Len()),
		Connections:    s.net.Connections(),
		Generator:      s.gen.State(),
		IncidentTimer:  s.incidentTimer,
		CostMultiplier: s.costMultiplier,
	}
	for _, n := range s.net.Nodes() {
		snap.Nodes = append(snap.Nodes, NodeState{
			ID:                 n.ID,
			Kind:               n.Kind,
			Tier:               n.Tier,
			Health:             n.Health,
			TempCapacityFactor: n.TempCapacityFactor,
			Disabled:           n.Disabled,
		})
	}
	if s.incident != nil {
		inc := *s.incident
		snap.Incident = &inc
	}
	return snap
}

// RestoreSimulator builds a simulator from cfg and loads snap into it.
// The configured topology is ignored; the snapshot's network replaces it.
func RestoreSimulator(cfg Config, snap Snapshot) (*Simulator, error) {
	cfg.Topology = nil
	s, err := NewSimulator(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulator) restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("restore: snapshot version %d, want %d", snap.Version, SnapshotVersion)
	}
	if snap.Clock < 0 {
		return fmt.Errorf("restore: negative clock %f", snap.Clock)
	}
	for i, ns := range snap.Nodes {
		n, err := s.placeNode(ns.ID, ns.Kind, max(1, ns.Tier))
		if err != nil {
			return fmt.Errorf("restore nodes[%d]: %w", i, err)
		}
		if ns.Health < 0 || ns.Health > sim.MaxHealth {
			return fmt.Errorf("restore nodes[%d]: health %f out of range [0,%g]", i, ns.Health, sim.MaxHealth)
		}
		if ns.TempCapacityFactor < 0 || ns.TempCapacityFactor > 1 {
			return fmt.Errorf("restore nodes[%d]: capacity factor %f out of range [0,1]", i, ns.TempCapacityFactor)
		}
		n.Health = ns.Health
		n.TempCapacityFactor = ns.TempCapacityFactor
		n.Disabled = ns.Disabled
	}
	for i, c := range snap.Connections {
		if err := s.net.Link(c.From, c.To); err != nil {
			return fmt.Errorf("restore connections[%d]: %w", i, err)
		}
	}
	if err := s.gen.Restore(snap.Generator); err != nil {
		return err
	}
	s.clock = snap.Clock
	s.steps = snap.Steps
	s.nextNodeID = snap.NextNodeID
	s.incidentTimer = snap.IncidentTimer
	s.costMultiplier = snap.CostMultiplier
	if s.costMultiplier <= 0 {
		s.costMultiplier = 1
	}
	s.incident = nil
	if snap.Incident != nil {
		inc := *snap.Incident
		s.incident = &inc
	}
	return nil
}

// EncodeSnapshot renders snap as "json" or "yaml".
func EncodeSnapshot(snap Snapshot, format string) ([]byte, error) {
	switch format {
	case "json", "":
		return json.MarshalIndent(snap, "", "  ")
	case "yaml":
		return yaml.Marshal(snap)
	}
	return nil, fmt.Errorf("unknown snapshot format %q; valid: json, yaml", format)
}

// DecodeSnapshot parses a snapshot in either format.
func DecodeSnapshot(data []byte, format string) (Snapshot, error) {
	var snap Snapshot
	var err error
	switch format {
	case "json", "":
		err = json.Unmarshal(data, &snap)
	case "yaml":
		err = yaml.Unmarshal(data, &snap)
	default:
		return snap, fmt.Errorf("unknown snapshot format %q; valid: json, yaml", format)
	}
	if err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
