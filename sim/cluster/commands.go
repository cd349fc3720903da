package cluster

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/workload"
)

// CommandType names a user action applied at the start of a step.
type CommandType string

const (
	CmdPlace             CommandType = "place"
	CmdLink              CommandType = "link"
	CmdUnlink            CommandType = "unlink"
	CmdRemove            CommandType = "remove"
	CmdRepair            CommandType = "repair"
	CmdUpgrade           CommandType = "upgrade"
	CmdSetCapacityFactor CommandType = "set_capacity_factor"
	CmdSetDisabled       CommandType = "set_disabled"
	CmdBurst             CommandType = "burst"
	CmdShift             CommandType = "shift"
	CmdMaliciousSpike    CommandType = "malicious_spike"
	CmdEndShift          CommandType = "end_shift"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoOp           = errors.New("command had no effect")
)

// Command is one user action. Only the fields relevant to Type are read.
type Command struct {
	Type CommandType `json:"type" yaml:"type"`

	NodeID string       `json:"node_id,omitempty" yaml:"node_id,omitempty"` // remove, repair, upgrade, set_*; optional for place
	Kind   sim.NodeKind `json:"kind,omitempty" yaml:"kind,omitempty"`       // place
	From   string       `json:"from,omitempty" yaml:"from,omitempty"`       // link, unlink
	To     string       `json:"to,omitempty" yaml:"to,omitempty"`

	Factor   float64 `json:"factor,omitempty" yaml:"factor,omitempty"` // set_capacity_factor
	Disabled bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	Traffic sim.TrafficKind `json:"traffic,omitempty" yaml:"traffic,omitempty"` // burst
	Count   int             `json:"count,omitempty" yaml:"count,omitempty"`

	Name         string                 `json:"name,omitempty" yaml:"name,omitempty"` // shift
	Distribution *workload.Distribution `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	Duration     float64                `json:"duration,omitempty" yaml:"duration,omitempty"` // shift, malicious_spike
	Share        float64                `json:"share,omitempty" yaml:"share,omitempty"`       // malicious_spike
}

// CommandResult reports how a command was applied. Cost is the price the
// caller may charge; the simulator does not track money.
type CommandResult struct {
	Type   CommandType `json:"type"`
	NodeID string      `json:"node_id,omitempty"`
	Cost   float64     `json:"cost,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// OK reports whether the command succeeded.
func (r CommandResult) OK() bool {
	return r.Error == ""
}

// applyCommand executes cmd. Errors are returned, never panicked; removal
// and bursts may also produce outcome events.
func (s *Simulator) applyCommand(cmd Command, now float64) (CommandResult, []sim.OutcomeEvent, error) {
	res := CommandResult{Type: cmd.Type, NodeID: cmd.NodeID}
	switch cmd.Type {
	case CmdPlace:
		n, err := s.placeNode(cmd.NodeID, cmd.Kind, 1)
		if err != nil {
			return res, nil, err
		}
		res.NodeID = n.ID
		res.Cost = n.Spec().Cost
		return res, nil, nil

	case CmdLink:
		return res, nil, s.net.Link(cmd.From, cmd.To)

	case CmdUnlink:
		return res, nil, s.net.Unlink(cmd.From, cmd.To)

	case CmdRemove:
		events, err := s.removeNode(cmd.NodeID, now)
		return res, events, err

	case CmdRepair:
		n, err := s.node(cmd.NodeID)
		if err != nil {
			return res, nil, err
		}
		cost, ok := n.Repair(s.cfg.Degradation.RepairCostPercent)
		if !ok {
			return res, nil, fmt.Errorf("repair %s at full health: %w", n.ID, ErrNoOp)
		}
		res.Cost = cost
		s.metrics.RepairSpent += cost
		return res, nil, nil

	case CmdUpgrade:
		n, err := s.node(cmd.NodeID)
		if err != nil {
			return res, nil, err
		}
		cost, ok := n.Upgrade()
		if !ok {
			return res, nil, fmt.Errorf("upgrade %s (%s tier %d): %w", n.ID, n.Kind, n.Tier, ErrNoOp)
		}
		res.Cost = cost
		return res, nil, nil

	case CmdSetCapacityFactor:
		n, err := s.node(cmd.NodeID)
		if err != nil {
			return res, nil, err
		}
		if cmd.Factor < 0 || cmd.Factor > 1 {
			return res, nil, fmt.Errorf("capacity factor must be in [0,1], got %f", cmd.Factor)
		}
		n.TempCapacityFactor = cmd.Factor
		return res, nil, nil

	case CmdSetDisabled:
		n, err := s.node(cmd.NodeID)
		if err != nil {
			return res, nil, err
		}
		n.Disabled = cmd.Disabled
		return res, nil, nil

	case CmdBurst:
		reqs, err := s.gen.Burst(cmd.Traffic, cmd.Count, now)
		if err != nil {
			return res, nil, err
		}
		s.metrics.Generated += len(reqs)
		return res, s.launch(reqs, now), nil

	case CmdShift:
		if cmd.Distribution == nil {
			return res, nil, fmt.Errorf("shift %q: distribution required", cmd.Name)
		}
		return res, nil, s.gen.StartShift(cmd.Name, *cmd.Distribution, cmd.Duration)

	case CmdMaliciousSpike:
		return res, nil, s.gen.StartMaliciousSpike(cmd.Share, cmd.Duration)

	case CmdEndShift:
		if !s.gen.EndShift() {
			return res, nil, fmt.Errorf("end shift: %w", ErrNoOp)
		}
		return res, nil, nil
	}
	return res, nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
}

func (s *Simulator) node(id string) (*sim.ServiceNode, error) {
	n := s.net.Node(id)
	if n == nil {
		return nil, fmt.Errorf("node %q: %w", id, sim.ErrUnknownNode)
	}
	return n, nil
}

// placeNode adds a node of kind at tier. An empty id gets the next
// sequential node_N id.
func (s *Simulator) placeNode(id string, kind sim.NodeKind, tier int) (*sim.ServiceNode, error) {
	spec, ok := s.catalog.Spec(kind)
	if !ok {
		return nil, fmt.Errorf("place: unknown node kind %q", kind)
	}
	if id == "" {
		id = s.nextNodeName()
	}
	n := sim.NewServiceNode(id, spec, s.cfg.Degradation.CriticalHealth)
	if tier > 1 {
		if err := n.SetTier(tier); err != nil {
			return nil, err
		}
	}
	if err := s.net.AddNode(n); err != nil {
		return nil, err
	}
	logrus.Debugf("placed %s", n)
	return n, nil
}

func (s *Simulator) nextNodeName() string {
	for {
		s.nextNodeID++
		id := fmt.Sprintf("node_%d", s.nextNodeID)
		if s.net.Node(id) == nil {
			return id
		}
	}
}

// removeNode deletes a node and fails every request it held or that was in
// flight toward it.
func (s *Simulator) removeNode(id string, now float64) ([]sim.OutcomeEvent, error) {
	released, err := s.net.RemoveNode(id)
	if err != nil {
		return nil, err
	}
	events := make([]sim.OutcomeEvent, 0, len(released))
	for _, req := range released {
		events = append(events, sim.Resolve(req, sim.OutcomeFailed, sim.ReasonNodeRemoved, nil, now))
	}
	kept := s.inFlight[:0]
	for _, req := range s.inFlight {
		if req.NodeID == id {
			events = append(events, sim.Resolve(req, sim.OutcomeFailed, sim.ReasonNodeRemoved, nil, now))
			continue
		}
		kept = append(kept, req)
	}
	s.inFlight = kept
	logrus.Debugf("[%.2fs] removed %s, failed %d requests", now, id, len(events))
	return events, nil
}
