package cluster

import "github.com/routesim/routesim/sim"

// NodeStatus is a read-only view of one node.
type NodeStatus struct {
	ID                 string       `json:"id"`
	Kind               sim.NodeKind `json:"kind"`
	Tier               int          `json:"tier"`
	Capacity           int          `json:"capacity"`
	EffectiveCapacity  int          `json:"effective_capacity"`
	Queue              int          `json:"queue"`
	MaxQueueSize       int          `json:"max_queue_size"`
	Processing         int          `json:"processing"`
	QueueHead          string       `json:"queue_head,omitempty"`
	OldestWait         float64      `json:"oldest_wait"` // seconds since the queue head was created
	RoundRobinCursor   int          `json:"round_robin_cursor"`
	Load               float64      `json:"load"`
	Health             float64      `json:"health"`
	TempCapacityFactor float64      `json:"temp_capacity_factor"`
	Disabled           bool         `json:"disabled"`
	Upgradable         bool         `json:"upgradable"`
	RepairCost         float64      `json:"repair_cost"`
}

// Status summarizes the simulator for dashboards and the status endpoint.
type Status struct {
	Clock            float64          `json:"clock"`
	Steps            int64            `json:"steps"`
	Mode             Mode             `json:"mode"`
	Rate             float64          `json:"rate"`
	Multiplier       float64          `json:"multiplier"`
	NextMilestoneIn  *float64         `json:"next_milestone_in,omitempty"`
	NextMultiplier   *float64         `json:"next_multiplier,omitempty"`
	ActiveShift      string           `json:"active_shift,omitempty"`
	Incident         *Incident        `json:"incident,omitempty"`
	InFlight         int              `json:"in_flight"`
	Generated        int              `json:"generated"`
	Resolved         int              `json:"resolved"`
	SuccessRate      float64          `json:"success_rate"`
	MaliciousBlocked int              `json:"malicious_blocked"`
	Reward           float64          `json:"reward"`
	Score            float64          `json:"score"`
	UpkeepSpent      float64          `json:"upkeep_spent"`
	RepairSpent      float64          `json:"repair_spent"`
	Nodes            []NodeStatus     `json:"nodes"`
	Connections      []sim.Connection `json:"connections"`
}

// Status builds a snapshot view of the current state.
func (s *Simulator) Status() Status {
	st := Status{
		Clock:            s.clock,
		Steps:            s.steps,
		Mode:             s.cfg.Mode,
		Rate:             s.gen.Rate(),
		Multiplier:       s.gen.Multiplier(),
		InFlight:         len(s.inFlight),
		Generated:        s.metrics.Generated,
		Resolved:         s.metrics.Resolved(),
		SuccessRate:      s.metrics.SuccessRate(),
		MaliciousBlocked: s.metrics.MaliciousBlocked,
		Reward:           s.metrics.Reward,
		Score:            s.metrics.Score,
		UpkeepSpent:      s.metrics.UpkeepSpent,
		RepairSpent:      s.metrics.RepairSpent,
		Connections:      s.net.Connections(),
	}
	if in, ok := s.gen.TimeUntilNextMilestone(); ok {
		st.NextMilestoneIn = &in
	}
	if m, ok := s.gen.NextMultiplier(); ok {
		st.NextMultiplier = &m
	}
	if name, _, ok := s.gen.ActiveShift(); ok {
		st.ActiveShift = name
	}
	if inc, ok := s.ActiveIncident(); ok {
		st.Incident = &inc
	}
	for _, n := range s.net.Nodes() {
		st.Nodes = append(st.Nodes, nodeStatus(n, s.cfg.Degradation.RepairCostPercent, s.clock))
	}
	return st
}

func nodeStatus(n *sim.ServiceNode, repairPercent, now float64) NodeStatus {
	spec := n.Spec()
	ns := NodeStatus{
		ID:                 n.ID,
		Kind:               n.Kind,
		Tier:               n.Tier,
		Capacity:           n.Capacity,
		EffectiveCapacity:  n.EffectiveCapacity(),
		Queue:              n.QueueLen(),
		MaxQueueSize:       n.MaxQueueSize,
		Processing:         n.ProcessingLen(),
		RoundRobinCursor:   n.RoundRobinCursor(),
		Load:               n.TotalLoad(),
		Health:             n.Health,
		TempCapacityFactor: n.TempCapacityFactor,
		Disabled:           n.Disabled,
		Upgradable:         spec.Upgradable() && n.Tier < spec.TierCount(),
		RepairCost:         n.RepairCost(repairPercent),
	}
	if head := n.QueueHead(); head != nil {
		ns.QueueHead = head.ID
		ns.OldestWait = now - head.CreatedAt
	}
	return ns
}
