package sim

// Outcome is the terminal resolution of a request.
type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeFailed   Outcome = "failed"
)

// FailureReason classifies Blocked and Failed outcomes.
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonMaliciousBlocked FailureReason = "malicious-blocked" // firewall dropped malicious traffic
	ReasonMisrouted        FailureReason = "misrouted"         // terminal node does not serve the destination
	ReasonUnreachable      FailureReason = "unreachable"       // no connected node satisfies the routing rule
	ReasonCapacity         FailureReason = "capacity"          // load/health driven failure draw
	ReasonMaliciousPassed  FailureReason = "malicious-passed"  // malicious traffic reached compute
	ReasonNodeRemoved      FailureReason = "node-removed"
	ReasonNoEntryRoute     FailureReason = "no-entry-route"
)

// OutcomeEvent is emitted once per resolved request.
// NodeKind is the kind of the node that resolved it; it is empty when no
// node was involved. Destination is the kind the request asked for, so a
// misrouted request shows both.
type OutcomeEvent struct {
	RequestID   string        `json:"request_id"`
	Kind        TrafficKind   `json:"kind"`
	Outcome     Outcome       `json:"outcome"`
	Reason      FailureReason `json:"reason,omitempty"`
	NodeID      string        `json:"node_id,omitempty"`
	NodeKind    NodeKind      `json:"node_kind,omitempty"`
	Destination NodeKind      `json:"destination"`
	Cached      bool          `json:"cached"`
	Hops        int           `json:"hops"`
	Clock       float64       `json:"clock"`
	Latency     float64       `json:"latency"` // seconds from creation to resolution
}

// Success reports whether the outcome counts as served traffic.
// A firewall block of malicious traffic is a success from the operator's view.
func (e OutcomeEvent) Success() bool {
	switch e.Outcome {
	case OutcomeFinished, OutcomeCacheHit:
		return true
	case OutcomeBlocked:
		return e.Reason == ReasonMaliciousBlocked
	}
	return false
}

// Resolve marks req as resolved and returns its outcome event.
// Panics if req was already resolved.
func Resolve(req *Request, outcome Outcome, reason FailureReason, node *ServiceNode, now float64) OutcomeEvent {
	if req.State == StateResolved {
		panic("Resolve: request " + req.ID + " resolved twice")
	}
	req.State = StateResolved
	req.Outcome = outcome
	req.Reason = reason
	req.ResolvedAt = now
	ev := OutcomeEvent{
		RequestID:   req.ID,
		Kind:        req.Kind,
		Outcome:     outcome,
		Reason:      reason,
		Destination: req.Destination,
		Cached:      req.Cached,
		Hops:        req.Hops,
		Clock:       now,
		Latency:     now - req.CreatedAt,
	}
	if node != nil {
		req.NodeID = node.ID
		ev.NodeID = node.ID
		ev.NodeKind = node.Kind
	} else {
		req.NodeID = ""
	}
	return ev
}
