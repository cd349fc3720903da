// Defines the Request struct that models a single unit of synthetic traffic.
// Tracks the traffic parameters copied from the registry and the lifecycle state.

package sim

import (
	"fmt"
)

// RequestState represents the lifecycle state of a request.
type RequestState string

const (
	StateInFlight   RequestState = "in_flight"
	StateQueued     RequestState = "queued"
	StateProcessing RequestState = "processing"
	StateResolved   RequestState = "resolved"
)

// Request models one request moving through the network.
// Exactly one holder owns a request at any time: the simulator's in-flight
// set, a node's queue, or a node's processing set. Every hop is a move.
type Request struct {
	ID string // Unique identifier for the request

	Kind             TrafficKind
	Destination      NodeKind // node kind that may finish this request
	Cacheable        bool
	CacheHitRate     float64
	ProcessingWeight float64 // scales processing time on compute nodes only

	Cached bool // set when served from a cache node

	State  RequestState
	NodeID string // InFlight: target; Queued/Processing: holder; Resolved: resolving node (may be empty)

	Outcome Outcome       // zero until Resolved
	Reason  FailureReason // detail for Blocked/Failed outcomes

	Hops       int     // number of node queues entered
	CreatedAt  float64 // simulation clock (seconds) at creation
	ResolvedAt float64
}

// NewRequest creates a request carrying the parameters of spec.
// The request starts InFlight with no target; the caller points it at a node.
func NewRequest(id string, spec TrafficTypeSpec, now float64) *Request {
	return &Request{
		ID:               id,
		Kind:             spec.Kind,
		Destination:      spec.Destination,
		Cacheable:        spec.Cacheable,
		CacheHitRate:     spec.CacheHitRate,
		ProcessingWeight: spec.ProcessingWeight,
		State:            StateInFlight,
		CreatedAt:        now,
	}
}

// IsMalicious reports whether the request belongs to the malicious kind.
func (req *Request) IsMalicious() bool {
	return req.Kind == TrafficMalicious
}

// Held reports whether a node currently owns the request.
func (req *Request) Held() bool {
	return req.State == StateQueued || req.State == StateProcessing
}

// This method returns a human-readable string representation of a Request.
func (req Request) String() string {
	return fmt.Sprintf("Request: (ID: %s, Kind: %s, State: %s, Node: %s)", req.ID, req.Kind, req.State, req.NodeID)
}
