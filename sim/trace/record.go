// Package trace provides optional outcome and node-state recording for
// post-run analysis. This package has no dependencies on sim/ or
// sim/cluster/; it stores pure data types.
package trace

// OutcomeRecord captures the resolution of a single request.
type OutcomeRecord struct {
	RequestID   string  `json:"request_id"`
	Kind        string  `json:"kind"`
	Destination string  `json:"destination"`
	Outcome     string  `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	NodeID      string  `json:"node_id,omitempty"`
	Hops        int     `json:"hops"`
	Clock       float64 `json:"clock"`
	Latency     float64 `json:"latency"`
}

// NodeSample captures one node's state at the end of a step.
type NodeSample struct {
	Clock             float64 `json:"clock"`
	NodeID            string  `json:"node_id"`
	Kind              string  `json:"kind"`
	Queue             int     `json:"queue"`
	Processing        int     `json:"processing"`
	EffectiveCapacity int     `json:"effective_capacity"`
	Load              float64 `json:"load"`
	Health            float64 `json:"health"`
}
