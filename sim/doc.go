// Package sim provides the step-driven core of routesim: typed requests
// moving through a user-built network of service nodes.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - request.go: Request lifecycle (in_flight → queued → processing → resolved)
//   - node.go: ServiceNode admission, processing, health and tiers
//   - completion.go: the per-kind completion dispatch table
//   - network.go: node ownership, topology lookups and the sanctioned forward
//
// # Architecture
//
// The sim package holds the node state machine and routing helpers; the
// orchestration lives in sub-packages:
//   - sim/workload/: traffic generation (rate accumulator, weighted kind
//     sampling, milestones, shifts, bursts)
//   - sim/cluster/: the Simulator that owns the network and runs steps,
//     commands, incidents and snapshots
//   - sim/trace/: optional outcome and node-sample recording
//
// Nothing in sim/ starts goroutines or reads the wall clock. Time advances
// only through the dt passed to each step, and every random draw comes from
// a PartitionedRNG stream.
package sim
