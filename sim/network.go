package sim

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrReservedID    = errors.New("reserved node id")
)

// Network owns every placed node and the topology between them.
// Nodes are kept in creation order, which is also the per-step update order.
//
// Thread-safety: NOT thread-safe.
type Network struct {
	nodes []*ServiceNode
	index map[string]*ServiceNode
	topo  *Topology
}

// NewNetwork returns an empty network containing only the entry point.
func NewNetwork() *Network {
	return &Network{
		index: make(map[string]*ServiceNode),
		topo:  NewTopology(),
	}
}

// AddNode registers n after every existing node.
func (nw *Network) AddNode(n *ServiceNode) error {
	if n.ID == EntryPointID {
		return fmt.Errorf("add %s: %w", n.ID, ErrReservedID)
	}
	if _, ok := nw.index[n.ID]; ok {
		return fmt.Errorf("add %s: %w", n.ID, ErrDuplicateNode)
	}
	nw.nodes = append(nw.nodes, n)
	nw.index[n.ID] = n
	return nil
}

// RemoveNode deletes a node and all edges touching it. The requests it held
// are returned InFlight so the caller can resolve them.
func (nw *Network) RemoveNode(id string) ([]*Request, error) {
	n, ok := nw.index[id]
	if !ok {
		return nil, fmt.Errorf("remove %s: %w", id, ErrUnknownNode)
	}
	delete(nw.index, id)
	for i, cand := range nw.nodes {
		if cand == n {
			nw.nodes = append(nw.nodes[:i], nw.nodes[i+1:]...)
			break
		}
	}
	nw.topo.RemoveNode(id)
	return n.release(), nil
}

// Node returns the node with id, or nil.
func (nw *Network) Node(id string) *ServiceNode {
	return nw.index[id]
}

// Nodes returns every node in creation order. MUST NOT be modified.
func (nw *Network) Nodes() []*ServiceNode {
	return nw.nodes
}

// Len returns the number of placed nodes.
func (nw *Network) Len() int {
	return len(nw.nodes)
}

// Link adds a directed edge. from may be the entry point; to must be a node.
func (nw *Network) Link(from, to string) error {
	if from != EntryPointID && nw.index[from] == nil {
		return fmt.Errorf("link from %s: %w", from, ErrUnknownNode)
	}
	if nw.index[to] == nil {
		return fmt.Errorf("link to %s: %w", to, ErrUnknownNode)
	}
	return nw.topo.Link(from, to)
}

// Unlink removes a directed edge.
func (nw *Network) Unlink(from, to string) error {
	return nw.topo.Unlink(from, to)
}

// Connections returns every edge in insertion order.
func (nw *Network) Connections() []Connection {
	return nw.topo.Connections()
}

// Connected returns the nodes reachable over one outbound edge of id,
// in edge insertion order.
func (nw *Network) Connected(id string) []*ServiceNode {
	targets := nw.topo.Outbound(id)
	out := make([]*ServiceNode, 0, len(targets))
	for _, t := range targets {
		if n := nw.index[t]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// FindConnected returns the first outbound neighbour of id with the given kind.
func (nw *Network) FindConnected(id string, kind NodeKind) *ServiceNode {
	for _, t := range nw.topo.Outbound(id) {
		if n := nw.index[t]; n != nil && n.Kind == kind {
			return n
		}
	}
	return nil
}

// EntryTarget is the first node linked from the entry point, or nil.
func (nw *Network) EntryTarget() *ServiceNode {
	for _, t := range nw.topo.Outbound(EntryPointID) {
		if n := nw.index[t]; n != nil {
			return n
		}
	}
	return nil
}

// Forward moves req from its current holder into to's queue.
// Panics if to is not part of this network.
func (nw *Network) Forward(req *Request, to *ServiceNode) {
	if nw.index[to.ID] != to {
		panic(fmt.Sprintf("Forward: %s is not in the network", to.ID))
	}
	req.State = StateInFlight
	to.Enqueue(req)
}

// Deliver hands an in-flight request to the node it targets. Returns false
// if the target no longer exists; the request is left untouched.
func (nw *Network) Deliver(req *Request) bool {
	if req.State != StateInFlight {
		panic(fmt.Sprintf("Deliver: request %s is %s, want %s", req.ID, req.State, StateInFlight))
	}
	target := nw.index[req.NodeID]
	if target == nil {
		return false
	}
	target.Enqueue(req)
	return true
}

// CheckInvariants verifies that every held request is held exactly once and
// that its recorded holder and state agree with where it actually sits.
func (nw *Network) CheckInvariants() error {
	seen := make(map[string]string)
	check := func(n *ServiceNode, r *Request, want RequestState) error {
		if prev, ok := seen[r.ID]; ok {
			return fmt.Errorf("request %s held by both %s and %s", r.ID, prev, n.ID)
		}
		seen[r.ID] = n.ID
		if r.NodeID != n.ID || r.State != want {
			return fmt.Errorf("request %s sits in %s as %s but records %s/%s", r.ID, n.ID, want, r.NodeID, r.State)
		}
		return nil
	}
	for _, n := range nw.nodes {
		for _, r := range n.queue.Items() {
			if err := check(n, r, StateQueued); err != nil {
				return err
			}
		}
		for _, j := range n.processing {
			if err := check(n, j.req, StateProcessing); err != nil {
				return err
			}
		}
		if len(n.processing) > n.Capacity && n.Capacity > 0 {
			return fmt.Errorf("node %s processing %d over capacity %d", n.ID, len(n.processing), n.Capacity)
		}
	}
	return nil
}

// Held returns the number of requests held by nodes.
func (nw *Network) Held() int {
	total := 0
	for _, n := range nw.nodes {
		total += n.queue.Len() + len(n.processing)
	}
	return total
}
