package sim

import (
	"errors"
	"fmt"
)

// EntryPointID is the virtual node that injects generated traffic.
// It has outbound edges but no queue or processing.
const EntryPointID = "internet"

var (
	ErrSelfLink      = errors.New("cannot link a node to itself")
	ErrDuplicateLink = errors.New("link already exists")
	ErrNoSuchLink    = errors.New("no such link")
)

// Connection is a directed edge in the topology.
type Connection struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

func (c Connection) String() string {
	return c.From + "->" + c.To
}

// Topology is a directed graph over node IDs. Outbound edges keep
// insertion order so routing and round-robin are deterministic.
type Topology struct {
	edges []Connection
	out   map[string][]string
}

// NewTopology returns an empty graph.
func NewTopology() *Topology {
	return &Topology{out: make(map[string][]string)}
}

// Link adds the edge from -> to.
func (t *Topology) Link(from, to string) error {
	if from == to {
		return fmt.Errorf("link %s->%s: %w", from, to, ErrSelfLink)
	}
	if t.HasLink(from, to) {
		return fmt.Errorf("link %s->%s: %w", from, to, ErrDuplicateLink)
	}
	t.edges = append(t.edges, Connection{From: from, To: to})
	t.out[from] = append(t.out[from], to)
	return nil
}

// Unlink removes the edge from -> to.
func (t *Topology) Unlink(from, to string) error {
	if !t.HasLink(from, to) {
		return fmt.Errorf("unlink %s->%s: %w", from, to, ErrNoSuchLink)
	}
	t.edges = removeConnection(t.edges, func(c Connection) bool { return c.From == from && c.To == to })
	t.out[from] = removeString(t.out[from], to)
	if len(t.out[from]) == 0 {
		delete(t.out, from)
	}
	return nil
}

// HasLink reports whether the edge from -> to exists.
func (t *Topology) HasLink(from, to string) bool {
	for _, id := range t.out[from] {
		if id == to {
			return true
		}
	}
	return false
}

// Outbound returns the targets of from in insertion order.
// The returned slice MUST NOT be modified.
func (t *Topology) Outbound(from string) []string {
	return t.out[from]
}

// RemoveNode drops every edge touching id and returns how many were removed.
func (t *Topology) RemoveNode(id string) int {
	before := len(t.edges)
	t.edges = removeConnection(t.edges, func(c Connection) bool { return c.From == id || c.To == id })
	delete(t.out, id)
	for from, targets := range t.out {
		t.out[from] = removeString(targets, id)
		if len(t.out[from]) == 0 {
			delete(t.out, from)
		}
	}
	return before - len(t.edges)
}

// Connections returns a copy of every edge in insertion order.
func (t *Topology) Connections() []Connection {
	out := make([]Connection, len(t.edges))
	copy(out, t.edges)
	return out
}

func removeConnection(edges []Connection, drop func(Connection) bool) []Connection {
	kept := edges[:0]
	for _, c := range edges {
		if !drop(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func removeString(ids []string, target string) []string {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			kept = append(kept, id)
		}
	}
	return kept
}
