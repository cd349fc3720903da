package sim

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// testNode builds a node of kind from the default catalog.
func testNode(t *testing.T, id string, kind NodeKind) *ServiceNode {
	t.Helper()
	spec, ok := DefaultCatalog().Spec(kind)
	require.True(t, ok, "kind %s missing from catalog", kind)
	return NewServiceNode(id, spec, DefaultCriticalHealth)
}

// testNetwork places nodes and links them in the given order.
func testNetwork(t *testing.T, nodes []*ServiceNode, links ...Connection) *Network {
	t.Helper()
	nw := NewNetwork()
	for _, n := range nodes {
		require.NoError(t, nw.AddNode(n))
	}
	for _, l := range links {
		require.NoError(t, nw.Link(l.From, l.To))
	}
	return nw
}

func link(from, to string) Connection {
	return Connection{From: from, To: to}
}

// testRequest creates an in-flight request of kind from the default registry.
func testRequest(kind TrafficKind, i int) *Request {
	return NewRequest(fmt.Sprintf("request_%d", i), DefaultRegistry().MustLookup(kind), 0)
}

// neverFail is a random source whose Float64 is always 1-2^-53, so
// failure draws below 1 and cache-hit draws never succeed.
func neverFail() *rand.Rand {
	return rand.New(constSource(1<<63 - 1024))
}

// alwaysHit is a random source whose Float64 is always 0.
func alwaysHit() *rand.Rand {
	return rand.New(constSource(0))
}

type constSource int64

func (c constSource) Int63() int64 { return int64(c) }
func (c constSource) Seed(int64)   {}
