package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey is the seed of a run. The same key, configuration and
// command sequence reproduce the same outcome events.
type SimulationKey int64

// NewSimulationKey wraps a configured seed.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Random streams used by the simulator. Nodes get one stream each, named by
// SubsystemNode.
const (
	SubsystemWorkload  = "workload"  // traffic kind draws and shift picks; seeded with the key itself
	SubsystemIncidents = "incidents" // incident kind and target node
)

// SubsystemNode names the stream of a placed node. Failure and cache-hit
// rolls come from it, so placing or removing a node leaves every other
// node's sequence untouched.
func SubsystemNode(id string) string {
	return fmt.Sprintf("node_%s", id)
}

// PartitionedRNG hands out one *rand.Rand per named stream. The workload
// stream is seeded with the key; any other stream with key XOR fnv1a64(name).
// Streams are created on first use and cached.
//
// Not safe for concurrent use; the step loop is its only caller.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG returns an RNG with no streams created yet.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	rng, ok := p.subsystems[name]
	if !ok {
		rng = rand.New(rand.NewSource(p.seedFor(name)))
		p.subsystems[name] = rng
	}
	return rng
}

func (p *PartitionedRNG) seedFor(name string) int64 {
	if name == SubsystemWorkload {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// Key returns the run seed.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
