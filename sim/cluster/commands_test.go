package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/workload"
)

func emptySimulator(t *testing.T) *Simulator {
	t.Helper()
	return newTestSimulator(t, DefaultConfig(ModeSandbox))
}

func apply(t *testing.T, s *Simulator, cmds ...Command) StepResult {
	t.Helper()
	res := step(t, s, StepInput{DT: 0, Rate: rate(0), Commands: cmds})
	require.Len(t, res.Commands, len(cmds))
	return res
}

func TestCommand_PlaceAssignsSequentialIDs(t *testing.T) {
	// GIVEN a node already using the id the counter would produce second
	s := emptySimulator(t)
	apply(t, s, Command{Type: CmdPlace, Kind: sim.KindDatabase, NodeID: "node_2"})

	// WHEN two nodes are placed without ids
	res := apply(t, s,
		Command{Type: CmdPlace, Kind: sim.KindCompute},
		Command{Type: CmdPlace, Kind: sim.KindCache},
	)

	// THEN the counter skips the taken id and the price is reported
	assert.Equal(t, "node_1", res.Commands[0].NodeID)
	assert.Equal(t, 60.0, res.Commands[0].Cost)
	assert.Equal(t, "node_3", res.Commands[1].NodeID)
	assert.Equal(t, []string{"node_2", "node_1", "node_3"}, nodeIDs(s))
}

func TestCommand_PlaceRejectsUnknownKindAndDuplicates(t *testing.T) {
	s := emptySimulator(t)
	res := apply(t, s,
		Command{Type: CmdPlace, Kind: "mainframe"},
		Command{Type: CmdPlace, Kind: sim.KindFirewall, NodeID: "edge"},
		Command{Type: CmdPlace, Kind: sim.KindFirewall, NodeID: "edge"},
		Command{Type: CmdPlace, Kind: sim.KindFirewall, NodeID: sim.EntryPointID},
	)
	assert.False(t, res.Commands[0].OK())
	assert.True(t, res.Commands[1].OK())
	assert.False(t, res.Commands[2].OK())
	assert.False(t, res.Commands[3].OK())
	assert.Equal(t, 1, s.Network().Len())
}

func TestCommand_FailureDoesNotAbortStep(t *testing.T) {
	s := emptySimulator(t)

	res := apply(t, s,
		Command{Type: CmdLink, From: "ghost", To: "nowhere"},
		Command{Type: CmdPlace, Kind: sim.KindObjectStore, NodeID: "s3"},
		Command{Type: CmdLink, From: sim.EntryPointID, To: "s3"},
		Command{Type: CmdLink, From: sim.EntryPointID, To: "s3"},
		Command{Type: "teleport"},
	)

	assert.Contains(t, res.Commands[0].Error, sim.ErrUnknownNode.Error())
	assert.True(t, res.Commands[1].OK())
	assert.True(t, res.Commands[2].OK())
	assert.Contains(t, res.Commands[3].Error, sim.ErrDuplicateLink.Error())
	assert.Contains(t, res.Commands[4].Error, ErrUnknownCommand.Error())
	assert.Equal(t, "s3", s.Network().EntryTarget().ID)
}

func TestCommand_Unlink(t *testing.T) {
	s := newTestSimulator(t, sandboxConfig())

	res := apply(t, s,
		Command{Type: CmdUnlink, From: "cache", To: "db"},
		Command{Type: CmdUnlink, From: "cache", To: "db"},
	)

	assert.True(t, res.Commands[0].OK())
	assert.Contains(t, res.Commands[1].Error, sim.ErrNoSuchLink.Error())
	assert.Nil(t, s.Network().FindConnected("cache", sim.KindDatabase))
}

func TestCommand_RemoveFailsHeldAndInFlightRequests(t *testing.T) {
	// GIVEN ten requests in flight toward the firewall
	s := newTestSimulator(t, sandboxConfig())
	step(t, s, StepInput{DT: 1, Rate: rate(10)})
	require.Equal(t, 10, s.InFlight())

	// WHEN the firewall is removed
	res := apply(t, s, Command{Type: CmdRemove, NodeID: "waf"})

	// THEN every one of them fails and the entry point has no route left
	assert.Equal(t, 10, countOutcomes(res.Events, sim.OutcomeFailed, sim.ReasonNodeRemoved))
	assert.Zero(t, s.InFlight())
	assert.Nil(t, s.Network().EntryTarget())
	for _, c := range s.Network().Connections() {
		assert.NotEqual(t, "waf", c.From)
		assert.NotEqual(t, "waf", c.To)
	}
}

func TestCommand_RemoveFailsQueuedAndProcessing(t *testing.T) {
	// GIVEN the compute node holding work in service and in its queue
	s := newTestSimulator(t, sandboxConfig())
	compute := s.Network().Node("compute")
	for i := 0; i < 6; i++ {
		req := sim.NewRequest("r", sim.DefaultRegistry().MustLookup(sim.TrafficWrite), 0)
		req.ID = req.ID + string(rune('a'+i))
		s.Network().Forward(req, compute)
	}
	apply(t, s)
	require.Equal(t, 4, compute.ProcessingLen())
	require.Equal(t, 2, compute.QueueLen())

	// WHEN it is removed
	res := apply(t, s, Command{Type: CmdRemove, NodeID: "compute"})

	// THEN all six fail with node-removed and the metrics see them
	assert.Equal(t, 6, countOutcomes(res.Events, sim.OutcomeFailed, sim.ReasonNodeRemoved))
	assert.Equal(t, 6, s.Metrics().FailuresByReason[sim.ReasonNodeRemoved])
	assert.Nil(t, s.Network().Node("compute"))

	res = apply(t, s, Command{Type: CmdRemove, NodeID: "compute"})
	assert.Contains(t, res.Commands[0].Error, sim.ErrUnknownNode.Error())
}

func TestCommand_RepairChargesOnlyWhenDamaged(t *testing.T) {
	s := newTestSimulator(t, sandboxConfig())
	compute := s.Network().Node("compute")

	res := apply(t, s, Command{Type: CmdRepair, NodeID: "compute"})
	assert.Contains(t, res.Commands[0].Error, ErrNoOp.Error())

	compute.Health = 40
	res = apply(t, s, Command{Type: CmdRepair, NodeID: "compute"})
	require.True(t, res.Commands[0].OK())
	assert.Equal(t, 9.0, res.Commands[0].Cost)
	assert.Equal(t, sim.MaxHealth, compute.Health)
	assert.Equal(t, 9.0, s.Metrics().RepairSpent)
}

func TestCommand_UpgradeWalksTierTable(t *testing.T) {
	s := newTestSimulator(t, sandboxConfig())
	up := Command{Type: CmdUpgrade, NodeID: "compute"}

	res := apply(t, s, up, up, up, Command{Type: CmdUpgrade, NodeID: "waf"})

	assert.Equal(t, 100.0, res.Commands[0].Cost)
	assert.Equal(t, 180.0, res.Commands[1].Cost)
	assert.Contains(t, res.Commands[2].Error, ErrNoOp.Error())
	assert.Contains(t, res.Commands[3].Error, ErrNoOp.Error())
	compute := s.Network().Node("compute")
	assert.Equal(t, 3, compute.Tier)
	assert.Equal(t, 18, compute.Capacity)
}

func TestCommand_CapacityFactorAndDisable(t *testing.T) {
	s := newTestSimulator(t, sandboxConfig())

	res := apply(t, s,
		Command{Type: CmdSetCapacityFactor, NodeID: "db", Factor: 1.5},
		Command{Type: CmdSetCapacityFactor, NodeID: "db", Factor: 0.5},
		Command{Type: CmdSetDisabled, NodeID: "s3", Disabled: true},
	)

	assert.False(t, res.Commands[0].OK())
	assert.True(t, res.Commands[1].OK())
	assert.Equal(t, 4, s.Network().Node("db").EffectiveCapacity())
	assert.Equal(t, 0, s.Network().Node("s3").EffectiveCapacity())
}

func TestCommand_BurstLaunchesImmediately(t *testing.T) {
	s := newTestSimulator(t, sandboxConfig())

	res := apply(t, s,
		Command{Type: CmdBurst, Traffic: sim.TrafficStatic, Count: 7},
		Command{Type: CmdBurst, Traffic: "VIDEO", Count: 1},
	)

	assert.True(t, res.Commands[0].OK())
	assert.Contains(t, res.Commands[1].Error, sim.ErrUnknownTrafficKind.Error())
	assert.Equal(t, 7, s.Metrics().Generated)
	assert.Equal(t, 7, s.Network().Node("waf").ProcessingLen(), "bursts reach the entry node in the step they are issued")
}

func TestCommand_ShiftsShareOneSlot(t *testing.T) {
	s := newTestSimulator(t, sandboxConfig())
	searches := workload.Distribution{Weights: map[sim.TrafficKind]float64{sim.TrafficSearch: 1}}

	res := apply(t, s,
		Command{Type: CmdShift, Name: "no-mix", Duration: 5},
		Command{Type: CmdShift, Name: "search-storm", Distribution: &searches, Duration: 5},
	)
	assert.False(t, res.Commands[0].OK())
	name, _, ok := s.Generator().ActiveShift()
	require.True(t, ok)
	assert.Equal(t, "search-storm", name)

	apply(t, s, Command{Type: CmdMaliciousSpike, Share: 0.5, Duration: 5})
	name, _, _ = s.Generator().ActiveShift()
	assert.Equal(t, workload.MaliciousSpikeName, name)

	res = apply(t, s, Command{Type: CmdEndShift}, Command{Type: CmdEndShift})
	assert.True(t, res.Commands[0].OK())
	assert.Contains(t, res.Commands[1].Error, ErrNoOp.Error())
	assert.Equal(t, workload.SandboxDistribution().Weights, s.Generator().Distribution().Weights)
}

func nodeIDs(s *Simulator) []string {
	var ids []string
	for _, n := range s.Network().Nodes() {
		ids = append(ids, n.ID)
	}
	return ids
}
