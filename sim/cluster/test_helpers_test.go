package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routesim/routesim/sim"
)

// sandboxConfig is a quiet configuration over the starter topology:
// no degradation, no upkeep, no incidents, no scheduled interventions.
func sandboxConfig() Config {
	cfg := DefaultConfig(ModeSandbox)
	cfg.Topology = StarterTopology()
	return cfg
}

func newTestSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	s, err := NewSimulator(cfg)
	require.NoError(t, err)
	return s
}

func rate(r float64) *float64 {
	return &r
}

// step advances s by dt and fails the test on an invalid dt or a broken
// ownership invariant.
func step(t *testing.T, s *Simulator, in StepInput) StepResult {
	t.Helper()
	res, err := s.Step(in)
	require.NoError(t, err)
	require.NoError(t, s.CheckInvariants())
	return res
}

func countOutcomes(events []sim.OutcomeEvent, outcome sim.Outcome, reason sim.FailureReason) int {
	n := 0
	for _, ev := range events {
		if ev.Outcome == outcome && ev.Reason == reason {
			n++
		}
	}
	return n
}

func nan() float64 { return math.NaN() }

func inf() float64 { return math.Inf(1) }
