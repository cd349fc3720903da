package workload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/routesim/routesim/sim"
)

func TestDistribution_Sample_ConvergesToWeights(t *testing.T) {
	// GIVEN the survival mix and a seeded RNG
	reg := sim.DefaultRegistry()
	d := SurvivalDistribution()
	rng := rand.New(rand.NewSource(42))

	// WHEN drawing 20000 kinds
	const n = 20000
	counts := make(map[sim.TrafficKind]int)
	for i := 0; i < n; i++ {
		counts[d.Sample(rng, reg)]++
	}

	// THEN the observed counts pass a chi-square goodness-of-fit test at 99.9%
	chi2 := 0.0
	df := 0
	for _, k := range reg.Kinds() {
		expected := d.Share(k) * n
		if expected == 0 {
			continue
		}
		diff := float64(counts[k]) - expected
		chi2 += diff * diff / expected
		df++
	}
	critical := distuv.ChiSquared{K: float64(df - 1)}.Quantile(0.999)
	assert.Less(t, chi2, critical, "counts %v", counts)
}

func TestDistribution_Sample_ZeroWeightNeverDrawn(t *testing.T) {
	reg := sim.DefaultRegistry()
	d := SandboxDistribution()
	d.Weights[sim.TrafficUpload] = 0
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10000; i++ {
		k := d.Sample(rng, reg)
		require.NotEqual(t, sim.TrafficMalicious, k)
		require.NotEqual(t, sim.TrafficUpload, k)
	}
}

func TestDistribution_Sample_ZeroTotalUsesFallback(t *testing.T) {
	reg := sim.DefaultRegistry()
	rng := rand.New(rand.NewSource(1))

	d := Distribution{Weights: map[sim.TrafficKind]float64{sim.TrafficRead: 0}, Fallback: sim.TrafficSearch}
	assert.Equal(t, sim.TrafficSearch, d.Sample(rng, reg))

	// without an explicit fallback the first registered kind is used
	assert.Equal(t, sim.TrafficStatic, Distribution{}.Sample(rng, reg))
}

func TestDistribution_Validate(t *testing.T) {
	reg := sim.DefaultRegistry()
	assert.NoError(t, SurvivalDistribution().Validate(reg))

	unknown := Distribution{Weights: map[sim.TrafficKind]float64{"VIDEO": 1}}
	assert.ErrorIs(t, unknown.Validate(reg), sim.ErrUnknownTrafficKind)

	negative := Distribution{Weights: map[sim.TrafficKind]float64{sim.TrafficRead: -1}}
	assert.Error(t, negative.Validate(reg))

	badFallback := Distribution{Fallback: "VIDEO"}
	assert.ErrorIs(t, badFallback.Validate(reg), sim.ErrUnknownTrafficKind)
}

func TestDistribution_WithMaliciousShare_KeepsProportions(t *testing.T) {
	base := SandboxDistribution()

	spiked := base.WithMaliciousShare(0.5)

	assert.InDelta(t, 0.5, spiked.Share(sim.TrafficMalicious), 1e-12)
	assert.InDelta(t, base.Share(sim.TrafficRead)/base.Share(sim.TrafficWrite),
		spiked.Share(sim.TrafficRead)/spiked.Share(sim.TrafficWrite), 1e-12)
	assert.Zero(t, base.Weights[sim.TrafficMalicious], "base must not be mutated")
}

func TestPresets_Valid(t *testing.T) {
	reg := sim.DefaultRegistry()
	for _, spec := range []GeneratorSpec{SurvivalSpec(), SandboxSpec()} {
		assert.NoError(t, spec.Validate(reg))
	}
}
