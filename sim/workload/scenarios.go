package workload

import "github.com/routesim/routesim/sim"

// Built-in generator presets for the two game modes.
// Each returns a valid GeneratorSpec over the default registry.

// SurvivalDistribution is the steady-state mix of survival mode.
func SurvivalDistribution() Distribution {
	return Distribution{
		Fallback: sim.TrafficStatic,
		Weights: map[sim.TrafficKind]float64{
			sim.TrafficStatic:    0.30,
			sim.TrafficRead:      0.25,
			sim.TrafficWrite:     0.15,
			sim.TrafficUpload:    0.08,
			sim.TrafficSearch:    0.10,
			sim.TrafficMalicious: 0.12,
		},
	}
}

// SandboxDistribution is the editable starting mix of sandbox mode.
// It carries no malicious traffic until the user adds some.
func SandboxDistribution() Distribution {
	return Distribution{
		Fallback: sim.TrafficStatic,
		Weights: map[sim.TrafficKind]float64{
			sim.TrafficStatic: 0.30,
			sim.TrafficRead:   0.30,
			sim.TrafficWrite:  0.20,
			sim.TrafficUpload: 0.10,
			sim.TrafficSearch: 0.10,
		},
	}
}

// ShiftPresets are the temporary mixes rotated through by scheduled shifts.
func ShiftPresets() []NamedDistribution {
	return []NamedDistribution{
		{Name: "read-heavy", Distribution: Distribution{Weights: map[sim.TrafficKind]float64{
			sim.TrafficStatic: 0.15, sim.TrafficRead: 0.55, sim.TrafficWrite: 0.10, sim.TrafficSearch: 0.15, sim.TrafficMalicious: 0.05,
		}}},
		{Name: "upload-surge", Distribution: Distribution{Weights: map[sim.TrafficKind]float64{
			sim.TrafficStatic: 0.20, sim.TrafficRead: 0.10, sim.TrafficWrite: 0.10, sim.TrafficUpload: 0.50, sim.TrafficMalicious: 0.10,
		}}},
		{Name: "search-storm", Distribution: Distribution{Weights: map[sim.TrafficKind]float64{
			sim.TrafficStatic: 0.10, sim.TrafficRead: 0.20, sim.TrafficWrite: 0.05, sim.TrafficSearch: 0.55, sim.TrafficMalicious: 0.10,
		}}},
		{Name: "static-flood", Distribution: Distribution{Weights: map[sim.TrafficKind]float64{
			sim.TrafficStatic: 0.70, sim.TrafficRead: 0.10, sim.TrafficUpload: 0.05, sim.TrafficMalicious: 0.15,
		}}},
	}
}

// SurvivalSpec ramps the rate up over time and schedules malicious spikes
// and traffic shifts.
func SurvivalSpec() GeneratorSpec {
	return GeneratorSpec{
		BaseRate:     0.5,
		Distribution: SurvivalDistribution(),
		Milestones: []Milestone{
			{At: 60, Multiplier: 1.5},
			{At: 120, Multiplier: 2},
			{At: 180, Multiplier: 3},
			{At: 300, Multiplier: 4},
			{At: 480, Multiplier: 6},
			{At: 720, Multiplier: 8},
		},
		MaliciousSpike: &SpikeSchedule{Interval: 90, Duration: 15, Share: 0.5},
		TrafficShifts:  &ShiftSchedule{Interval: 45, Duration: 20, Presets: ShiftPresets()},
	}
}

// SandboxSpec is a flat rate with no scheduled interventions.
func SandboxSpec() GeneratorSpec {
	return GeneratorSpec{
		BaseRate:     1,
		Distribution: SandboxDistribution(),
	}
}
