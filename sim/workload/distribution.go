package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/routesim/routesim/sim"
)

// Distribution is a weighted traffic mix. Weights need not sum to 1; they
// are normalized at draw time. Fallback is drawn when every weight is 0.
type Distribution struct {
	Weights  map[sim.TrafficKind]float64 `yaml:"weights" json:"weights"`
	Fallback sim.TrafficKind             `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// Uniform returns equal weights over every kind in reg.
func Uniform(reg *sim.Registry) Distribution {
	d := Distribution{Weights: make(map[sim.TrafficKind]float64)}
	for _, k := range reg.Kinds() {
		d.Weights[k] = 1
	}
	return d
}

// Clone returns a deep copy.
func (d Distribution) Clone() Distribution {
	out := Distribution{Fallback: d.Fallback, Weights: make(map[sim.TrafficKind]float64, len(d.Weights))}
	for k, w := range d.Weights {
		out.Weights[k] = w
	}
	return out
}

// Total is the sum of all weights.
func (d Distribution) Total() float64 {
	total := 0.0
	for _, w := range d.Weights {
		total += w
	}
	return total
}

// Share returns the normalized weight of kind, 0 if the total is 0.
func (d Distribution) Share(kind sim.TrafficKind) float64 {
	total := d.Total()
	if total == 0 {
		return 0
	}
	return d.Weights[kind] / total
}

// Validate checks that every weighted kind is registered and every weight is
// finite and non-negative.
func (d Distribution) Validate(reg *sim.Registry) error {
	for k, w := range d.Weights {
		if !reg.Has(k) {
			return fmt.Errorf("distribution: %w: %q", sim.ErrUnknownTrafficKind, k)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("distribution: weight for %s must be a finite non-negative number, got %f", k, w)
		}
	}
	if d.Fallback != "" && !reg.Has(d.Fallback) {
		return fmt.Errorf("distribution fallback: %w: %q", sim.ErrUnknownTrafficKind, d.Fallback)
	}
	return nil
}

// fallback returns the configured fallback or the first registered kind.
func (d Distribution) fallback(reg *sim.Registry) sim.TrafficKind {
	if d.Fallback != "" {
		return d.Fallback
	}
	return reg.Kinds()[0]
}

// Sample draws one kind by walking the cumulative weights in registry order.
// Kinds with weight 0 are never drawn.
func (d Distribution) Sample(rng *rand.Rand, reg *sim.Registry) sim.TrafficKind {
	total := d.Total()
	if total <= 0 {
		return d.fallback(reg)
	}
	r := rng.Float64() * total
	cumulative := 0.0
	var last sim.TrafficKind
	for _, k := range reg.Kinds() {
		w := d.Weights[k]
		if w <= 0 {
			continue
		}
		cumulative += w
		last = k
		if r < cumulative {
			return k
		}
	}
	// floating point residue: r landed on the total
	if last != "" {
		return last
	}
	return d.fallback(reg)
}

// WithMaliciousShare rescales d so that MALICIOUS makes up share of the
// total while the other kinds keep their relative proportions.
func (d Distribution) WithMaliciousShare(share float64) Distribution {
	out := d.Clone()
	others := 0.0
	for k, w := range out.Weights {
		if k != sim.TrafficMalicious {
			others += w
		}
	}
	if others == 0 {
		out.Weights[sim.TrafficMalicious] = 1
		return out
	}
	for k, w := range out.Weights {
		if k != sim.TrafficMalicious {
			out.Weights[k] = w / others * (1 - share)
		}
	}
	out.Weights[sim.TrafficMalicious] = share
	return out
}
