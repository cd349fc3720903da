package workload

import (
	"fmt"
	"math"
	"sort"

	"github.com/routesim/routesim/sim"
)

// Milestone raises the rate multiplier once the elapsed time reaches At.
type Milestone struct {
	At         float64 `yaml:"at" json:"at"` // seconds of simulated time
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// SpikeSchedule periodically floods the mix with malicious traffic.
type SpikeSchedule struct {
	Interval float64 `yaml:"interval" json:"interval"` // seconds between spike starts
	Duration float64 `yaml:"duration" json:"duration"`
	Share    float64 `yaml:"share" json:"share"` // malicious share of the mix during the spike
}

// NamedDistribution is a preset mix used by scheduled traffic shifts.
type NamedDistribution struct {
	Name         string       `yaml:"name" json:"name"`
	Distribution Distribution `yaml:"distribution" json:"distribution"`
}

// ShiftSchedule periodically swaps the mix for one of Presets, in rotation.
type ShiftSchedule struct {
	Interval float64             `yaml:"interval" json:"interval"`
	Duration float64             `yaml:"duration" json:"duration"`
	Presets  []NamedDistribution `yaml:"presets" json:"presets"`
}

// GeneratorSpec configures a Generator. It is embedded inline in the
// cluster configuration file.
type GeneratorSpec struct {
	BaseRate       float64        `yaml:"base_rate"`
	Distribution   Distribution   `yaml:"distribution"`
	Milestones     []Milestone    `yaml:"milestones,omitempty"`
	MaliciousSpike *SpikeSchedule `yaml:"malicious_spike,omitempty"`
	TrafficShifts  *ShiftSchedule `yaml:"traffic_shifts,omitempty"`
}

// Validate checks rates, weights and schedules against reg.
func (s *GeneratorSpec) Validate(reg *sim.Registry) error {
	if err := validateFiniteNonNegative("base_rate", s.BaseRate); err != nil {
		return err
	}
	if err := s.Distribution.Validate(reg); err != nil {
		return err
	}
	for i, m := range s.Milestones {
		prefix := fmt.Sprintf("milestones[%d]", i)
		if err := validateFiniteNonNegative(prefix+".at", m.At); err != nil {
			return err
		}
		if err := validateFinitePositive(prefix+".multiplier", m.Multiplier); err != nil {
			return err
		}
	}
	if sp := s.MaliciousSpike; sp != nil {
		if err := validateFinitePositive("malicious_spike.interval", sp.Interval); err != nil {
			return err
		}
		if err := validateFinitePositive("malicious_spike.duration", sp.Duration); err != nil {
			return err
		}
		if sp.Share < 0 || sp.Share > 1 {
			return fmt.Errorf("malicious_spike.share must be in [0,1], got %f", sp.Share)
		}
	}
	if sh := s.TrafficShifts; sh != nil {
		if err := validateFinitePositive("traffic_shifts.interval", sh.Interval); err != nil {
			return err
		}
		if err := validateFinitePositive("traffic_shifts.duration", sh.Duration); err != nil {
			return err
		}
		if len(sh.Presets) == 0 {
			return fmt.Errorf("traffic_shifts: at least one preset required")
		}
		for i, p := range sh.Presets {
			if err := p.Distribution.Validate(reg); err != nil {
				return fmt.Errorf("traffic_shifts.presets[%d] %s: %w", i, p.Name, err)
			}
		}
	}
	return nil
}

// sortedMilestones returns a copy ordered by At.
func sortedMilestones(ms []Milestone) []Milestone {
	out := append([]Milestone(nil), ms...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}

func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}
