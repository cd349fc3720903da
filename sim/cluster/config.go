package cluster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/trace"
	"github.com/routesim/routesim/sim/workload"
)

// Mode selects a preset bundle of generator, feature and incident settings.
type Mode string

const (
	ModeSurvival Mode = "survival"
	ModeSandbox  Mode = "sandbox"
)

// IsValidMode reports whether m names a known mode.
func IsValidMode(m string) bool {
	return Mode(m) == ModeSurvival || Mode(m) == ModeSandbox
}

// NodePlacement declares a node in a configured topology.
type NodePlacement struct {
	ID   string       `yaml:"id"`
	Kind sim.NodeKind `yaml:"kind"`
	Tier int          `yaml:"tier,omitempty"` // 0 means 1
}

// TopologySpec is a network built before the first step.
type TopologySpec struct {
	Nodes []NodePlacement  `yaml:"nodes"`
	Links []sim.Connection `yaml:"links"`
}

// Config is the full simulator configuration. The generator settings are
// inlined at the top level of the YAML document.
type Config struct {
	Seed int64 `yaml:"seed"`
	Mode Mode  `yaml:"mode"`

	workload.GeneratorSpec `yaml:",inline"`

	Degradation sim.DegradationConfig `yaml:"degradation"`
	Features    sim.StepFlags         `yaml:"features"`
	Incidents   *IncidentConfig       `yaml:"incidents,omitempty"`

	TrafficTypes []sim.TrafficTypeSpec `yaml:"traffic_types,omitempty"` // replaces the default table when set
	Services     sim.Catalog           `yaml:"services,omitempty"`      // per-kind overrides of the default catalog
	Topology     *TopologySpec         `yaml:"topology,omitempty"`

	Trace trace.TraceConfig `yaml:"trace,omitempty"`
}

// DefaultConfig returns the preset configuration for mode.
// Unknown modes fall back to survival.
func DefaultConfig(mode Mode) Config {
	if mode == ModeSandbox {
		return Config{
			Seed:          42,
			Mode:          ModeSandbox,
			GeneratorSpec: workload.SandboxSpec(),
			Degradation:   sim.DefaultDegradationConfig(),
			Trace:         trace.TraceConfig{Level: trace.TraceLevelNone},
		}
	}
	return Config{
		Seed:          42,
		Mode:          ModeSurvival,
		GeneratorSpec: workload.SurvivalSpec(),
		Degradation:   sim.DefaultDegradationConfig(),
		Features:      sim.StepFlags{Degradation: true, Upkeep: true},
		Incidents:     DefaultIncidentConfig(),
		Trace:         trace.TraceConfig{Level: trace.TraceLevelNone},
	}
}

// StarterTopology is a small network that serves every default traffic kind:
// internet → waf → alb → compute → {cache, db, s3}, cache → {db, s3}.
func StarterTopology() *TopologySpec {
	return &TopologySpec{
		Nodes: []NodePlacement{
			{ID: "waf", Kind: sim.KindFirewall},
			{ID: "alb", Kind: sim.KindLoadBalancer},
			{ID: "compute", Kind: sim.KindCompute},
			{ID: "cache", Kind: sim.KindCache},
			{ID: "db", Kind: sim.KindDatabase},
			{ID: "s3", Kind: sim.KindObjectStore},
		},
		Links: []sim.Connection{
			{From: sim.EntryPointID, To: "waf"},
			{From: "waf", To: "alb"},
			{From: "alb", To: "compute"},
			{From: "compute", To: "cache"},
			{From: "compute", To: "db"},
			{From: "compute", To: "s3"},
			{From: "cache", To: "db"},
			{From: "cache", To: "s3"},
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults of the
// mode it declares. Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig on an in-memory document.
func ParseConfig(data []byte) (*Config, error) {
	var probe struct {
		Mode         Mode       `yaml:"mode"`
		Distribution *yaml.Node `yaml:"distribution"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg := DefaultConfig(probe.Mode)
	if probe.Distribution != nil {
		// a declared mix replaces the preset instead of merging into it
		cfg.Distribution = workload.Distribution{}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSurvival
	}
	return &cfg, nil
}

// Registry builds the traffic registry the config describes.
func (c *Config) Registry() (*sim.Registry, error) {
	if len(c.TrafficTypes) == 0 {
		return sim.DefaultRegistry(), nil
	}
	return sim.NewRegistry(c.TrafficTypes)
}

// Catalog returns the default catalog with the configured overrides applied.
func (c *Config) Catalog() sim.Catalog {
	cat := sim.DefaultCatalog()
	for kind, spec := range c.Services {
		spec.Kind = kind
		cat[kind] = spec
	}
	return cat
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if !IsValidMode(string(c.Mode)) {
		return fmt.Errorf("unknown mode %q; valid: survival, sandbox", c.Mode)
	}
	reg, err := c.Registry()
	if err != nil {
		return err
	}
	for _, spec := range reg.Specs() {
		if spec.Destination != sim.DestinationBlocked && !sim.IsValidNodeKind(spec.Destination) {
			return fmt.Errorf("traffic type %s: unknown destination %q", spec.Kind, spec.Destination)
		}
	}
	if err := c.GeneratorSpec.Validate(reg); err != nil {
		return err
	}
	if err := validateDegradation(c.Degradation); err != nil {
		return err
	}
	if c.Incidents != nil {
		if err := c.Incidents.Validate(); err != nil {
			return err
		}
	}
	cat := c.Catalog()
	if err := cat.Validate(); err != nil {
		return err
	}
	if c.Topology != nil {
		if err := c.Topology.Validate(cat); err != nil {
			return err
		}
	}
	if !trace.IsValidTraceLevel(string(c.Trace.Level)) {
		return fmt.Errorf("unknown trace level %q; valid: none, outcomes, full", c.Trace.Level)
	}
	if c.Trace.MaxRecords < 0 {
		return fmt.Errorf("trace.max_records must be non-negative, got %d", c.Trace.MaxRecords)
	}
	return nil
}

func validateDegradation(d sim.DegradationConfig) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"degradation.decay_rate", d.DecayRate},
		{"degradation.repair_cost_percent", d.RepairCostPercent},
		{"degradation.auto_repair_rate", d.AutoRepairRate},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("%s must be a finite non-negative number, got %f", f.name, f.v)
		}
	}
	if d.CriticalHealth <= 0 || d.CriticalHealth > sim.MaxHealth {
		return fmt.Errorf("degradation.critical_health must be in (0,%g], got %f", sim.MaxHealth, d.CriticalHealth)
	}
	return nil
}

// Validate checks that every node kind and tier exists and every link
// references a declared node or the entry point.
func (t *TopologySpec) Validate(cat sim.Catalog) error {
	ids := map[string]bool{sim.EntryPointID: true}
	for i, n := range t.Nodes {
		spec, ok := cat.Spec(n.Kind)
		if !ok {
			return fmt.Errorf("topology.nodes[%d]: unknown kind %q", i, n.Kind)
		}
		if n.Tier < 0 || n.Tier > spec.TierCount() {
			return fmt.Errorf("topology.nodes[%d]: tier %d out of range [1,%d]", i, n.Tier, spec.TierCount())
		}
		if n.ID == "" {
			continue
		}
		if ids[n.ID] {
			return fmt.Errorf("topology.nodes[%d]: duplicate or reserved id %q", i, n.ID)
		}
		ids[n.ID] = true
	}
	for i, l := range t.Links {
		if !ids[l.From] || !ids[l.To] || l.To == sim.EntryPointID {
			return fmt.Errorf("topology.links[%d]: %s references an undeclared node", i, l)
		}
	}
	return nil
}
