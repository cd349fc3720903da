package sim

import (
	"errors"
	"fmt"
	"math"
)

// TrafficKind names a category of synthetic request.
type TrafficKind string

const (
	TrafficStatic    TrafficKind = "STATIC"
	TrafficRead      TrafficKind = "READ"
	TrafficWrite     TrafficKind = "WRITE"
	TrafficUpload    TrafficKind = "UPLOAD"
	TrafficSearch    TrafficKind = "SEARCH"
	TrafficMalicious TrafficKind = "MALICIOUS"
)

// ErrUnknownTrafficKind is returned when a kind has no registered spec.
var ErrUnknownTrafficKind = errors.New("unknown traffic kind")

// TrafficTypeSpec holds the behavioral parameters of one traffic kind.
type TrafficTypeSpec struct {
	Kind             TrafficKind `yaml:"kind" json:"kind"`
	Destination      NodeKind    `yaml:"destination" json:"destination"`
	Cacheable        bool        `yaml:"cacheable" json:"cacheable"`
	CacheHitRate     float64     `yaml:"cache_hit_rate" json:"cache_hit_rate"`
	ProcessingWeight float64     `yaml:"processing_weight" json:"processing_weight"`
	Reward           float64     `yaml:"reward" json:"reward"`
	ScoreWeight      float64     `yaml:"score" json:"score"`
}

// Validate checks parameter ranges.
func (s TrafficTypeSpec) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("traffic type: kind must not be empty")
	}
	if s.Destination == "" {
		return fmt.Errorf("traffic type %s: destination must not be empty", s.Kind)
	}
	if math.IsNaN(s.CacheHitRate) || s.CacheHitRate < 0 || s.CacheHitRate > 1 {
		return fmt.Errorf("traffic type %s: cache_hit_rate must be in [0,1], got %f", s.Kind, s.CacheHitRate)
	}
	if math.IsNaN(s.ProcessingWeight) || math.IsInf(s.ProcessingWeight, 0) || s.ProcessingWeight <= 0 {
		return fmt.Errorf("traffic type %s: processing_weight must be positive, got %f", s.Kind, s.ProcessingWeight)
	}
	return nil
}

// Registry is the immutable table of traffic kinds.
// Kinds() preserves registration order, which the generator uses as its
// stable sampling order.
type Registry struct {
	order []TrafficKind
	specs map[TrafficKind]TrafficTypeSpec
}

// NewRegistry builds a registry from specs. Duplicate kinds are rejected.
func NewRegistry(specs []TrafficTypeSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("registry: at least one traffic type required")
	}
	r := &Registry{
		order: make([]TrafficKind, 0, len(specs)),
		specs: make(map[TrafficKind]TrafficTypeSpec, len(specs)),
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if _, dup := r.specs[s.Kind]; dup {
			return nil, fmt.Errorf("registry: duplicate traffic kind %q", s.Kind)
		}
		r.order = append(r.order, s.Kind)
		r.specs[s.Kind] = s
	}
	return r, nil
}

// Lookup returns the spec for kind.
func (r *Registry) Lookup(kind TrafficKind) (TrafficTypeSpec, error) {
	s, ok := r.specs[kind]
	if !ok {
		return TrafficTypeSpec{}, fmt.Errorf("%w: %q", ErrUnknownTrafficKind, kind)
	}
	return s, nil
}

// MustLookup is Lookup for kinds that were already validated. Panics otherwise.
func (r *Registry) MustLookup(kind TrafficKind) TrafficTypeSpec {
	s, err := r.Lookup(kind)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind TrafficKind) bool {
	_, ok := r.specs[kind]
	return ok
}

// Kinds returns the registered kinds in registration order.
// The returned slice is a copy.
func (r *Registry) Kinds() []TrafficKind {
	out := make([]TrafficKind, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns all specs in registration order.
func (r *Registry) Specs() []TrafficTypeSpec {
	out := make([]TrafficTypeSpec, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.specs[k])
	}
	return out
}

// DefaultTrafficTypes is the stock traffic table.
func DefaultTrafficTypes() []TrafficTypeSpec {
	return []TrafficTypeSpec{
		{Kind: TrafficStatic, Destination: KindObjectStore, Cacheable: true, CacheHitRate: 0.9, ProcessingWeight: 0.5, Reward: 0.5, ScoreWeight: 3},
		{Kind: TrafficRead, Destination: KindDatabase, Cacheable: true, CacheHitRate: 0.4, ProcessingWeight: 1.0, Reward: 1.0, ScoreWeight: 5},
		{Kind: TrafficWrite, Destination: KindDatabase, Cacheable: false, ProcessingWeight: 1.2, Reward: 1.5, ScoreWeight: 8},
		{Kind: TrafficUpload, Destination: KindObjectStore, Cacheable: false, ProcessingWeight: 1.5, Reward: 2.0, ScoreWeight: 10},
		{Kind: TrafficSearch, Destination: KindDatabase, Cacheable: true, CacheHitRate: 0.15, ProcessingWeight: 2.5, Reward: 1.5, ScoreWeight: 8},
		{Kind: TrafficMalicious, Destination: DestinationBlocked, Cacheable: false, ProcessingWeight: 1.0, Reward: 0, ScoreWeight: 10},
	}
}

// DefaultRegistry returns a registry over DefaultTrafficTypes.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTrafficTypes())
	if err != nil {
		panic(fmt.Sprintf("default traffic table invalid: %v", err))
	}
	return r
}
