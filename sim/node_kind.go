package sim

import (
	"fmt"
	"math"
)

// NodeKind is the closed set of infrastructure node types.
type NodeKind string

const (
	KindFirewall     NodeKind = "waf"
	KindLoadBalancer NodeKind = "alb"
	KindCompute      NodeKind = "compute"
	KindDatabase     NodeKind = "db"
	KindObjectStore  NodeKind = "s3"
	KindCache        NodeKind = "cache"
	KindQueue        NodeKind = "sqs"

	// DestinationBlocked is the destination of traffic that must never be served.
	DestinationBlocked NodeKind = "blocked"
)

// NodeKinds lists every placeable kind.
var NodeKinds = []NodeKind{
	KindFirewall, KindLoadBalancer, KindCompute, KindDatabase, KindObjectStore, KindCache, KindQueue,
}

// IsValidNodeKind reports whether k is a placeable node kind.
func IsValidNodeKind(k NodeKind) bool {
	for _, v := range NodeKinds {
		if v == k {
			return true
		}
	}
	return false
}

// DefaultMaxQueueSize applies when a node spec leaves MaxQueueSize unset.
const DefaultMaxQueueSize = 20

// TierSpec is one upgrade level. Level is 1-based.
type TierSpec struct {
	Level        int     `yaml:"level" json:"level"`
	Capacity     int     `yaml:"capacity" json:"capacity"`
	Cost         float64 `yaml:"cost" json:"cost"`
	CacheHitRate float64 `yaml:"cache_hit_rate,omitempty" json:"cache_hit_rate,omitempty"`
}

// NodeSpec describes a placeable node type.
type NodeSpec struct {
	Kind             NodeKind   `yaml:"kind" json:"kind"`
	Name             string     `yaml:"name" json:"name"`
	Cost             float64    `yaml:"cost" json:"cost"`
	ProcessingTimeMs float64    `yaml:"processing_time_ms" json:"processing_time_ms"`
	Capacity         int        `yaml:"capacity" json:"capacity"`
	UpkeepPerMinute  float64    `yaml:"upkeep" json:"upkeep"`
	MaxQueueSize     int        `yaml:"max_queue_size,omitempty" json:"max_queue_size,omitempty"`
	CacheHitRate     float64    `yaml:"cache_hit_rate,omitempty" json:"cache_hit_rate,omitempty"`
	Tiers            []TierSpec `yaml:"tiers,omitempty" json:"tiers,omitempty"`
}

// Upgradable reports whether the kind has a tier table.
func (s NodeSpec) Upgradable() bool {
	return len(s.Tiers) > 1
}

// TierCount is the number of tiers, at least 1.
func (s NodeSpec) TierCount() int {
	if len(s.Tiers) == 0 {
		return 1
	}
	return len(s.Tiers)
}

// Tier returns the spec of a 1-based tier level.
func (s NodeSpec) Tier(level int) (TierSpec, bool) {
	if level < 1 || level > len(s.Tiers) {
		return TierSpec{}, false
	}
	return s.Tiers[level-1], true
}

// Validate checks parameter ranges.
func (s NodeSpec) Validate() error {
	if !IsValidNodeKind(s.Kind) {
		return fmt.Errorf("service %q: unknown kind", s.Kind)
	}
	if s.Capacity < 0 {
		return fmt.Errorf("service %s: capacity must be non-negative, got %d", s.Kind, s.Capacity)
	}
	if math.IsNaN(s.ProcessingTimeMs) || s.ProcessingTimeMs <= 0 {
		return fmt.Errorf("service %s: processing_time_ms must be positive, got %f", s.Kind, s.ProcessingTimeMs)
	}
	if s.MaxQueueSize < 0 {
		return fmt.Errorf("service %s: max_queue_size must be non-negative, got %d", s.Kind, s.MaxQueueSize)
	}
	for i, t := range s.Tiers {
		if t.Level != i+1 {
			return fmt.Errorf("service %s: tier[%d] has level %d, want %d", s.Kind, i, t.Level, i+1)
		}
		if t.Capacity < 0 {
			return fmt.Errorf("service %s: tier %d capacity must be non-negative", s.Kind, t.Level)
		}
		if t.CacheHitRate < 0 || t.CacheHitRate > 1 {
			return fmt.Errorf("service %s: tier %d cache_hit_rate must be in [0,1]", s.Kind, t.Level)
		}
	}
	return nil
}

// Catalog maps node kinds to their specs.
type Catalog map[NodeKind]NodeSpec

// Spec returns the spec for kind.
func (c Catalog) Spec(kind NodeKind) (NodeSpec, bool) {
	s, ok := c[kind]
	return s, ok
}

// Validate checks every entry, and that each placeable kind is present.
func (c Catalog) Validate() error {
	for _, k := range NodeKinds {
		s, ok := c[k]
		if !ok {
			return fmt.Errorf("catalog: missing service %q", k)
		}
		if s.Kind != k {
			return fmt.Errorf("catalog: entry %q declares kind %q", k, s.Kind)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}

// DefaultCatalog is the stock node table.
func DefaultCatalog() Catalog {
	return Catalog{
		KindFirewall:     {Kind: KindFirewall, Name: "Firewall", Cost: 40, ProcessingTimeMs: 20, Capacity: 30, UpkeepPerMinute: 6},
		KindLoadBalancer: {Kind: KindLoadBalancer, Name: "Load Balancer", Cost: 50, ProcessingTimeMs: 50, Capacity: 20, UpkeepPerMinute: 8},
		KindCompute: {Kind: KindCompute, Name: "Compute", Cost: 60, ProcessingTimeMs: 600, Capacity: 4, UpkeepPerMinute: 12,
			Tiers: []TierSpec{{Level: 1, Capacity: 4}, {Level: 2, Capacity: 10, Cost: 100}, {Level: 3, Capacity: 18, Cost: 180}}},
		KindDatabase: {Kind: KindDatabase, Name: "Database", Cost: 150, ProcessingTimeMs: 300, Capacity: 8, UpkeepPerMinute: 24,
			Tiers: []TierSpec{{Level: 1, Capacity: 8}, {Level: 2, Capacity: 20, Cost: 200}, {Level: 3, Capacity: 35, Cost: 350}}},
		KindObjectStore: {Kind: KindObjectStore, Name: "Object Storage", Cost: 25, ProcessingTimeMs: 200, Capacity: 25, UpkeepPerMinute: 5},
		KindCache: {Kind: KindCache, Name: "Cache", Cost: 60, ProcessingTimeMs: 50, Capacity: 30, UpkeepPerMinute: 10, CacheHitRate: 0.35,
			Tiers: []TierSpec{{Level: 1, Capacity: 30, CacheHitRate: 0.35}, {Level: 2, Capacity: 50, Cost: 140, CacheHitRate: 0.5}, {Level: 3, Capacity: 80, Cost: 220, CacheHitRate: 0.65}}},
		KindQueue: {Kind: KindQueue, Name: "Queue", Cost: 40, ProcessingTimeMs: 100, Capacity: 10, UpkeepPerMinute: 4, MaxQueueSize: 200},
	}
}
