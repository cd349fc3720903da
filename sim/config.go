package sim

// DegradationConfig groups health decay and repair parameters.
type DegradationConfig struct {
	DecayRate         float64 `yaml:"decay_rate" json:"decay_rate"`                   // health/s at load multiplier 1.0
	CriticalHealth    float64 `yaml:"critical_health" json:"critical_health"`         // below this, capacity shrinks and failures rise
	RepairCostPercent float64 `yaml:"repair_cost_percent" json:"repair_cost_percent"` // fraction of base price per manual repair
	AutoRepairRate    float64 `yaml:"auto_repair_rate" json:"auto_repair_rate"`       // health/s while idle; 0 disables
}

// DefaultDegradationConfig returns the stock degradation parameters.
// AutoRepairRate has no stock value and stays 0 unless configured.
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		DecayRate:         0.5,
		CriticalHealth:    DefaultCriticalHealth,
		RepairCostPercent: 0.15,
	}
}

// DefaultCriticalHealth is used when a node is built without an explicit threshold.
const DefaultCriticalHealth = 30.0

// StepFlags are the feature toggles supplied by the caller each step.
type StepFlags struct {
	Degradation bool `yaml:"degradation" json:"degradation"`
	AutoRepair  bool `yaml:"auto_repair" json:"auto_repair"`
	Upkeep      bool `yaml:"upkeep" json:"upkeep"`
}

// NodeEnv carries the per-step environment into ServiceNode.Update.
type NodeEnv struct {
	Flags          StepFlags
	Degradation    DegradationConfig
	CostMultiplier float64 // upkeep multiplier from active incidents; 0 means 1
	Now            float64 // simulation clock in seconds at the start of the step
}
