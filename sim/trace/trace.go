package trace

// TraceLevel controls the verbosity of recording.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelOutcomes captures every resolved request.
	TraceLevelOutcomes TraceLevel = "outcomes"
	// TraceLevelFull adds per-step node samples.
	TraceLevelFull TraceLevel = "full"
)

var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelOutcomes: true,
	TraceLevelFull:     true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel `yaml:"level"`
	// SampleEvery records node samples every N steps at TraceLevelFull; 0 or 1 means every step.
	SampleEvery int `yaml:"sample_every,omitempty"`
	// MaxRecords caps retained outcomes and samples each; 0 keeps everything.
	// When the cap is reached the oldest half is discarded.
	MaxRecords int `yaml:"max_records,omitempty"`
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Config   TraceConfig
	Outcomes []OutcomeRecord
	Samples  []NodeSample

	DroppedOutcomes int
	DroppedSamples  int

	steps int
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		Outcomes: make([]OutcomeRecord, 0),
		Samples:  make([]NodeSample, 0),
	}
}

// Enabled reports whether anything is recorded.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level != TraceLevelNone && st.Config.Level != ""
}

// RecordOutcome appends an outcome record.
func (st *SimulationTrace) RecordOutcome(record OutcomeRecord) {
	var dropped int
	st.Outcomes, dropped = trimOldest(st.Outcomes, st.Config.MaxRecords)
	st.DroppedOutcomes += dropped
	st.Outcomes = append(st.Outcomes, record)
}

// WantSamples advances the step counter and reports whether node samples
// should be taken this step.
func (st *SimulationTrace) WantSamples() bool {
	if st == nil || st.Config.Level != TraceLevelFull {
		return false
	}
	st.steps++
	every := max(1, st.Config.SampleEvery)
	return (st.steps-1)%every == 0
}

// RecordSample appends a node sample.
func (st *SimulationTrace) RecordSample(sample NodeSample) {
	var dropped int
	st.Samples, dropped = trimOldest(st.Samples, st.Config.MaxRecords)
	st.DroppedSamples += dropped
	st.Samples = append(st.Samples, sample)
}

// trimOldest makes room for one more record under limit by discarding the
// oldest records down to limit/2. Order is preserved.
func trimOldest[T any](records []T, limit int) ([]T, int) {
	if limit <= 0 || len(records) < limit {
		return records, 0
	}
	drop := len(records) - limit/2
	n := copy(records, records[drop:])
	return records[:n], drop
}
