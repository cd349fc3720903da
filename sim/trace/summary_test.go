package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_NilAndEmpty_ZeroValues(t *testing.T) {
	for _, st := range []*SimulationTrace{nil, NewSimulationTrace(TraceConfig{Level: TraceLevelFull})} {
		summary := Summarize(st)
		assert.Zero(t, summary.TotalOutcomes)
		assert.Zero(t, summary.MeanLatency)
		assert.Empty(t, summary.OutcomeCounts)
		assert.Empty(t, summary.PeakQueueByNode)
		assert.Zero(t, summary.SampledNodes)
	}
}

func TestSummarize_PopulatedTrace(t *testing.T) {
	// GIVEN a trace with mixed outcomes and node samples
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelFull})
	st.RecordOutcome(OutcomeRecord{RequestID: "r1", Outcome: "finished", NodeID: "db", Hops: 3, Latency: 1})
	st.RecordOutcome(OutcomeRecord{RequestID: "r2", Outcome: "failed", Reason: "capacity", NodeID: "db", Hops: 3, Latency: 2})
	st.RecordOutcome(OutcomeRecord{RequestID: "r3", Outcome: "blocked", Reason: "malicious-blocked", NodeID: "waf", Hops: 1, Latency: 3})
	st.RecordOutcome(OutcomeRecord{RequestID: "r4", Outcome: "finished", NodeID: "s3", Hops: 1, Latency: 4})
	st.RecordSample(NodeSample{NodeID: "db", Queue: 4, Load: 0.5, Health: 90})
	st.RecordSample(NodeSample{NodeID: "db", Queue: 9, Load: 1.0, Health: 80})
	st.RecordSample(NodeSample{NodeID: "waf", Queue: 1, Load: 0.1, Health: 100})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts, latency statistics and node peaks are aggregated
	assert.Equal(t, 4, summary.TotalOutcomes)
	assert.Equal(t, 2, summary.OutcomeCounts["finished"])
	assert.Equal(t, 1, summary.ReasonCounts["capacity"])
	assert.Equal(t, 2, summary.ResolvedByNode["db"])
	assert.InDelta(t, 2.5, summary.MeanLatency, 1e-12)
	assert.Equal(t, 2.0, summary.P50Latency)
	assert.Equal(t, 4.0, summary.P99Latency)
	assert.InDelta(t, 2.0, summary.MeanHops, 1e-12)
	assert.Equal(t, 9, summary.PeakQueueByNode["db"])
	assert.InDelta(t, 0.75, summary.MeanLoadByNode["db"], 1e-12)
	assert.Equal(t, 80.0, summary.MinHealthByNode["db"])
	assert.Equal(t, 2, summary.SampledNodes)
}
