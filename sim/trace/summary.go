package trace

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalOutcomes    int
	DroppedOutcomes  int // discarded under TraceConfig.MaxRecords, not summarized
	OutcomeCounts    map[string]int // outcome → count
	ReasonCounts     map[string]int // failure reason → count
	ResolvedByNode   map[string]int // node ID → requests resolved there
	MeanLatency      float64
	P50Latency       float64
	P95Latency       float64
	P99Latency       float64
	MeanHops         float64
	PeakQueueByNode  map[string]int
	MeanLoadByNode   map[string]float64
	MinHealthByNode  map[string]float64
	SampledNodes     int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		OutcomeCounts:   make(map[string]int),
		ReasonCounts:    make(map[string]int),
		ResolvedByNode:  make(map[string]int),
		PeakQueueByNode: make(map[string]int),
		MeanLoadByNode:  make(map[string]float64),
		MinHealthByNode: make(map[string]float64),
	}
	if st == nil {
		return summary
	}

	summary.TotalOutcomes = len(st.Outcomes)
	summary.DroppedOutcomes = st.DroppedOutcomes
	if len(st.Outcomes) > 0 {
		latencies := make([]float64, 0, len(st.Outcomes))
		hops := make([]float64, 0, len(st.Outcomes))
		for _, o := range st.Outcomes {
			summary.OutcomeCounts[o.Outcome]++
			if o.Reason != "" {
				summary.ReasonCounts[o.Reason]++
			}
			if o.NodeID != "" {
				summary.ResolvedByNode[o.NodeID]++
			}
			latencies = append(latencies, o.Latency)
			hops = append(hops, float64(o.Hops))
		}
		sort.Float64s(latencies)
		summary.MeanLatency = stat.Mean(latencies, nil)
		summary.P50Latency = stat.Quantile(0.50, stat.Empirical, latencies, nil)
		summary.P95Latency = stat.Quantile(0.95, stat.Empirical, latencies, nil)
		summary.P99Latency = stat.Quantile(0.99, stat.Empirical, latencies, nil)
		summary.MeanHops = stat.Mean(hops, nil)
	}

	loads := make(map[string][]float64)
	for _, s := range st.Samples {
		if s.Queue > summary.PeakQueueByNode[s.NodeID] {
			summary.PeakQueueByNode[s.NodeID] = s.Queue
		}
		if h, ok := summary.MinHealthByNode[s.NodeID]; !ok || s.Health < h {
			summary.MinHealthByNode[s.NodeID] = s.Health
		}
		loads[s.NodeID] = append(loads[s.NodeID], s.Load)
	}
	for id, l := range loads {
		summary.MeanLoadByNode[id] = stat.Mean(l, nil)
	}
	summary.SampledNodes = len(loads)

	return summary
}
