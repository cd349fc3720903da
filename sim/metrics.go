// Tracks simulation-wide outcome statistics: counts per kind and outcome,
// raw reward/score sums, spend and congestion peaks.

package sim

import (
	"fmt"
	"sort"
)

// Metrics aggregates outcome statistics for reporting. Reward and score are
// raw sums from the registry; turning them into money or reputation is up
// to the caller.
type Metrics struct {
	Generated        int                 // requests created by the generator or bursts
	ByOutcome        map[Outcome]int     // resolved requests per outcome
	ByKind           map[TrafficKind]int // resolved requests per traffic kind
	FailuresByKind   map[TrafficKind]int // Failed or non-firewall Blocked, per kind
	FailuresByReason map[FailureReason]int
	MaliciousBlocked int

	Reward float64 // sum of spec.Reward over served requests
	Score  float64 // sum of spec.ScoreWeight over served requests and firewall blocks

	UpkeepSpent float64
	RepairSpent float64

	PeakQueueDepth int

	LatencyCount int     // resolved requests with a recorded latency
	LatencySum   float64 // seconds, over every resolved request

	// most recent latencies, a ring of at most LatencyWindow entries
	latencies   []float64
	latencyNext int
}

// LatencyWindow bounds the latencies kept for percentiles. Long-running
// simulators would otherwise grow one entry per resolved request.
const LatencyWindow = 4096

// NewMetrics returns zeroed metrics with initialized maps.
func NewMetrics() *Metrics {
	return &Metrics{
		ByOutcome:        make(map[Outcome]int),
		ByKind:           make(map[TrafficKind]int),
		FailuresByKind:   make(map[TrafficKind]int),
		FailuresByReason: make(map[FailureReason]int),
	}
}

// Record folds one outcome event into the totals.
func (m *Metrics) Record(ev OutcomeEvent, spec TrafficTypeSpec) {
	m.ByOutcome[ev.Outcome]++
	m.ByKind[ev.Kind]++
	m.recordLatency(ev.Latency)
	switch {
	case ev.Outcome == OutcomeBlocked && ev.Reason == ReasonMaliciousBlocked:
		m.MaliciousBlocked++
		m.Score += spec.ScoreWeight
	case ev.Success():
		m.Reward += spec.Reward
		m.Score += spec.ScoreWeight
	default:
		m.FailuresByKind[ev.Kind]++
		m.FailuresByReason[ev.Reason]++
	}
}

func (m *Metrics) recordLatency(v float64) {
	m.LatencyCount++
	m.LatencySum += v
	if len(m.latencies) < LatencyWindow {
		m.latencies = append(m.latencies, v)
		return
	}
	m.latencies[m.latencyNext] = v
	m.latencyNext = (m.latencyNext + 1) % LatencyWindow
}

// MeanLatency is the mean over every resolved request.
func (m *Metrics) MeanLatency() float64 {
	if m.LatencyCount == 0 {
		return 0
	}
	return m.LatencySum / float64(m.LatencyCount)
}

// LatencyPercentile returns the p-th percentile over the most recent
// LatencyWindow resolutions.
func (m *Metrics) LatencyPercentile(p float64) float64 {
	return CalculatePercentile(m.latencies, p)
}

// RetainedLatencies is the number of latencies currently held.
func (m *Metrics) RetainedLatencies() int {
	return len(m.latencies)
}

// ObserveQueueDepth keeps the highest queue length seen on any node.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if depth > m.PeakQueueDepth {
		m.PeakQueueDepth = depth
	}
}

// Resolved returns the number of resolved requests.
func (m *Metrics) Resolved() int {
	total := 0
	for _, c := range m.ByOutcome {
		total += c
	}
	return total
}

// SuccessRate is the fraction of resolved requests counted as served.
func (m *Metrics) SuccessRate() float64 {
	resolved := m.Resolved()
	if resolved == 0 {
		return 0
	}
	failed := 0
	for _, c := range m.FailuresByKind {
		failed += c
	}
	return float64(resolved-failed) / float64(resolved)
}

// Print displays aggregated metrics at the end of a run.
func (m *Metrics) Print(clock float64) {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Simulated Time       : %.2f s\n", clock)
	fmt.Printf("Generated Requests   : %d\n", m.Generated)
	fmt.Printf("Resolved Requests    : %d\n", m.Resolved())
	for _, o := range []Outcome{OutcomeFinished, OutcomeCacheHit, OutcomeBlocked, OutcomeFailed} {
		fmt.Printf("  %-19s: %d\n", o, m.ByOutcome[o])
	}
	if m.Resolved() > 0 {
		fmt.Printf("Success Rate         : %.2f%%\n", 100*m.SuccessRate())
		fmt.Printf("Mean Latency         : %.3f s\n", m.MeanLatency())
		fmt.Printf("P95 Latency          : %.3f s\n", m.LatencyPercentile(95))
		fmt.Printf("Malicious Blocked    : %d\n", m.MaliciousBlocked)
		fmt.Printf("Reward / Score       : %.1f / %.1f\n", m.Reward, m.Score)
	}
	reasons := make([]string, 0, len(m.FailuresByReason))
	for r := range m.FailuresByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  failed(%s): %d\n", r, m.FailuresByReason[FailureReason(r)])
	}
	fmt.Printf("Upkeep / Repairs     : %.2f / %.2f\n", m.UpkeepSpent, m.RepairSpent)
	fmt.Printf("Peak Queue Depth     : %d\n", m.PeakQueueDepth)
}
