// Package telemetry exposes simulation metrics to Prometheus.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routesim/routesim/internal/sink"
)

const namespace = "routesim"

// Collector turns step batches into Prometheus series. It owns a private
// registry so several simulators can run in one process.
type Collector struct {
	registry *prometheus.Registry

	outcomes      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	commands      *prometheus.CounterVec
	incidents     *prometheus.CounterVec
	interventions *prometheus.CounterVec
	upkeep        prometheus.Counter
	clock         prometheus.Gauge
	steps         prometheus.Counter

	queueDepth *prometheus.GaugeVec
	processing *prometheus.GaugeVec
	load       *prometheus.GaugeVec
	health     *prometheus.GaugeVec
}

// NewCollector creates and registers every series.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_resolved_total",
			Help: "Resolved requests by traffic kind, outcome and reason.",
		}, []string{"kind", "outcome", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_latency_seconds",
			Help:    "Simulated seconds from creation to resolution.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Applied commands by type and result.",
		}, []string{"type", "result"}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "incidents_started_total",
			Help: "Incidents started by kind.",
		}, []string{"kind"}),
		interventions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "generator_interventions_total",
			Help: "Milestones and traffic shifts by type.",
		}, []string{"type"}),
		upkeep: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "upkeep_total",
			Help: "Accrued node upkeep.",
		}),
		clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clock_seconds",
			Help: "Simulation clock.",
		}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "steps_total",
			Help: "Completed simulation steps.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "node_queue_depth",
			Help: "Requests waiting in a node's queue.",
		}, []string{"node", "kind"}),
		processing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "node_processing",
			Help: "Requests in service on a node.",
		}, []string{"node", "kind"}),
		load: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "node_load_ratio",
			Help: "Node congestion ratio (processing + queued) / (capacity * 2).",
		}, []string{"node", "kind"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "node_health",
			Help: "Node health in [0,100].",
		}, []string{"node", "kind"}),
	}
	c.registry.MustRegister(
		c.outcomes, c.latency, c.commands, c.incidents, c.interventions,
		c.upkeep, c.clock, c.steps,
		c.queueDepth, c.processing, c.load, c.health,
	)
	return c
}

// Publish implements sink.Sink.
func (c *Collector) Publish(_ context.Context, b sink.Batch) error {
	c.steps.Inc()
	c.clock.Set(b.Clock)
	c.upkeep.Add(b.Upkeep)
	for _, ev := range b.Events {
		c.outcomes.WithLabelValues(string(ev.Kind), string(ev.Outcome), string(ev.Reason)).Inc()
		c.latency.WithLabelValues(string(ev.Kind)).Observe(ev.Latency)
	}
	for _, cr := range b.Commands {
		result := "ok"
		if !cr.OK() {
			result = "error"
		}
		c.commands.WithLabelValues(string(cr.Type), result).Inc()
	}
	for _, inc := range b.Incidents {
		if inc.Started {
			c.incidents.WithLabelValues(string(inc.Kind)).Inc()
		}
	}
	for _, iv := range b.Interventions {
		c.interventions.WithLabelValues(string(iv.Type)).Inc()
	}
	if b.Nodes != nil {
		// removed nodes must not linger as stale series
		c.queueDepth.Reset()
		c.processing.Reset()
		c.load.Reset()
		c.health.Reset()
		for _, n := range b.Nodes {
			c.queueDepth.WithLabelValues(n.ID, string(n.Kind)).Set(float64(n.Queue))
			c.processing.WithLabelValues(n.ID, string(n.Kind)).Set(float64(n.Processing))
			c.load.WithLabelValues(n.ID, string(n.Kind)).Set(n.Load)
			c.health.WithLabelValues(n.ID, string(n.Kind)).Set(n.Health)
		}
	}
	return nil
}

// Close implements sink.Sink.
func (c *Collector) Close() error {
	return nil
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
