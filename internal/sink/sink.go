// Package sink fans simulation step results out to external consumers.
package sink

import (
	"context"
	"errors"

	"github.com/routesim/routesim/sim"
	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/workload"
)

// Batch is one step's worth of output, tagged with the run it belongs to.
type Batch struct {
	RunID         string                  `json:"run_id"`
	Step          int64                   `json:"step"`
	Clock         float64                 `json:"clock"`
	Events        []sim.OutcomeEvent      `json:"events"`
	Upkeep        float64                 `json:"upkeep,omitempty"`
	Commands      []cluster.CommandResult `json:"commands,omitempty"`
	Incidents     []cluster.IncidentEvent `json:"incidents,omitempty"`
	Interventions []workload.Event        `json:"interventions,omitempty"`
	Nodes         []cluster.NodeStatus    `json:"nodes,omitempty"`
}

// NewBatch wraps a step result.
func NewBatch(runID string, step int64, res cluster.StepResult, nodes []cluster.NodeStatus) Batch {
	return Batch{
		RunID:         runID,
		Step:          step,
		Clock:         res.Clock,
		Events:        res.Events,
		Upkeep:        res.Upkeep,
		Commands:      res.Commands,
		Incidents:     res.Incidents,
		Interventions: res.Interventions,
		Nodes:         nodes,
	}
}

// Empty reports whether the batch carries nothing but the clock.
func (b Batch) Empty() bool {
	return len(b.Events) == 0 && len(b.Commands) == 0 && len(b.Incidents) == 0 && len(b.Interventions) == 0
}

// Sink consumes step batches.
type Sink interface {
	Publish(ctx context.Context, b Batch) error
	Close() error
}

// Multi publishes to every sink in order and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, b Batch) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
