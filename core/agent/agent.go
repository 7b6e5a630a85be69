package agent

import (
	"context"

	"github.com/vega-foundation/vega/core/types"
)

// Agent is the capability contract every variant satisfies.
//
// Observe is read-only over the snapshot and must complete within the
// orchestrator's per-agent time budget or the agent is treated as
// unresponsive for the cycle. Decide is a pure function of its observations:
// the same inputs produce the same proposal. Act is the only operation
// allowed to produce externally visible effects, and those effects are
// captured solely as returned events — the Time Crystal stays the single
// writer.
type Agent interface {
	ID() string
	Kind() types.AgentKind
	Observe(ctx context.Context, snapshot *types.StateSnapshot) (types.Observation, error)
	Decide(ctx context.Context, observations []types.Observation) (types.Proposal, error)
	Act(ctx context.Context, plan types.Plan) ([]types.Event, error)
}

const (
	minResonance = 0.1
	maxResonance = 10.0
)

func clampResonance(v float64) float64 {
	if v < minResonance {
		return minResonance
	}
	if v > maxResonance {
		return maxResonance
	}
	return v
}
