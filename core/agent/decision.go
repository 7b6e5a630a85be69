package agent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/vega-foundation/vega/core/types"
)

// DecisionAgent is the strategic decision maker. It scores the system's
// resonance from the snapshot and proposes core-level adjustments that pull
// every resonance core toward the observed mean.
type DecisionAgent struct {
	id            string
	baseResonance float64
}

// NewDecisionAgent builds a decision agent. Params: "baseResonance"
// (optional float, defaults to 1.0).
func NewDecisionAgent(id string, params map[string]string) (*DecisionAgent, error) {
	base := 1.0
	if raw, ok := params["baseResonance"]; ok {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("agent %s: invalid baseResonance %q: %w", id, raw, err)
		}
		base = parsed
	}
	return &DecisionAgent{id: id, baseResonance: base}, nil
}

func (a *DecisionAgent) ID() string            { return a.id }
func (a *DecisionAgent) Kind() types.AgentKind { return types.AgentKindDecision }

func (a *DecisionAgent) Observe(ctx context.Context, snapshot *types.StateSnapshot) (types.Observation, error) {
	healthy, degraded, unresponsive := 0, 0, 0
	for _, rec := range snapshot.Agents {
		switch rec.Health {
		case types.HealthDegraded:
			degraded++
		case types.HealthUnresponsive:
			unresponsive++
		default:
			healthy++
		}
	}

	details := map[string]float64{
		"agents.healthy":      float64(healthy),
		"agents.degraded":     float64(degraded),
		"agents.unresponsive": float64(unresponsive),
	}
	for name, core := range snapshot.Cores {
		details["core/"+name] = core.Level
	}

	resonance := clampResonance(a.baseResonance + 0.5*float64(healthy) - 0.25*float64(degraded) - 0.5*float64(unresponsive))

	return types.Observation{
		AgentID:    a.id,
		Resonance:  resonance,
		Summary:    fmt.Sprintf("%d healthy, %d degraded, %d unresponsive", healthy, degraded, unresponsive),
		Details:    details,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Decide proposes pulling each observed core toward the mean resonance of
// all observations. Pure: depends only on its inputs, targets emitted in
// sorted order.
func (a *DecisionAgent) Decide(ctx context.Context, observations []types.Observation) (types.Proposal, error) {
	proposal := types.Proposal{AgentID: a.id}
	if len(observations) == 0 {
		return proposal, nil
	}

	mean := 0.0
	for _, obs := range observations {
		mean += obs.Resonance
	}
	mean /= float64(len(observations))

	coreTargets := map[string]float64{}
	for _, obs := range observations {
		if obs.AgentID != a.id {
			continue
		}
		for key, level := range obs.Details {
			if len(key) > 5 && key[:5] == "core/" {
				coreTargets[key] = level
			}
		}
	}

	targets := make([]string, 0, len(coreTargets))
	for t := range coreTargets {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		level := coreTargets[target]
		proposal.Adjustments = append(proposal.Adjustments, types.Adjustment{
			Target: target,
			Value:  clampResonance((level + mean) / 2),
			Reason: fmt.Sprintf("pull toward mean resonance %.2f", mean),
		})
	}

	proposal.Adjustments = append(proposal.Adjustments, types.Adjustment{
		Target: "resonance/system",
		Value:  clampResonance(mean),
		Reason: "system resonance from observation mean",
	})

	return proposal, nil
}

func (a *DecisionAgent) Act(ctx context.Context, plan types.Plan) ([]types.Event, error) {
	applied := 0
	for range plan.Adjustments {
		applied++
	}
	return []types.Event{
		types.NewEvent(a.id, types.EventDecision, map[string]any{
			"adjustments": applied,
			"messages":    len(plan.Messages),
		}),
	}, nil
}
