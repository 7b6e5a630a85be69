package types

import (
	"fmt"
	"time"
)

// Phase is one of the three named iterations of the 3-5-8 loop.
type Phase int

const (
	PhaseResonance     Phase = 3
	PhaseOptimization  Phase = 5
	PhaseStabilization Phase = 8
)

// Name returns the phase name used as key in phase-result maps.
func (p Phase) Name() string {
	switch p {
	case PhaseResonance:
		return "resonance_analysis"
	case PhaseOptimization:
		return "optimization"
	case PhaseStabilization:
		return "stabilization"
	}
	return fmt.Sprintf("unknown_%d", int(p))
}

// ParsePhase validates a numeric phase identifier.
func ParsePhase(n int) (Phase, error) {
	switch Phase(n) {
	case PhaseResonance, PhaseOptimization, PhaseStabilization:
		return Phase(n), nil
	}
	return 0, fmt.Errorf("invalid phase %d: valid phases are 3, 5 and 8", n)
}

// PhaseResult is the committed outcome of one phase. Exactly one of the
// payload fields is populated depending on the phase.
type PhaseResult struct {
	Phase        Phase         `json:"phase"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  time.Time     `json:"completedAt"`
	Observations []Observation `json:"observations,omitempty"`
	Plan         *Plan         `json:"plan,omitempty"`
	EventCount   int           `json:"eventCount,omitempty"`
	Failed       []string      `json:"failed,omitempty"`
}

// Outcome is the final verdict of a cycle.
type Outcome string

const (
	OutcomePending        Outcome = "pending"
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFailure        Outcome = "failure"
)

// CycleRecord is the outcome of one full 3-5-8 traversal. Created Pending at
// cycle start, finalized at cycle end, immutable thereafter.
type CycleRecord struct {
	CycleID      string                 `json:"cycleId"`
	StartedAt    time.Time              `json:"startedAt"`
	CompletedAt  time.Time              `json:"completedAt,omitzero"`
	PhaseResults map[string]PhaseResult `json:"phaseResults,omitempty"`
	Outcome      Outcome                `json:"outcome"`
}
