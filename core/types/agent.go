package types

import (
	"encoding/json"
	"time"
)

// AgentKind identifies one of the closed set of agent variants.
type AgentKind string

const (
	AgentKindDecision AgentKind = "decision"
	AgentKindTask     AgentKind = "task"
	AgentKindRelay    AgentKind = "relay"
)

// Valid reports whether the kind is one of the known variants.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentKindDecision, AgentKindTask, AgentKindRelay:
		return true
	}
	return false
}

// Health is the last-known health of an agent as judged by the orchestrator.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthDegraded     Health = "degraded"
	HealthUnresponsive Health = "unresponsive"
)

// AgentRecord is the persisted last-known status of one agent. It is owned by
// the Time Crystal and written only by the orchestrator on the agent's behalf.
type AgentRecord struct {
	ID           string          `json:"id"`
	Kind         AgentKind       `json:"kind"`
	Health       Health          `json:"health"`
	LastDecision json.RawMessage `json:"lastDecision,omitempty"`
	LastActedAt  time.Time       `json:"lastActedAt,omitzero"`
}

// Observation is the result of one agent's Observe pass over a snapshot.
type Observation struct {
	AgentID    string             `json:"agentId"`
	Resonance  float64            `json:"resonance"`
	Summary    string             `json:"summary,omitempty"`
	Details    map[string]float64 `json:"details,omitempty"`
	ObservedAt time.Time          `json:"observedAt"`
}

// Adjustment is a single proposed change to a named target, e.g.
// "core/alpha" or "agent/TaskRunner/workload".
type Adjustment struct {
	Target string  `json:"target"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

// Proposal is the output of one agent's Decide pass.
type Proposal struct {
	AgentID     string          `json:"agentId"`
	Adjustments []Adjustment    `json:"adjustments,omitempty"`
	Messages    []Communication `json:"messages,omitempty"`
}

// Plan is the merged set of proposals for one optimization phase. Direct
// conflicts on the same target are resolved by agent registration order:
// the first-registered agent's adjustment wins.
type Plan struct {
	Adjustments map[string]Adjustment `json:"adjustments,omitempty"`
	Messages    []Communication       `json:"messages,omitempty"`
	Proposers   []string              `json:"proposers,omitempty"`
}
