package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CoreState is the persisted state of one resonance core.
type CoreState struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Level float64 `json:"level"`
	Sync  string  `json:"sync"`
}

// LoopState tracks the infinity loop position and the most recent result of
// each named phase.
type LoopState struct {
	Phase          string                 `json:"phase"`
	CycleCount     int                    `json:"cycleCount"`
	CurrentCycleID string                 `json:"currentCycleId,omitempty"`
	LastResults    map[string]PhaseResult `json:"lastResults,omitempty"`
}

// Meta describes the document itself.
type Meta struct {
	Created time.Time `json:"created"`
	System  string    `json:"system"`
}

// StateSnapshot is the entire persisted state at a point in time: one
// canonical document, versioned for conflict detection, mutated exclusively
// through the Time Crystal's commit path.
type StateSnapshot struct {
	Meta           Meta                   `json:"meta"`
	Version        uint64                 `json:"version"`
	Agents         map[string]AgentRecord `json:"agents"`
	Events         []Event                `json:"events"`
	Communications []Communication        `json:"communications"`
	Cores          map[string]CoreState   `json:"cores"`
	Loop           LoopState              `json:"loop"`
	CycleHistory   []CycleRecord          `json:"cycleHistory"`
}

// NewSnapshot returns the empty skeleton written at first boot.
func NewSnapshot() *StateSnapshot {
	return &StateSnapshot{
		Meta: Meta{
			Created: time.Now().UTC(),
			System:  "vega-time-crystal",
		},
		Agents:         map[string]AgentRecord{},
		Events:         []Event{},
		Communications: []Communication{},
		Cores:          map[string]CoreState{},
		Loop:           LoopState{Phase: "idle"},
		CycleHistory:   []CycleRecord{},
	}
}

// Clone returns a deep copy via a JSON round trip. The snapshot is plain
// data, so the round trip is lossless.
func (s *StateSnapshot) Clone() *StateSnapshot {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("snapshot not serializable: %v", err))
	}
	out := &StateSnapshot{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("snapshot not deserializable: %v", err))
	}
	if out.Agents == nil {
		out.Agents = map[string]AgentRecord{}
	}
	if out.Cores == nil {
		out.Cores = map[string]CoreState{}
	}
	return out
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (s *StateSnapshot) RecentEvents(limit int) []Event {
	if limit <= 0 || limit >= len(s.Events) {
		limit = len(s.Events)
	}
	out := make([]Event, limit)
	copy(out, s.Events[len(s.Events)-limit:])
	return out
}

// LastCycle returns the most recent cycle record, or nil when no cycle ran.
func (s *StateSnapshot) LastCycle() *CycleRecord {
	if len(s.CycleHistory) == 0 {
		return nil
	}
	rec := s.CycleHistory[len(s.CycleHistory)-1]
	return &rec
}
