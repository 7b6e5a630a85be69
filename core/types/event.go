package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an immutable fact recorded in the Time Crystal.
type EventKind string

const (
	EventDecision      EventKind = "decision"
	EventRelay         EventKind = "relay"
	EventTaskCompleted EventKind = "task_completed"
	EventHealthChange  EventKind = "health_change"
	EventAgentFailure  EventKind = "agent_failure"
	EventOrchestrator  EventKind = "orchestrator"
	EventCorePulse     EventKind = "core_pulse"
)

// Event is an append-only record emitted during a cycle. It is never mutated
// or removed except by retention trimming.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event from any JSON-serializable payload. A payload that
// fails to marshal is recorded as an empty payload rather than dropped.
func NewEvent(source string, kind EventKind, payload any) Event {
	e := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Kind:      kind,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}

// Communication is one inter-agent message, mirrored from relay events into
// the snapshot's communications log.
type Communication struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
