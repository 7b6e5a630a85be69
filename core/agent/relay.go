package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/vega-foundation/vega/core/types"
	"github.com/vega-foundation/vega/pkg/xstrings"
)

// relayMessageLimit caps the stored length of a relayed message.
const relayMessageLimit = 240

// RelayAgent is the communication backbone: it watches the pending
// communications log and fans resonance digests out to its peers.
type RelayAgent struct {
	id string
}

func NewRelayAgent(id string, params map[string]string) (*RelayAgent, error) {
	return &RelayAgent{id: id}, nil
}

func (a *RelayAgent) ID() string            { return a.id }
func (a *RelayAgent) Kind() types.AgentKind { return types.AgentKindRelay }

func (a *RelayAgent) Observe(ctx context.Context, snapshot *types.StateSnapshot) (types.Observation, error) {
	pending := len(snapshot.Communications)
	return types.Observation{
		AgentID:   a.id,
		Resonance: clampResonance(1.0 + 0.05*float64(pending)),
		Summary:   fmt.Sprintf("%d pending communications", pending),
		Details: map[string]float64{
			"pendingCommunications": float64(pending),
		},
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Decide proposes one digest message per observed peer, in observation
// order. Priority derives from the peer's resonance score.
func (a *RelayAgent) Decide(ctx context.Context, observations []types.Observation) (types.Proposal, error) {
	proposal := types.Proposal{AgentID: a.id}
	for _, obs := range observations {
		if obs.AgentID == a.id {
			continue
		}
		proposal.Messages = append(proposal.Messages, types.Communication{
			From:     a.id,
			To:       obs.AgentID,
			Message:  fmt.Sprintf("resonance digest: %.2f (%s)", obs.Resonance, obs.Summary),
			Priority: relayPriority(obs.Resonance),
		})
	}
	return proposal, nil
}

func relayPriority(resonance float64) string {
	switch {
	case resonance >= 5:
		return "high"
	case resonance < 1:
		return "low"
	}
	return "normal"
}

// Act relays the messages it proposed, one relay event per recipient.
// Messages are shortened at a word boundary before being recorded.
func (a *RelayAgent) Act(ctx context.Context, plan types.Plan) ([]types.Event, error) {
	var events []types.Event
	now := time.Now().UTC()

	for _, msg := range plan.Messages {
		if msg.From != a.id {
			continue
		}
		msg.Message = xstrings.Shorten(msg.Message, relayMessageLimit)
		msg.Timestamp = now
		events = append(events, types.NewEvent(a.id, types.EventRelay, msg))
	}

	return events, nil
}
