package agent

import (
	"fmt"

	"github.com/vega-foundation/vega/core/types"
)

// Build constructs one of the closed set of agent variants. The set is fixed
// at compile time; unknown kinds are a configuration error at boot, never a
// runtime dispatch failure.
func Build(id string, kind types.AgentKind, params map[string]string) (Agent, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id must not be empty")
	}
	switch kind {
	case types.AgentKindDecision:
		return NewDecisionAgent(id, params)
	case types.AgentKindTask:
		return NewTaskAgent(id, params)
	case types.AgentKindRelay:
		return NewRelayAgent(id, params)
	}
	return nil, fmt.Errorf("agent %s: unknown kind %q", id, kind)
}
