package loop

import "github.com/vega-foundation/vega/core/types"

// Merge folds proposals into a single plan. Proposals must be passed in
// agent registration order: on a direct target conflict the first-registered
// agent's adjustment wins, non-conflicting adjustments are all applied.
// Messages are concatenated in the same order, so the merged plan is
// independent of how the proposals were scheduled.
func Merge(proposals []types.Proposal) types.Plan {
	plan := types.Plan{Adjustments: map[string]types.Adjustment{}}

	for _, p := range proposals {
		if p.AgentID != "" {
			plan.Proposers = append(plan.Proposers, p.AgentID)
		}
		for _, adj := range p.Adjustments {
			if _, taken := plan.Adjustments[adj.Target]; taken {
				continue
			}
			plan.Adjustments[adj.Target] = adj
		}
		plan.Messages = append(plan.Messages, p.Messages...)
	}

	return plan
}
