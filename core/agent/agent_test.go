package agent_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vega-foundation/vega/core/agent"
	"github.com/vega-foundation/vega/core/types"
)

var _ = Describe("Build", func() {
	It("constructs every known variant", func() {
		decision, err := agent.Build("AE-Master", types.AgentKindDecision, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Kind()).To(Equal(types.AgentKindDecision))

		task, err := agent.Build("TaskRunner", types.AgentKindTask, map[string]string{"specialty": "data_processing"})
		Expect(err).NotTo(HaveOccurred())
		Expect(task.Kind()).To(Equal(types.AgentKindTask))

		relay, err := agent.Build("Orchestrator-Relay", types.AgentKindRelay, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(relay.Kind()).To(Equal(types.AgentKindRelay))
	})

	It("rejects an unknown kind", func() {
		_, err := agent.Build("x", types.AgentKind("quantum"), nil)
		Expect(err).To(MatchError(ContainSubstring("unknown kind")))
	})

	It("rejects an empty id", func() {
		_, err := agent.Build("", types.AgentKindRelay, nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a task agent without a specialty", func() {
		_, err := agent.Build("TaskRunner", types.AgentKindTask, nil)
		Expect(err).To(MatchError(ContainSubstring("specialty")))
	})

	It("rejects a malformed baseResonance param", func() {
		_, err := agent.Build("AE-Master", types.AgentKindDecision, map[string]string{"baseResonance": "loud"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("DecisionAgent", func() {
	var (
		ctx context.Context
		a   agent.Agent
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		a, err = agent.Build("AE-Master", types.AgentKindDecision, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("scores resonance from agent health and reads core levels", func() {
		snap := types.NewSnapshot()
		snap.Agents["a"] = types.AgentRecord{ID: "a", Health: types.HealthHealthy}
		snap.Agents["b"] = types.AgentRecord{ID: "b", Health: types.HealthUnresponsive}
		snap.Cores["alpha"] = types.CoreState{Name: "Alpha", Level: 4}

		obs, err := a.Observe(ctx, snap)
		Expect(err).NotTo(HaveOccurred())
		Expect(obs.Resonance).To(BeNumerically("==", 1.0))
		Expect(obs.Details).To(HaveKeyWithValue("core/alpha", 4.0))
	})

	It("decides deterministically given the same observations", func() {
		observations := []types.Observation{
			{AgentID: "AE-Master", Resonance: 2, Details: map[string]float64{"core/alpha": 4, "core/omega": 1}},
			{AgentID: "peer", Resonance: 4},
		}

		first, err := a.Decide(ctx, observations)
		Expect(err).NotTo(HaveOccurred())
		second, err := a.Decide(ctx, observations)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))

		// Mean resonance is 3; cores are pulled halfway toward it,
		// targets in sorted order, plus the system-level adjustment.
		Expect(first.Adjustments).To(HaveLen(3))
		Expect(first.Adjustments[0].Target).To(Equal("core/alpha"))
		Expect(first.Adjustments[0].Value).To(BeNumerically("==", 3.5))
		Expect(first.Adjustments[1].Target).To(Equal("core/omega"))
		Expect(first.Adjustments[1].Value).To(BeNumerically("==", 2.0))
		Expect(first.Adjustments[2].Target).To(Equal("resonance/system"))
	})

	It("proposes nothing on empty observations", func() {
		proposal, err := a.Decide(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(proposal.Adjustments).To(BeEmpty())
	})
})

var _ = Describe("TaskAgent", func() {
	It("completes a task per act and counts it", func() {
		ctx := context.Background()
		built, err := agent.Build("DataProcessor", types.AgentKindTask, map[string]string{"specialty": "data_processing"})
		Expect(err).NotTo(HaveOccurred())
		task := built.(*agent.TaskAgent)

		plan := types.Plan{Adjustments: map[string]types.Adjustment{
			"agent/DataProcessor/workload": {Target: "agent/DataProcessor/workload", Value: 3},
		}}

		events, err := task.Act(ctx, plan)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(types.EventTaskCompleted))
		Expect(string(events[0].Payload)).To(ContainSubstring("data_processing"))
		Expect(task.TasksCompleted()).To(Equal(int64(1)))
	})
})

var _ = Describe("RelayAgent", func() {
	var (
		ctx   context.Context
		relay agent.Agent
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		relay, err = agent.Build("Relay", types.AgentKindRelay, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("proposes one digest per peer, skipping itself", func() {
		proposal, err := relay.Decide(ctx, []types.Observation{
			{AgentID: "Relay", Resonance: 1},
			{AgentID: "AE-Master", Resonance: 6},
			{AgentID: "TaskRunner", Resonance: 0.5},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(proposal.Messages).To(HaveLen(2))
		Expect(proposal.Messages[0].To).To(Equal("AE-Master"))
		Expect(proposal.Messages[0].Priority).To(Equal("high"))
		Expect(proposal.Messages[1].To).To(Equal("TaskRunner"))
		Expect(proposal.Messages[1].Priority).To(Equal("low"))
	})

	It("emits relay events only for its own messages", func() {
		plan := types.Plan{Messages: []types.Communication{
			{From: "Relay", To: "AE-Master", Message: "hello"},
			{From: "someone-else", To: "Relay", Message: "not mine"},
		}}

		events, err := relay.Act(ctx, plan)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(types.EventRelay))
		Expect(string(events[0].Payload)).To(ContainSubstring("AE-Master"))
	})
})
