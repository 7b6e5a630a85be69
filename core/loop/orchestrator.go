package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"
	"golang.org/x/sync/errgroup"

	"github.com/vega-foundation/vega/core/agent"
	"github.com/vega-foundation/vega/core/crystal"
	"github.com/vega-foundation/vega/core/types"
)

var (
	// ErrCycleRunning is returned when RunCycle is invoked while another
	// cycle is in flight.
	ErrCycleRunning = errors.New("a cycle is already running")

	// ErrAgentNotFound is returned for command-surface lookups of
	// unregistered agents.
	ErrAgentNotFound = errors.New("agent not found")
)

const defaultAgentBudget = 10 * time.Second

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAgentBudget sets the per-agent time budget for a single observe,
// decide or act call. An agent exceeding it is treated as unresponsive for
// the cycle.
func WithAgentBudget(d time.Duration) Option {
	return func(o *Orchestrator) { o.budget = d }
}

// WithEventSink registers a callback invoked for every event the
// orchestrator commits, after the commit succeeded.
func WithEventSink(fn func(types.Event)) Option {
	return func(o *Orchestrator) { o.sink = fn }
}

// Orchestrator drives the 3-5-8 infinity loop over the registered agents:
// Idle → Resonance(3) → Optimization(5) → Stabilization(8) → Idle. All state
// mutation funnels through the Time Crystal's commit, one commit per phase
// boundary, so a crash mid-cycle leaves the store consistent at the last
// completed phase and the next cycle starts clean at Phase 3.
type Orchestrator struct {
	store  *crystal.TimeCrystal
	agents []agent.Agent
	budget time.Duration
	sink   func(types.Event)

	mu      sync.Mutex
	running bool
}

// New builds an orchestrator over agents in registration order. The order is
// load-bearing: it is the tie-break for conflicting proposals in Phase 5.
func New(store *crystal.TimeCrystal, agents []agent.Agent, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		agents: agents,
		budget: defaultAgentBudget,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Agents lists registered agent ids in registration order.
func (o *Orchestrator) Agents() []string {
	ids := make([]string, len(o.agents))
	for i, ag := range o.agents {
		ids[i] = ag.ID()
	}
	return ids
}

// Running reports whether a cycle is currently in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Register ensures every agent has a record in the store. Called once at
// boot, before the first cycle.
func (o *Orchestrator) Register() error {
	_, err := o.store.Commit(func(s *types.StateSnapshot) error {
		for _, ag := range o.agents {
			if _, ok := s.Agents[ag.ID()]; ok {
				continue
			}
			s.Agents[ag.ID()] = types.AgentRecord{
				ID:     ag.ID(),
				Kind:   ag.Kind(),
				Health: types.HealthHealthy,
			}
			xlog.Info("Registered agent", "id", ag.ID(), "kind", ag.Kind())
		}
		return nil
	})
	return err
}

// RunCycle executes one full 3-5-8 traversal and appends the finalized
// record to the cycle history. Agent-level failures degrade the agent and
// are absorbed; only storage failures abort the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*types.CycleRecord, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrCycleRunning
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	record := &types.CycleRecord{
		CycleID:      uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		PhaseResults: map[string]types.PhaseResult{},
		Outcome:      types.OutcomePending,
	}

	xlog.Info("Starting 3-5-8 cycle", "cycle_id", record.CycleID, "agents", len(o.agents))

	snap, err := o.store.Read()
	if err != nil {
		record.Outcome = types.OutcomeFailure
		return record, err
	}

	if len(o.agents) == 0 {
		record.Outcome = types.OutcomeFailure
		record.CompletedAt = time.Now().UTC()
		if err := o.finalize(record); err != nil {
			return record, err
		}
		xlog.Warn("Cycle failed: no agents registered", "cycle_id", record.CycleID)
		return record, nil
	}

	out := make(map[string]bool) // agents degraded this cycle

	// Phase 3: resonance analysis. Read-only over the snapshot.
	started := time.Now().UTC()
	observations, failures := o.observePhase(ctx, snap, nil)
	pr3 := phaseResult(types.PhaseResonance, started, failures)
	pr3.Observations = observations
	record.PhaseResults[types.PhaseResonance.Name()] = pr3
	if err := o.commitPhase(pr3, failures, types.PhaseResonance.Name(), record.CycleID, nil); err != nil {
		record.Outcome = types.OutcomeFailure
		return record, err
	}
	markFailed(out, failures)

	if len(observations) == 0 {
		// No agent reachable: the cycle cannot proceed past Phase 3.
		record.Outcome = types.OutcomeFailure
		record.CompletedAt = time.Now().UTC()
		if err := o.finalize(record); err != nil {
			return record, err
		}
		return record, nil
	}

	// Phase 5: optimization. Every reachable agent decides on the shared
	// phase-3 observations; proposals merge in registration order.
	started = time.Now().UTC()
	proposals, failures5 := o.decidePhase(ctx, observations, out)
	plan := Merge(orderedProposals(proposals, o.agents))
	pr5 := phaseResult(types.PhaseOptimization, started, failures5)
	pr5.Plan = &plan
	record.PhaseResults[types.PhaseOptimization.Name()] = pr5
	if err := o.commitPhase(pr5, failures5, types.PhaseOptimization.Name(), record.CycleID, nil); err != nil {
		record.Outcome = types.OutcomeFailure
		return record, err
	}
	markFailed(out, failures5)

	// Phase 8: stabilization. Agents act on the merged plan; effects are
	// captured solely as events and applied in one commit.
	started = time.Now().UTC()
	events, failures8 := o.actPhase(ctx, plan, out)
	pr8 := phaseResult(types.PhaseStabilization, started, failures8)
	pr8.EventCount = len(events)
	record.PhaseResults[types.PhaseStabilization.Name()] = pr8
	err = o.commitPhase(pr8, failures8, "idle", "", func(s *types.StateSnapshot) error {
		applyPlanEffects(s, plan)
		now := time.Now().UTC()
		for _, ag := range o.agents {
			if out[ag.ID()] || hasFailure(failures8, ag.ID()) {
				continue
			}
			rec := s.Agents[ag.ID()]
			rec.ID = ag.ID()
			rec.Kind = ag.Kind()
			rec.Health = types.HealthHealthy
			rec.LastActedAt = now
			if p, ok := proposals[ag.ID()]; ok {
				if data, err := json.Marshal(p); err == nil {
					rec.LastDecision = data
				}
			}
			s.Agents[ag.ID()] = rec
		}
		crystal.ApplyEvents(s, events...)
		return nil
	})
	if err != nil {
		record.Outcome = types.OutcomeFailure
		return record, err
	}
	markFailed(out, failures8)
	o.emit(events...)

	record.CompletedAt = time.Now().UTC()
	if len(out) == 0 {
		record.Outcome = types.OutcomeSuccess
	} else {
		record.Outcome = types.OutcomePartialFailure
	}

	if err := o.finalize(record); err != nil {
		return record, err
	}

	xlog.Info("Cycle completed",
		"cycle_id", record.CycleID,
		"outcome", record.Outcome,
		"events", len(events),
		"degraded_agents", len(out),
	)
	return record, nil
}

// RunPhase executes exactly one named phase against the latest snapshot and
// commits its result independently, without advancing or depending on the
// loop position. Phase 5 consumes the stored phase-3 result when present;
// Phase 8 the stored phase-5 plan.
func (o *Orchestrator) RunPhase(ctx context.Context, n int) (*types.PhaseResult, error) {
	phase, err := types.ParsePhase(n)
	if err != nil {
		return nil, err
	}

	snap, err := o.store.Read()
	if err != nil {
		return nil, err
	}

	xlog.Info("Running single phase", "phase", phase.Name())
	started := time.Now().UTC()

	switch phase {
	case types.PhaseResonance:
		observations, failures := o.observePhase(ctx, snap, nil)
		pr := phaseResult(phase, started, failures)
		pr.Observations = observations
		if err := o.commitPhase(pr, failures, "", "", nil); err != nil {
			return nil, err
		}
		return &pr, nil

	case types.PhaseOptimization:
		var observations []types.Observation
		if stored, ok := snap.Loop.LastResults[phaseKey(types.PhaseResonance)]; ok {
			observations = stored.Observations
		}
		proposals, failures := o.decidePhase(ctx, observations, nil)
		plan := Merge(orderedProposals(proposals, o.agents))
		pr := phaseResult(phase, started, failures)
		pr.Plan = &plan
		if err := o.commitPhase(pr, failures, "", "", nil); err != nil {
			return nil, err
		}
		return &pr, nil

	default: // types.PhaseStabilization
		plan := types.Plan{Adjustments: map[string]types.Adjustment{}}
		if stored, ok := snap.Loop.LastResults[phaseKey(types.PhaseOptimization)]; ok && stored.Plan != nil {
			plan = *stored.Plan
		}
		events, failures := o.actPhase(ctx, plan, nil)
		pr := phaseResult(phase, started, failures)
		pr.EventCount = len(events)
		err := o.commitPhase(pr, failures, "", "", func(s *types.StateSnapshot) error {
			applyPlanEffects(s, plan)
			crystal.ApplyEvents(s, events...)
			return nil
		})
		if err != nil {
			return nil, err
		}
		o.emit(events...)
		return &pr, nil
	}
}

// InspectDecision runs a single agent's observe+decide pass against the
// latest snapshot without committing anything. Diagnostic command surface.
func (o *Orchestrator) InspectDecision(ctx context.Context, id string) (*types.Proposal, error) {
	var target agent.Agent
	for _, ag := range o.agents {
		if ag.ID() == id {
			target = ag
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	snap, err := o.store.Read()
	if err != nil {
		return nil, err
	}

	obs, err := runOp(ctx, o.budget, func(opCtx context.Context) (types.Observation, error) {
		return target.Observe(opCtx, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s observe: %w", id, err)
	}

	proposal, err := runOp(ctx, o.budget, func(opCtx context.Context) (types.Proposal, error) {
		return target.Decide(opCtx, []types.Observation{obs})
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s decide: %w", id, err)
	}
	return &proposal, nil
}

// --- phase execution ---

type agentFailure struct {
	ID     string
	Op     string
	Health types.Health
	Err    error
}

func (o *Orchestrator) observePhase(ctx context.Context, snap *types.StateSnapshot, skip map[string]bool) ([]types.Observation, []agentFailure) {
	results := make([]*types.Observation, len(o.agents))
	errs := make([]error, len(o.agents))

	g := new(errgroup.Group)
	for i, ag := range o.agents {
		if skip[ag.ID()] {
			continue
		}
		g.Go(func() error {
			obs, err := runOp(ctx, o.budget, func(opCtx context.Context) (types.Observation, error) {
				return ag.Observe(opCtx, snap)
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = &obs
			return nil
		})
	}
	g.Wait()

	return collect(o.agents, results, errs, "observe", skip)
}

func (o *Orchestrator) decidePhase(ctx context.Context, observations []types.Observation, skip map[string]bool) (map[string]types.Proposal, []agentFailure) {
	results := make([]*types.Proposal, len(o.agents))
	errs := make([]error, len(o.agents))

	g := new(errgroup.Group)
	for i, ag := range o.agents {
		if skip[ag.ID()] {
			continue
		}
		g.Go(func() error {
			proposal, err := runOp(ctx, o.budget, func(opCtx context.Context) (types.Proposal, error) {
				return ag.Decide(opCtx, observations)
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = &proposal
			return nil
		})
	}
	g.Wait()

	collected, failures := collect(o.agents, results, errs, "decide", skip)
	proposals := make(map[string]types.Proposal, len(collected))
	for _, p := range collected {
		proposals[p.AgentID] = p
	}
	return proposals, failures
}

func (o *Orchestrator) actPhase(ctx context.Context, plan types.Plan, skip map[string]bool) ([]types.Event, []agentFailure) {
	results := make([][]types.Event, len(o.agents))
	errs := make([]error, len(o.agents))

	g := new(errgroup.Group)
	for i, ag := range o.agents {
		if skip[ag.ID()] {
			continue
		}
		g.Go(func() error {
			events, err := runOp(ctx, o.budget, func(opCtx context.Context) ([]types.Event, error) {
				return ag.Act(opCtx, plan)
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = events
			return nil
		})
	}
	g.Wait()

	var events []types.Event
	var failures []agentFailure
	for i, ag := range o.agents {
		if skip[ag.ID()] {
			continue
		}
		if errs[i] != nil {
			failures = append(failures, agentFailure{
				ID:     ag.ID(),
				Op:     "act",
				Health: failureHealth("act", errs[i]),
				Err:    errs[i],
			})
			continue
		}
		// Registration order, regardless of completion order.
		events = append(events, results[i]...)
	}
	return events, failures
}

// commitPhase persists one phase boundary: the phase result, health
// transitions and failure events for degraded agents, plus any extra
// mutation, in a single atomic commit.
func (o *Orchestrator) commitPhase(pr types.PhaseResult, failures []agentFailure, loopPhase, cycleID string, extra crystal.Mutator) error {
	var committed []types.Event
	_, err := o.store.Commit(func(s *types.StateSnapshot) error {
		committed = committed[:0]
		if loopPhase != "" {
			s.Loop.Phase = loopPhase
		}
		if cycleID != "" {
			s.Loop.CurrentCycleID = cycleID
		}
		if s.Loop.LastResults == nil {
			s.Loop.LastResults = map[string]types.PhaseResult{}
		}
		s.Loop.LastResults[phaseKey(pr.Phase)] = pr

		for _, f := range failures {
			committed = append(committed, applyHealth(s, f.ID, f.Health)...)
			committed = append(committed, types.NewEvent(f.ID, types.EventAgentFailure, map[string]string{
				"op":    f.Op,
				"phase": pr.Phase.Name(),
				"error": f.Err.Error(),
			}))
			xlog.Warn("Agent failed during phase",
				"agent", f.ID,
				"op", f.Op,
				"phase", pr.Phase.Name(),
				"health", f.Health,
				"error", f.Err,
			)
		}

		if extra != nil {
			if err := extra(s); err != nil {
				return err
			}
		}
		crystal.ApplyEvents(s, committed...)
		return nil
	})
	if err != nil {
		return err
	}
	o.emit(committed...)
	return nil
}

func (o *Orchestrator) finalize(record *types.CycleRecord) error {
	var committed []types.Event
	_, err := o.store.Commit(func(s *types.StateSnapshot) error {
		s.CycleHistory = append(s.CycleHistory, *record)
		s.Loop.Phase = "idle"
		s.Loop.CurrentCycleID = ""
		s.Loop.CycleCount++
		ev := types.NewEvent("orchestrator", types.EventOrchestrator, map[string]any{
			"message": "cycle " + record.CycleID + " finalized",
			"outcome": record.Outcome,
			"cycle":   s.Loop.CycleCount,
		})
		committed = []types.Event{ev}
		crystal.ApplyEvents(s, ev)
		return nil
	})
	if err != nil {
		return err
	}
	o.emit(committed...)
	return nil
}

func (o *Orchestrator) emit(events ...types.Event) {
	if o.sink == nil {
		return
	}
	for _, e := range events {
		o.sink(e)
	}
}

// --- helpers ---

// runOp enforces the per-agent time budget. The agent call runs in its own
// goroutine so a stuck agent cannot block the phase; on timeout the
// goroutine is abandoned and the agent is reported unresponsive.
func runOp[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(opCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-opCtx.Done():
		var zero T
		return zero, opCtx.Err()
	}
}

func failureHealth(op string, err error) types.Health {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.HealthUnresponsive
	}
	if op == "act" {
		return types.HealthUnresponsive
	}
	return types.HealthDegraded
}

func collect[T any](agents []agent.Agent, results []*T, errs []error, op string, skip map[string]bool) ([]T, []agentFailure) {
	var out []T
	var failures []agentFailure
	for i, ag := range agents {
		if skip[ag.ID()] {
			continue
		}
		if errs[i] != nil {
			failures = append(failures, agentFailure{
				ID:     ag.ID(),
				Op:     op,
				Health: failureHealth(op, errs[i]),
				Err:    errs[i],
			})
			continue
		}
		if results[i] != nil {
			out = append(out, *results[i])
		}
	}
	return out, failures
}

func phaseResult(phase types.Phase, started time.Time, failures []agentFailure) types.PhaseResult {
	pr := types.PhaseResult{
		Phase:       phase,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	for _, f := range failures {
		pr.Failed = append(pr.Failed, f.ID)
	}
	return pr
}

func phaseKey(p types.Phase) string {
	return strconv.Itoa(int(p))
}

func markFailed(out map[string]bool, failures []agentFailure) {
	for _, f := range failures {
		out[f.ID] = true
	}
}

func hasFailure(failures []agentFailure, id string) bool {
	for _, f := range failures {
		if f.ID == id {
			return true
		}
	}
	return false
}

// orderedProposals returns proposals in agent registration order, the
// tie-break contract Merge relies on.
func orderedProposals(proposals map[string]types.Proposal, agents []agent.Agent) []types.Proposal {
	out := make([]types.Proposal, 0, len(proposals))
	for _, ag := range agents {
		if p, ok := proposals[ag.ID()]; ok {
			out = append(out, p)
		}
	}
	return out
}

func applyHealth(s *types.StateSnapshot, id string, health types.Health) []types.Event {
	rec, ok := s.Agents[id]
	if !ok {
		rec = types.AgentRecord{ID: id}
	}
	if rec.Health == health {
		return nil
	}
	rec.Health = health
	s.Agents[id] = rec
	return []types.Event{
		types.NewEvent(id, types.EventHealthChange, map[string]string{"health": string(health)}),
	}
}

// applyPlanEffects applies core-level adjustments from the merged plan. Only
// known cores are touched; other targets are informational.
func applyPlanEffects(s *types.StateSnapshot, plan types.Plan) {
	for target, adj := range plan.Adjustments {
		name, ok := strings.CutPrefix(target, "core/")
		if !ok {
			continue
		}
		core, exists := s.Cores[name]
		if !exists {
			continue
		}
		core.Level = adj.Value
		s.Cores[name] = core
	}
}
