package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vega-foundation/vega/core/types"
)

// TaskAgent is a lightweight specialist. Each instance handles one specialty
// and reports completed work as task_completed events.
type TaskAgent struct {
	id             string
	specialty      string
	tasksCompleted atomic.Int64
}

// NewTaskAgent builds a task agent. Params: "specialty" (required).
func NewTaskAgent(id string, params map[string]string) (*TaskAgent, error) {
	specialty := params["specialty"]
	if specialty == "" {
		return nil, fmt.Errorf("agent %s: task agents require a specialty param", id)
	}
	return &TaskAgent{id: id, specialty: specialty}, nil
}

func (a *TaskAgent) ID() string            { return a.id }
func (a *TaskAgent) Kind() types.AgentKind { return types.AgentKindTask }

// TasksCompleted reports how many tasks this agent has finished since start.
func (a *TaskAgent) TasksCompleted() int64 { return a.tasksCompleted.Load() }

func (a *TaskAgent) Observe(ctx context.Context, snapshot *types.StateSnapshot) (types.Observation, error) {
	// Workload pressure approximated by recent event volume.
	recent := len(snapshot.RecentEvents(20))
	return types.Observation{
		AgentID:   a.id,
		Resonance: clampResonance(1.0 + 0.1*float64(recent)),
		Summary:   fmt.Sprintf("specialty %s, %d recent events", a.specialty, recent),
		Details: map[string]float64{
			"recentEvents":   float64(recent),
			"tasksCompleted": float64(a.tasksCompleted.Load()),
		},
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (a *TaskAgent) Decide(ctx context.Context, observations []types.Observation) (types.Proposal, error) {
	// Workload share: one unit of work per observed peer, capped.
	workload := float64(len(observations))
	if workload > 5 {
		workload = 5
	}
	return types.Proposal{
		AgentID: a.id,
		Adjustments: []types.Adjustment{
			{
				Target: "agent/" + a.id + "/workload",
				Value:  workload,
				Reason: "workload share for specialty " + a.specialty,
			},
		},
	}, nil
}

func (a *TaskAgent) Act(ctx context.Context, plan types.Plan) ([]types.Event, error) {
	workload := 1.0
	if adj, ok := plan.Adjustments["agent/"+a.id+"/workload"]; ok {
		workload = adj.Value
	}

	total := a.tasksCompleted.Add(1)

	return []types.Event{
		types.NewEvent(a.id, types.EventTaskCompleted, map[string]any{
			"specialty":      a.specialty,
			"workload":       workload,
			"result":         fmt.Sprintf("[%s] processed workload %.1f", a.specialty, workload),
			"tasksCompleted": total,
		}),
	}, nil
}
