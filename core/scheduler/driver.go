package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"

	"github.com/vega-foundation/vega/core/loop"
	"github.com/vega-foundation/vega/core/types"
)

// CycleRunner is the surface the driver needs from the orchestrator.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*types.CycleRecord, error)
	Running() bool
}

type ScheduleType string

const (
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeCron     ScheduleType = "cron"
)

// Schedule describes when cycles fire: either a fixed interval or a cron
// expression with seconds precision.
type Schedule struct {
	Type     ScheduleType
	Interval time.Duration
	Cron     string

	parsed cron.Schedule
}

// NewIntervalSchedule fires every d.
func NewIntervalSchedule(d time.Duration) (Schedule, error) {
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be positive, got %s", d)
	}
	return Schedule{Type: ScheduleTypeInterval, Interval: d}, nil
}

// NewCronSchedule fires per the cron expression.
func NewCronSchedule(expr string) (Schedule, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	parsed, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Type: ScheduleTypeCron, Cron: expr, parsed: parsed}, nil
}

// Next returns the first fire time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.Type == ScheduleTypeCron {
		return s.parsed.Next(t)
	}
	return t.Add(s.Interval)
}

// Driver fires full 3-5-8 cycles on a schedule. A tick that lands while a
// cycle is still in flight is skipped rather than queued, so slow cycles
// never pile up.
type Driver struct {
	runner   CycleRunner
	schedule Schedule

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDriver creates a driver over runner. Start must be called to begin
// firing.
func NewDriver(runner CycleRunner, schedule Schedule) *Driver {
	return &Driver{
		runner:   runner,
		schedule: schedule,
	}
}

// Start begins the firing loop.
func (d *Driver) Start() {
	if d.ctx != nil {
		xlog.Warn("Cycle driver already started")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.ctx = ctx
	d.cancel = cancel
	d.wg.Add(1)
	go d.run()
	xlog.Info("Cycle driver started", "schedule", d.schedule.Type, "interval", d.schedule.Interval, "cron", d.schedule.Cron)
}

// Stop halts the firing loop and waits for an in-flight cycle to finish.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	xlog.Info("Cycle driver stopped")
	d.cancel = nil
	d.ctx = nil
}

func (d *Driver) run() {
	defer d.wg.Done()

	timer := time.NewTimer(time.Until(d.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
			d.fire()
			timer.Reset(time.Until(d.schedule.Next(time.Now())))
		}
	}
}

// fire runs one cycle unless one is already in flight.
func (d *Driver) fire() {
	if d.runner.Running() {
		xlog.Warn("Cycle still in flight, skipping tick")
		return
	}

	record, err := d.runner.RunCycle(d.ctx)
	switch {
	case errors.Is(err, loop.ErrCycleRunning):
		xlog.Warn("Cycle still in flight, skipping tick")
	case err != nil:
		xlog.Error("Scheduled cycle failed", "error", err)
	default:
		xlog.Info("Scheduled cycle finished", "cycle_id", record.CycleID, "outcome", record.Outcome)
	}
}
