package resonance

import (
	"github.com/mudler/xlog"

	"github.com/vega-foundation/vega/core/crystal"
	"github.com/vega-foundation/vega/core/types"
)

const (
	pulseStep = 0.5
	maxLevel  = 10
)

// defaultCores is the fixed core set seeded at first boot, keyed by the
// lowercase name used in the snapshot and in "core/<name>" plan targets.
var defaultCores = map[string]types.CoreState{
	"alpha":  {Name: "Alpha", Type: "primary", Level: 3},
	"omega":  {Name: "Omega", Type: "harmonic", Level: 5},
	"vega":   {Name: "Vega", Type: "apex", Level: 8},
	"mirror": {Name: "Mirror", Type: "reflective", Level: 1},
}

// Engine manages the resonance cores stored in the snapshot: seeding them at
// boot, pulsing their levels upward and equalizing them on demand. All
// mutation goes through the store's commit path.
type Engine struct {
	store *crystal.TimeCrystal
}

func NewEngine(store *crystal.TimeCrystal) *Engine {
	return &Engine{store: store}
}

// EnsureCores seeds any missing core with its default state. Existing cores
// keep their levels across restarts.
func (e *Engine) EnsureCores() error {
	_, err := e.store.Commit(func(s *types.StateSnapshot) error {
		for key, def := range defaultCores {
			if _, ok := s.Cores[key]; ok {
				continue
			}
			def.Sync = syncStatus(def.Level)
			s.Cores[key] = def
			xlog.Info("Seeded resonance core", "core", key, "type", def.Type, "level", def.Level)
		}
		return nil
	})
	return err
}

// PulseAll raises every core's level by one pulse step, capped at the
// maximum, and records one core_pulse event per core that moved.
func (e *Engine) PulseAll() (map[string]types.CoreState, error) {
	snap, err := e.store.Commit(func(s *types.StateSnapshot) error {
		var events []types.Event
		for key, core := range s.Cores {
			level := core.Level + pulseStep
			if level > maxLevel {
				level = maxLevel
			}
			if level == core.Level {
				continue
			}
			core.Level = level
			core.Sync = syncStatus(level)
			s.Cores[key] = core
			events = append(events, types.NewEvent("resonance", types.EventCorePulse, map[string]any{
				"core":  key,
				"level": level,
				"sync":  core.Sync,
			}))
		}
		crystal.ApplyEvents(s, events...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap.Cores, nil
}

// SynchronizeAll equalizes all cores to their mean level.
func (e *Engine) SynchronizeAll() (map[string]types.CoreState, error) {
	snap, err := e.store.Commit(func(s *types.StateSnapshot) error {
		if len(s.Cores) == 0 {
			return nil
		}
		var sum float64
		for _, core := range s.Cores {
			sum += core.Level
		}
		mean := sum / float64(len(s.Cores))
		for key, core := range s.Cores {
			core.Level = mean
			core.Sync = syncStatus(mean)
			s.Cores[key] = core
		}
		crystal.ApplyEvents(s, types.NewEvent("resonance", types.EventCorePulse, map[string]any{
			"action": "synchronize",
			"level":  mean,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	xlog.Info("Resonance cores synchronized", "cores", len(snap.Cores))
	return snap.Cores, nil
}

// Status returns the current core set.
func (e *Engine) Status() (map[string]types.CoreState, error) {
	snap, err := e.store.Read()
	if err != nil {
		return nil, err
	}
	return snap.Cores, nil
}

// syncStatus buckets a level into the dashboard's sync labels.
func syncStatus(level float64) string {
	switch {
	case level < 3:
		return "drifting"
	case level < 7:
		return "aligning"
	default:
		return "synchronized"
	}
}
