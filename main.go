package main

import (
	"log"
	"os"
	"strconv"

	"github.com/mudler/xlog"

	"github.com/vega-foundation/vega/core/agent"
	"github.com/vega-foundation/vega/core/crystal"
	"github.com/vega-foundation/vega/core/loop"
	"github.com/vega-foundation/vega/core/resonance"
	"github.com/vega-foundation/vega/core/scheduler"
	"github.com/vega-foundation/vega/core/sse"
	"github.com/vega-foundation/vega/core/types"
	"github.com/vega-foundation/vega/pkg/config"
	"github.com/vega-foundation/vega/webui"
)

var configPath = os.Getenv("VEGA_CONFIG")
var listen = os.Getenv("VEGA_LISTEN")
var statePath = os.Getenv("VEGA_STATE_PATH")
var cycleInterval = os.Getenv("VEGA_CYCLE_INTERVAL_SECONDS")
var cycleCron = os.Getenv("VEGA_CYCLE_CRON")

func loadConfig() *config.Config {
	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			panic(err)
		}
	} else {
		cfg = config.Default()
	}

	// Environment overrides the file.
	if listen != "" {
		cfg.Listen = listen
	}
	if statePath != "" {
		cfg.StatePath = statePath
	}
	if cycleInterval != "" {
		seconds, err := strconv.Atoi(cycleInterval)
		if err != nil {
			panic("VEGA_CYCLE_INTERVAL_SECONDS must be an integer")
		}
		cfg.CycleIntervalSeconds = seconds
	}
	if cycleCron != "" {
		cfg.CycleCron = cycleCron
		cfg.CycleIntervalSeconds = 0
	}

	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func main() {
	cfg := loadConfig()

	retention := crystal.DefaultRetention()
	if cfg.Retention.MaxEvents > 0 {
		retention.MaxEvents = cfg.Retention.MaxEvents
	}
	if cfg.Retention.MaxCommunications > 0 {
		retention.MaxCommunications = cfg.Retention.MaxCommunications
	}
	if cfg.Retention.MaxCycleHistory > 0 {
		retention.MaxCycleHistory = cfg.Retention.MaxCycleHistory
	}

	store, err := crystal.New(cfg.StatePath, retention)
	if err != nil {
		panic(err)
	}

	agents := make([]agent.Agent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		built, err := agent.Build(ac.ID, ac.Kind, ac.Params)
		if err != nil {
			panic(err)
		}
		agents = append(agents, built)
	}

	engine := resonance.NewEngine(store)
	if err := engine.EnsureCores(); err != nil {
		panic(err)
	}

	manager := sse.NewManager(2)
	orchestrator := loop.New(store, agents,
		loop.WithAgentBudget(cfg.AgentTimeout()),
		loop.WithEventSink(func(e types.Event) {
			manager.Send(sse.FromEvent(e))
		}),
	)
	if err := orchestrator.Register(); err != nil {
		panic(err)
	}

	var schedule scheduler.Schedule
	if cfg.CycleCron != "" {
		schedule, err = scheduler.NewCronSchedule(cfg.CycleCron)
	} else {
		schedule, err = scheduler.NewIntervalSchedule(cfg.CycleInterval())
	}
	if err != nil {
		panic(err)
	}

	driver := scheduler.NewDriver(orchestrator, schedule)
	driver.Start()
	defer driver.Stop()

	app := webui.NewApp(
		webui.WithCrystal(store),
		webui.WithOrchestrator(orchestrator),
		webui.WithResonance(engine),
		webui.WithManager(manager),
	)

	xlog.Info("VEGA system online", "listen", cfg.Listen, "agents", len(agents), "state", cfg.StatePath)
	log.Fatal(app.Listen(cfg.Listen))
}
