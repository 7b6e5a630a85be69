package webui

import (
	"errors"
	"strconv"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mudler/xlog"

	"github.com/vega-foundation/vega/core/loop"
	"github.com/vega-foundation/vega/core/sse"
)

func (app *App) registerRoutes(webapp *fiber.App) {

	webapp.Get("/", func(c *fiber.Ctx) error {
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		}
		return c.Render("views/index", fiber.Map{
			"Version":    snap.Version,
			"Phase":      snap.Loop.Phase,
			"CycleCount": snap.Loop.CycleCount,
			"AgentCount": len(snap.Agents),
			"CoreCount":  len(snap.Cores),
		})
	})

	webapp.Get("/sse", func(c *fiber.Ctx) error {
		app.config.Manager.Handle(c, sse.NewClient(uuid.NewString()))
		return nil
	})

	webapp.Get("/api/status", func(c *fiber.Ctx) error {
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		var lastOutcome string
		if last := snap.LastCycle(); last != nil {
			lastOutcome = string(last.Outcome)
		}
		return c.JSON(fiber.Map{
			"version":     snap.Version,
			"phase":       snap.Loop.Phase,
			"cycleCount":  snap.Loop.CycleCount,
			"agentCount":  len(snap.Agents),
			"eventCount":  len(snap.Events),
			"lastOutcome": lastOutcome,
			"running":     app.config.Orchestrator.Running(),
		})
	})

	webapp.Get("/api/agents", func(c *fiber.Ctx) error {
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		// Registration order, not map order.
		ordered := []fiber.Map{}
		for _, id := range app.config.Orchestrator.Agents() {
			rec, ok := snap.Agents[id]
			if !ok {
				continue
			}
			ordered = append(ordered, fiber.Map{
				"id":          rec.ID,
				"kind":        rec.Kind,
				"health":      rec.Health,
				"lastActedAt": rec.LastActedAt,
			})
		}
		return c.JSON(fiber.Map{
			"agents":     ordered,
			"agentCount": len(ordered),
		})
	})

	webapp.Get("/api/agent/:id", func(c *fiber.Ctx) error {
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		rec, ok := snap.Agents[c.Params("id")]
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "agent not found"})
		}
		return c.JSON(rec)
	})

	webapp.Post("/api/agent/:id/decide", func(c *fiber.Ctx) error {
		proposal, err := app.config.Orchestrator.InspectDecision(c.Context(), c.Params("id"))
		if errors.Is(err, loop.ErrAgentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(proposal)
	})

	webapp.Get("/api/events", func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a non-negative integer"})
		}
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"events": snap.RecentEvents(limit)})
	})

	webapp.Get("/api/crystal", func(c *fiber.Ctx) error {
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(snap)
	})

	webapp.Get("/api/loop/status", func(c *fiber.Ctx) error {
		snap, err := app.config.Store.Read()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"loop":      snap.Loop,
			"running":   app.config.Orchestrator.Running(),
			"lastCycle": snap.LastCycle(),
		})
	})

	webapp.Post("/api/loop/run", func(c *fiber.Ctx) error {
		record, err := app.config.Orchestrator.RunCycle(c.Context())
		if errors.Is(err, loop.ErrCycleRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			xlog.Error("Manual cycle failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(record)
	})

	webapp.Post("/api/loop/phase/:n", func(c *fiber.Ctx) error {
		n, err := strconv.Atoi(c.Params("n"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "phase must be numeric"})
		}
		result, err := app.config.Orchestrator.RunPhase(c.Context(), n)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(result)
	})

	webapp.Get("/api/resonance", func(c *fiber.Ctx) error {
		cores, err := app.config.Resonance.Status()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"cores": cores})
	})

	webapp.Post("/api/resonance/pulse", func(c *fiber.Ctx) error {
		cores, err := app.config.Resonance.PulseAll()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"cores": cores})
	})

	webapp.Post("/api/resonance/sync", func(c *fiber.Ctx) error {
		cores, err := app.config.Resonance.SynchronizeAll()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"cores": cores})
	})
}
