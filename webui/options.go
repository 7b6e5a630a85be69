package webui

import (
	"github.com/vega-foundation/vega/core/crystal"
	"github.com/vega-foundation/vega/core/loop"
	"github.com/vega-foundation/vega/core/resonance"
	"github.com/vega-foundation/vega/core/sse"
)

type Config struct {
	Store        *crystal.TimeCrystal
	Orchestrator *loop.Orchestrator
	Resonance    *resonance.Engine
	Manager      sse.Manager
}

type Option func(*Config)

func WithCrystal(store *crystal.TimeCrystal) Option {
	return func(c *Config) {
		c.Store = store
	}
}

func WithOrchestrator(o *loop.Orchestrator) Option {
	return func(c *Config) {
		c.Orchestrator = o
	}
}

func WithResonance(engine *resonance.Engine) Option {
	return func(c *Config) {
		c.Resonance = engine
	}
}

func WithManager(m sse.Manager) Option {
	return func(c *Config) {
		c.Manager = m
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Manager: sse.NewManager(2),
	}
	c.Apply(opts...)
	return c
}
