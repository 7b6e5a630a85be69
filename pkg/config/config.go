package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vega-foundation/vega/core/types"
	"github.com/vega-foundation/vega/pkg/xstrings"
)

// ErrConfiguration wraps any malformed or inconsistent configuration.
var ErrConfiguration = errors.New("invalid configuration")

// AgentConfig declares one agent to register, in file order. File order is
// meaningful: it becomes the registration order used for proposal tie-breaks.
type AgentConfig struct {
	ID     string            `yaml:"id"`
	Kind   types.AgentKind   `yaml:"kind"`
	Params map[string]string `yaml:"params,omitempty"`
}

// RetentionConfig caps the snapshot's append-only sections. Zero means the
// default for that section.
type RetentionConfig struct {
	MaxEvents         int `yaml:"maxEvents,omitempty"`
	MaxCommunications int `yaml:"maxCommunications,omitempty"`
	MaxCycleHistory   int `yaml:"maxCycleHistory,omitempty"`
}

// Config is the full file-based configuration.
type Config struct {
	Listen    string `yaml:"listen,omitempty"`
	StatePath string `yaml:"statePath,omitempty"`

	Agents []AgentConfig `yaml:"agents"`

	Retention RetentionConfig `yaml:"retention,omitempty"`

	// Exactly one of the two schedules may be set; neither disables the
	// driver entirely.
	CycleIntervalSeconds int    `yaml:"cycleIntervalSeconds,omitempty"`
	CycleCron            string `yaml:"cycleCron,omitempty"`

	AgentTimeoutSeconds int `yaml:"agentTimeoutSeconds,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:               ":3000",
		StatePath:            "state/crystal.json",
		CycleIntervalSeconds: 60,
		AgentTimeoutSeconds:  10,
		Agents: []AgentConfig{
			{ID: "AE-Master", Kind: types.AgentKindDecision},
			{ID: "TaskRunner", Kind: types.AgentKindTask, Params: map[string]string{"specialty": "general"}},
			{ID: "Orchestrator-Relay", Kind: types.AgentKindRelay},
		},
	}
}

// Load reads and validates a YAML configuration file. Unset fields fall back
// to the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, path, err)
	}

	cfg := Default()
	cfg.Agents = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = Default().Agents
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	ids := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agent with empty id", ErrConfiguration)
		}
		if !a.Kind.Valid() {
			return fmt.Errorf("%w: agent %s has unknown kind %q", ErrConfiguration, a.ID, a.Kind)
		}
		ids = append(ids, a.ID)
	}
	if len(xstrings.UniqueSlice(ids)) != len(ids) {
		return fmt.Errorf("%w: duplicate agent ids", ErrConfiguration)
	}

	if c.CycleIntervalSeconds < 0 {
		return fmt.Errorf("%w: cycleIntervalSeconds must not be negative", ErrConfiguration)
	}
	if c.CycleIntervalSeconds > 0 && c.CycleCron != "" {
		return fmt.Errorf("%w: cycleIntervalSeconds and cycleCron are mutually exclusive", ErrConfiguration)
	}
	if c.AgentTimeoutSeconds < 0 {
		return fmt.Errorf("%w: agentTimeoutSeconds must not be negative", ErrConfiguration)
	}
	if c.Retention.MaxEvents < 0 || c.Retention.MaxCommunications < 0 || c.Retention.MaxCycleHistory < 0 {
		return fmt.Errorf("%w: retention caps must not be negative", ErrConfiguration)
	}
	return nil
}

// AgentTimeout returns the per-agent budget as a duration.
func (c *Config) AgentTimeout() time.Duration {
	if c.AgentTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// CycleInterval returns the interval schedule as a duration.
func (c *Config) CycleInterval() time.Duration {
	if c.CycleIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.CycleIntervalSeconds) * time.Second
}
