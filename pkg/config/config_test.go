package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vega-foundation/vega/pkg/config"
	"github.com/vega-foundation/vega/core/types"
)

func writeConfig(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "vega.yaml")
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	It("parses a full configuration", func() {
		cfg, err := config.Load(writeConfig(`
listen: ":8080"
statePath: /tmp/crystal.json
cycleCron: "0 */5 * * * *"
agentTimeoutSeconds: 3
retention:
  maxEvents: 200
agents:
  - id: AE-Master
    kind: decision
    params:
      baseResonance: "2.5"
  - id: DataProcessor
    kind: task
    params:
      specialty: data_processing
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Listen).To(Equal(":8080"))
		Expect(cfg.CycleCron).To(Equal("0 */5 * * * *"))
		Expect(cfg.AgentTimeout()).To(Equal(3 * time.Second))
		Expect(cfg.Retention.MaxEvents).To(Equal(200))
		Expect(cfg.Agents).To(HaveLen(2))
		Expect(cfg.Agents[0].Kind).To(Equal(types.AgentKindDecision))
		Expect(cfg.Agents[1].Params).To(HaveKeyWithValue("specialty", "data_processing"))
	})

	It("falls back to the default agent roster when none is declared", func() {
		cfg, err := config.Load(writeConfig(`listen: ":9000"`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Agents).To(HaveLen(3))
		Expect(cfg.Agents[0].ID).To(Equal("AE-Master"))
	})

	It("fails on a missing file", func() {
		_, err := config.Load("/does/not/exist.yaml")
		Expect(err).To(MatchError(config.ErrConfiguration))
	})

	It("fails on malformed yaml", func() {
		_, err := config.Load(writeConfig("agents: [whoops"))
		Expect(err).To(MatchError(config.ErrConfiguration))
	})
})

var _ = Describe("Validate", func() {
	It("rejects duplicate agent ids", func() {
		_, err := config.Load(writeConfig(`
agents:
  - id: twin
    kind: relay
  - id: twin
    kind: relay
`))
		Expect(err).To(MatchError(ContainSubstring("duplicate")))
	})

	It("rejects an unknown agent kind", func() {
		_, err := config.Load(writeConfig(`
agents:
  - id: odd
    kind: quantum
`))
		Expect(err).To(MatchError(ContainSubstring("unknown kind")))
	})

	It("rejects both a cron and an interval schedule", func() {
		_, err := config.Load(writeConfig(`
cycleIntervalSeconds: 30
cycleCron: "* * * * * *"
`))
		Expect(err).To(MatchError(ContainSubstring("mutually exclusive")))
	})

	It("rejects negative retention caps", func() {
		cfg := config.Default()
		cfg.Retention.MaxEvents = -1
		Expect(cfg.Validate()).To(MatchError(config.ErrConfiguration))
	})
})
