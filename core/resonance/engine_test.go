package resonance_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vega-foundation/vega/core/crystal"
	"github.com/vega-foundation/vega/core/resonance"
	"github.com/vega-foundation/vega/core/types"
)

var _ = Describe("Engine", func() {
	var (
		store  *crystal.TimeCrystal
		engine *resonance.Engine
	)

	BeforeEach(func() {
		var err error
		store, err = crystal.New(filepath.Join(GinkgoT().TempDir(), "state.json"), crystal.DefaultRetention())
		Expect(err).NotTo(HaveOccurred())
		engine = resonance.NewEngine(store)
	})

	Describe("EnsureCores", func() {
		It("seeds the four default cores once", func() {
			Expect(engine.EnsureCores()).To(Succeed())

			cores, err := engine.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(cores).To(HaveLen(4))
			Expect(cores["alpha"].Type).To(Equal("primary"))
			Expect(cores["vega"].Level).To(BeNumerically("==", 8))
			Expect(cores["vega"].Sync).To(Equal("synchronized"))
			Expect(cores["mirror"].Sync).To(Equal("drifting"))
		})

		It("does not reset levels on a second call", func() {
			Expect(engine.EnsureCores()).To(Succeed())
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				core := s.Cores["alpha"]
				core.Level = 9.5
				s.Cores["alpha"] = core
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(engine.EnsureCores()).To(Succeed())
			cores, err := engine.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(cores["alpha"].Level).To(BeNumerically("==", 9.5))
		})
	})

	Describe("PulseAll", func() {
		It("raises each core by the pulse step, capped at the maximum", func() {
			Expect(engine.EnsureCores()).To(Succeed())
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				core := s.Cores["vega"]
				core.Level = 9.8
				s.Cores["vega"] = core
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			cores, err := engine.PulseAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(cores["alpha"].Level).To(BeNumerically("==", 3.5))
			Expect(cores["vega"].Level).To(BeNumerically("==", 10))
		})

		It("records a pulse event per moved core", func() {
			Expect(engine.EnsureCores()).To(Succeed())
			_, err := engine.PulseAll()
			Expect(err).NotTo(HaveOccurred())

			snap, err := store.Read()
			Expect(err).NotTo(HaveOccurred())
			var pulses int
			for _, e := range snap.Events {
				if e.Kind == types.EventCorePulse {
					pulses++
				}
			}
			Expect(pulses).To(Equal(4))
		})

		It("updates sync labels as levels cross thresholds", func() {
			Expect(engine.EnsureCores()).To(Succeed())
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				core := s.Cores["mirror"]
				core.Level = 2.8
				s.Cores["mirror"] = core
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			cores, err := engine.PulseAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(cores["mirror"].Sync).To(Equal("aligning"))
		})
	})

	Describe("SynchronizeAll", func() {
		It("equalizes every core to the mean level", func() {
			Expect(engine.EnsureCores()).To(Succeed())

			cores, err := engine.SynchronizeAll()
			Expect(err).NotTo(HaveOccurred())
			// (3 + 5 + 8 + 1) / 4
			for _, core := range cores {
				Expect(core.Level).To(BeNumerically("==", 4.25))
				Expect(core.Sync).To(Equal("aligning"))
			}
		})

		It("is a no-op without cores", func() {
			cores, err := engine.SynchronizeAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(cores).To(BeEmpty())
		})
	})
})
