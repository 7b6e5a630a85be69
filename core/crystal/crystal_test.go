package crystal_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vega-foundation/vega/core/crystal"
	"github.com/vega-foundation/vega/core/types"
)

var _ = Describe("TimeCrystal", func() {
	var (
		dir   string
		path  string
		store *crystal.TimeCrystal
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "crystal_test_*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "time_crystal.json")

		store, err = crystal.New(path, crystal.DefaultRetention())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Describe("Boot", func() {
		It("creates the empty skeleton on first boot", func() {
			snap, err := store.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Version).To(Equal(uint64(0)))
			Expect(snap.Agents).To(BeEmpty())
			Expect(snap.Events).To(BeEmpty())
			Expect(snap.CycleHistory).To(BeEmpty())
			Expect(snap.Loop.Phase).To(Equal("idle"))
			Expect(snap.Meta.Created).NotTo(BeZero())

			_, err = os.Stat(path)
			Expect(err).NotTo(HaveOccurred())
		})

		It("loads the existing document across instances", func() {
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				s.Agents["AE-Master"] = types.AgentRecord{
					ID:     "AE-Master",
					Kind:   types.AgentKindDecision,
					Health: types.HealthHealthy,
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			reopened, err := crystal.New(path, crystal.DefaultRetention())
			Expect(err).NotTo(HaveOccurred())

			snap, err := reopened.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Version).To(Equal(uint64(1)))
			Expect(snap.Agents).To(HaveKey("AE-Master"))
		})

		It("rejects a corrupt document", func() {
			Expect(os.WriteFile(path, []byte("{not json"), 0644)).To(Succeed())
			_, err := crystal.New(path, crystal.DefaultRetention())
			Expect(err).To(MatchError(crystal.ErrStorageUnavailable))
		})
	})

	Describe("Commit", func() {
		It("increments the version by exactly one per commit", func() {
			for i := 1; i <= 3; i++ {
				snap, err := store.Commit(func(s *types.StateSnapshot) error { return nil })
				Expect(err).NotTo(HaveOccurred())
				Expect(snap.Version).To(Equal(uint64(i)))
			}
		})

		It("makes every commit observable by a subsequent read", func() {
			committed, err := store.Commit(func(s *types.StateSnapshot) error {
				s.Loop.CycleCount = 7
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			snap, err := store.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Version).To(Equal(committed.Version))
			Expect(snap.Loop.CycleCount).To(Equal(7))
		})

		It("aborts without a write when the mutator fails", func() {
			before, _ := store.Read()

			boom := errors.New("boom")
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				s.Loop.CycleCount = 99
				return boom
			})
			Expect(err).To(MatchError(boom))

			after, _ := store.Read()
			Expect(after.Version).To(Equal(before.Version))
			Expect(after.Loop.CycleCount).To(Equal(0))
		})

		It("does not leak mutations between the mutator copy and readers", func() {
			var held *types.StateSnapshot
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				held = s
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			held.Loop.CycleCount = 42
			snap, _ := store.Read()
			Expect(snap.Loop.CycleCount).To(Equal(0))
		})

		It("retries a conflicting commit and lands on base+2", func() {
			base := store.Version()

			nested := false
			snap, err := store.Commit(func(s *types.StateSnapshot) error {
				if !nested {
					nested = true
					// A commit landing while the outer mutation is in
					// flight invalidates the outer base version.
					_, err := store.Commit(func(inner *types.StateSnapshot) error {
						inner.Loop.CycleCount++
						return nil
					})
					Expect(err).NotTo(HaveOccurred())
				}
				s.Loop.CycleCount += 10
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Version).To(Equal(base + 2))
			// The retried mutator re-applied on top of the nested commit:
			// neither update was lost.
			Expect(snap.Loop.CycleCount).To(Equal(11))
		})

		It("never loses updates under concurrent commits", func() {
			const writers = 5
			var wg sync.WaitGroup
			errs := make([]error, writers)

			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = store.Commit(func(s *types.StateSnapshot) error {
						s.Loop.CycleCount++
						return nil
					})
				}(i)
			}
			wg.Wait()

			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			snap, _ := store.Read()
			Expect(snap.Version).To(Equal(uint64(writers)))
			Expect(snap.Loop.CycleCount).To(Equal(writers))
		})
	})

	Describe("Read", func() {
		It("is idempotent with no intervening commit", func() {
			_, err := store.Commit(func(s *types.StateSnapshot) error {
				s.Events = append(s.Events, types.NewEvent("system", types.EventOrchestrator, map[string]string{"message": "boot"}))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			first, err := store.Read()
			Expect(err).NotTo(HaveOccurred())
			second, err := store.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})
	})

	Describe("AppendEvents", func() {
		It("appends and trims in one atomic write", func() {
			small, err := crystal.New(filepath.Join(dir, "small.json"), crystal.Retention{MaxEvents: 3})
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 5; i++ {
				Expect(small.AppendEvents(types.NewEvent("a", types.EventDecision, map[string]int{"n": i}))).To(Succeed())
			}

			snap, _ := small.Read()
			Expect(snap.Events).To(HaveLen(3))
			Expect(string(snap.Events[0].Payload)).To(ContainSubstring(`"n":2`))
			Expect(snap.Version).To(Equal(uint64(5)))
		})

		It("mirrors relay events into the communications log", func() {
			comm := types.Communication{From: "relay", To: "AE-Master", Message: "hello"}
			Expect(store.AppendEvents(types.NewEvent("relay", types.EventRelay, comm))).To(Succeed())

			snap, _ := store.Read()
			Expect(snap.Communications).To(HaveLen(1))
			Expect(snap.Communications[0].To).To(Equal("AE-Master"))
		})

		It("is a no-op for an empty batch", func() {
			before := store.Version()
			Expect(store.AppendEvents()).To(Succeed())
			Expect(store.Version()).To(Equal(before))
		})
	})

	Describe("Durability", func() {
		It("leaves no staging files behind after commits", func() {
			for i := 0; i < 3; i++ {
				_, err := store.Commit(func(s *types.StateSnapshot) error { return nil })
				Expect(err).NotTo(HaveOccurred())
			}
			entries, err := os.ReadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Name()).To(Equal("time_crystal.json"))
		})
	})
})
