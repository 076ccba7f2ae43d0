package schedule

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/blind-guess-senior/gamekit/bus"
)

type explosion struct {
	Radius float64
}

type powerUpExpired struct {
	Name string
}

type unboundEvent struct{}

const combatBus bus.ID = "combat"

var _ = Describe("Queue", func() {
	var (
		d *bus.Dispatcher
		q *Queue

		explosions []explosion
		expired    []powerUpExpired
	)

	BeforeEach(func() {
		d = bus.NewDispatcher()
		d.RegisterBus(combatBus)
		bus.RegisterEvent[explosion](d, combatBus)
		bus.RegisterEvent[powerUpExpired](d, combatBus)

		explosions = nil
		expired = nil
		bus.Subscribe(d, func(ev explosion) {
			explosions = append(explosions, ev)
		})
		bus.Subscribe(d, func(ev powerUpExpired) {
			expired = append(expired, ev)
		})

		q = NewQueue(d)
	})

	simSteps := func(n int, dt float64) {
		for i := 0; i < n; i++ {
			q.SimStep(dt)
		}
	}

	It("should deliver a tick-scheduled event exactly at its due tick", func() {
		_, err := EnqueueAfterTicks(q, explosion{Radius: 3}, SimTick, 5)
		Expect(err).NotTo(HaveOccurred())

		simSteps(4, 0.016)
		Expect(explosions).To(BeEmpty())

		q.SimStep(0.016)
		Expect(explosions).To(HaveLen(1))
		Expect(explosions[0].Radius).To(Equal(3.0))

		simSteps(3, 0.016)
		Expect(explosions).To(HaveLen(1))
	})

	It("should deliver a zero-tick delay on the next step", func() {
		_, err := EnqueueAfterTicks(q, explosion{}, SimTick, 0)
		Expect(err).NotTo(HaveOccurred())

		q.SimStep(0.016)
		Expect(explosions).To(HaveLen(1))
	})

	It("should deliver same-tick events in enqueue order", func() {
		_, _ = EnqueueAfterTicks(q, explosion{Radius: 1}, SimTick, 2)
		_, _ = EnqueueAfterTicks(q, explosion{Radius: 2}, SimTick, 2)
		_, _ = EnqueueAfterTicks(q, explosion{Radius: 3}, SimTick, 2)

		simSteps(2, 0.016)

		Expect(explosions).To(Equal([]explosion{
			{Radius: 1}, {Radius: 2}, {Radius: 3},
		}))
	})

	It("should deliver earlier due keys before later ones in one step", func() {
		_, _ = EnqueueAfterTicks(q, explosion{Radius: 2}, SimTick, 2)
		_, _ = EnqueueAfterTicks(q, explosion{Radius: 1}, SimTick, 1)

		// Both become due while the clock is driven past them at once.
		q.mu.Lock()
		q.clocks.simTick += 4
		due := q.collectDue(SimTick)
		q.mu.Unlock()
		deliverAll(due)

		Expect(explosions).To(Equal([]explosion{{Radius: 1}, {Radius: 2}}))
	})

	It("should keep the physics tick clock independent", func() {
		_, _ = EnqueueAfterTicks(q, explosion{}, PhysicsTick, 1)

		simSteps(10, 0.016)
		Expect(explosions).To(BeEmpty())

		q.PhysicsStep(0.02)
		Expect(explosions).To(HaveLen(1))
	})

	It("should deliver a time-scheduled event once enough time passed", func() {
		_, err := EnqueueAfterTime(q, powerUpExpired{Name: "haste"},
			SimTimeUnscaled, 0.05)
		Expect(err).NotTo(HaveOccurred())

		simSteps(4, 0.01)
		Expect(expired).To(BeEmpty())

		q.SimStep(0.01)
		Expect(expired).To(HaveLen(1))
	})

	It("should collapse due times that differ by less than the quantum",
		func() {
			_, _ = EnqueueAfterTime(q, powerUpExpired{Name: "a"},
				SimTimeUnscaled, 0.0101)
			_, _ = EnqueueAfterTime(q, powerUpExpired{Name: "b"},
				SimTimeUnscaled, 0.0096)

			Expect(q.buckets[SimTimeUnscaled].fifo).To(HaveLen(1))

			q.SimStep(0.010)
			Expect(expired).To(Equal([]powerUpExpired{
				{Name: "a"}, {Name: "b"},
			}))
		})

	It("should stretch scaled time by the time scale", func() {
		q.SetTimeScale(2)

		_, _ = EnqueueAfterTime(q, powerUpExpired{}, SimTimeScaled, 0.02)
		_, _ = EnqueueAfterTime(q, powerUpExpired{}, SimTimeUnscaled, 0.02)

		q.SimStep(0.01)
		Expect(expired).To(HaveLen(1))

		q.SimStep(0.01)
		Expect(expired).To(HaveLen(2))
	})

	It("should not deliver a cancelled event", func() {
		id, _ := EnqueueAfterTicks(q, explosion{}, SimTick, 2)

		Expect(q.Cancel(id)).To(BeTrue())

		simSteps(5, 0.016)
		Expect(explosions).To(BeEmpty())
		Expect(q.Pending()).To(Equal(0))
	})

	It("should return false when cancelling after delivery", func() {
		id, _ := EnqueueAfterTicks(q, explosion{}, SimTick, 1)

		q.SimStep(0.016)

		Expect(q.Cancel(id)).To(BeFalse())
	})

	It("should return false when cancelling twice or an unknown id", func() {
		id, _ := EnqueueAfterTicks(q, explosion{}, SimTick, 1)

		Expect(q.Cancel(id)).To(BeTrue())
		Expect(q.Cancel(id)).To(BeFalse())
		Expect(q.Cancel(QueuedID(4242))).To(BeFalse())
	})

	It("should issue strictly increasing ids that are never reused", func() {
		var last QueuedID
		for i := 0; i < 50; i++ {
			id, err := EnqueueAfterTicks(q, explosion{}, SimTick, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(BeNumerically(">", last))
			last = id

			if i%2 == 0 {
				q.Cancel(id)
			}
		}
	})

	It("should fail enqueueing an event type bound to no bus", func() {
		id, err := EnqueueAfterTicks(q, unboundEvent{}, SimTick, 1)

		Expect(err).To(MatchError(bus.ErrUnboundEvent))
		Expect(id).To(Equal(InvalidQueuedID))
	})

	It("should reject a tick delay on a time clock and vice versa", func() {
		_, err := EnqueueAfterTicks(q, explosion{}, SimTimeScaled, 1)
		Expect(err).To(MatchError(ErrClockKind))

		_, err = EnqueueAfterTime(q, explosion{}, PhysicsTick, 0.5)
		Expect(err).To(MatchError(ErrClockKind))
	})

	It("should reject a negative time delay", func() {
		_, err := EnqueueAfterTime(q, explosion{}, SimTimeUnscaled, -0.1)

		Expect(err).To(MatchError(ErrNegativeDelay))
	})

	It("should count pending events", func() {
		_, _ = EnqueueAfterTicks(q, explosion{}, SimTick, 2)
		_, _ = EnqueueAfterTicks(q, explosion{}, PhysicsTick, 2)
		_, _ = EnqueueAfterTime(q, powerUpExpired{}, SimTimeUnscaled, 1)

		Expect(q.Pending()).To(Equal(3))
		Expect(q.PendingByClock()).To(Equal(map[string]int{
			"SimTick":         1,
			"PhysicsTick":     1,
			"SimTimeUnscaled": 1,
		}))

		q.SimStep(0.016)
		q.SimStep(0.016)
		Expect(q.Pending()).To(Equal(1))
	})

	It("should expose clock readings", func() {
		simSteps(3, 0.01)
		q.PhysicsStep(0.02)

		Expect(q.Ticks(SimTick)).To(Equal(uint64(3)))
		Expect(q.Ticks(PhysicsTick)).To(Equal(uint64(1)))
		Expect(q.Now(SimTimeUnscaled)).To(BeNumerically("~", 0.03, 1e-9))
		Expect(q.Now(PhysicsTimeUnscaled)).To(BeNumerically("~", 0.02, 1e-9))
	})

	It("should allow a handler to enqueue during delivery", func() {
		bus.Subscribe(d, func(explosion) {
			_, err := EnqueueAfterTicks(q, powerUpExpired{}, SimTick, 1)
			Expect(err).NotTo(HaveOccurred())
		})
		_, _ = EnqueueAfterTicks(q, explosion{}, SimTick, 1)

		q.SimStep(0.016)
		Expect(expired).To(BeEmpty())

		q.SimStep(0.016)
		Expect(expired).To(HaveLen(1))
	})

	It("should tolerate concurrent enqueue and cancel", func() {
		var wg sync.WaitGroup
		ids := make([][]QueuedID, 8)

		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < 100; i++ {
					id, err := EnqueueAfterTicks(
						q, explosion{}, SimTick, 10)
					Expect(err).NotTo(HaveOccurred())
					ids[w] = append(ids[w], id)
				}
			}(w)
		}
		wg.Wait()

		for _, c := range ids[0] {
			Expect(q.Cancel(c)).To(BeTrue())
		}

		simSteps(10, 0.016)
		Expect(explosions).To(HaveLen(700))
		Expect(q.Pending()).To(Equal(0))
	})
})
