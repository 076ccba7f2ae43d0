package bus

import (
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type playerSpawned struct {
	Name string
}

type playerDied struct {
	Cause string
}

type menuOpened struct {
	Screen string
}

const (
	gameplayBus ID = "gameplay"
	uiBus       ID = "ui"
)

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.RegisterBus(gameplayBus)
	d.RegisterBus(uiBus)
	RegisterEvent[playerSpawned](d, gameplayBus)
	RegisterEvent[playerDied](d, gameplayBus)
	RegisterEvent[menuOpened](d, uiBus)

	return d
}

var _ = Describe("Bus", func() {
	var d *Dispatcher

	BeforeEach(func() {
		d = newTestDispatcher()
	})

	It("should invoke every current subscriber exactly once, in order", func() {
		var order []string
		Subscribe(d, func(playerSpawned) { order = append(order, "first") })
		Subscribe(d, func(playerSpawned) { order = append(order, "second") })
		Subscribe(d, func(playerSpawned) { order = append(order, "third") })

		Publish(d, playerSpawned{Name: "p1"})

		Expect(order).To(Equal([]string{"first", "second", "third"}))
	})

	It("should pass the published value to the handler", func() {
		var got playerSpawned
		Subscribe(d, func(ev playerSpawned) { got = ev })

		Publish(d, playerSpawned{Name: "p2"})

		Expect(got.Name).To(Equal("p2"))
	})

	It("should do nothing when publishing with no subscribers", func() {
		Expect(func() {
			Publish(d, playerDied{Cause: "lava"})
		}).NotTo(Panic())
	})

	It("should not deliver to unsubscribed handlers", func() {
		count := 0
		id := Subscribe(d, func(playerSpawned) { count++ })

		Publish(d, playerSpawned{})
		Unsubscribe[playerSpawned](d, id)
		Publish(d, playerSpawned{})

		Expect(count).To(Equal(1))
	})

	It("should keep event types isolated", func() {
		spawns, deaths := 0, 0
		Subscribe(d, func(playerSpawned) { spawns++ })
		Subscribe(d, func(playerDied) { deaths++ })

		Publish(d, playerSpawned{})

		Expect(spawns).To(Equal(1))
		Expect(deaths).To(Equal(0))
	})

	It("should return InvalidSub for a nil handler", func() {
		id := Subscribe[playerSpawned](d, nil)

		Expect(id).To(Equal(InvalidSub))
		Expect(d.Bus(gameplayBus).SubscriberCount()).To(Equal(0))
	})

	It("should ignore unsubscribing an unknown handle", func() {
		Subscribe(d, func(playerSpawned) {})

		Expect(func() {
			Unsubscribe[playerSpawned](d, SubID(999))
		}).NotTo(Panic())
		Expect(d.Bus(gameplayBus).SubscriberCount()).To(Equal(1))
	})

	It("should issue strictly increasing handles that are never reused", func() {
		seen := make(map[SubID]bool)
		var last SubID

		for i := 0; i < 100; i++ {
			id := Subscribe(d, func(playerSpawned) {})
			Expect(id).To(BeNumerically(">", last))
			Expect(seen[id]).To(BeFalse())
			seen[id] = true
			last = id

			Unsubscribe[playerSpawned](d, id)
		}
	})

	It("should remove the event type entry when the last handler leaves", func() {
		b := d.Bus(gameplayBus)
		id1 := Subscribe(d, func(playerSpawned) {})
		id2 := Subscribe(d, func(playerSpawned) {})

		Unsubscribe[playerSpawned](d, id1)
		Expect(b.handlers).To(HaveKey(reflect.TypeOf((*playerSpawned)(nil)).Elem()))

		Unsubscribe[playerSpawned](d, id2)
		Expect(b.handlers).NotTo(HaveKey(reflect.TypeOf((*playerSpawned)(nil)).Elem()))
	})

	It("should deliver to the snapshot when a handler unsubscribes "+
		"the next handler mid-publish", func() {
		count2 := 0
		var id2 SubID
		Subscribe(d, func(playerSpawned) {
			Unsubscribe[playerSpawned](d, id2)
		})
		id2 = Subscribe(d, func(playerSpawned) { count2++ })

		Publish(d, playerSpawned{})
		Expect(count2).To(Equal(1))

		Publish(d, playerSpawned{})
		Expect(count2).To(Equal(1))
	})

	It("should allow a handler to subscribe during its own publish", func() {
		lateCount := 0
		Subscribe(d, func(playerSpawned) {
			Subscribe(d, func(playerDied) { lateCount++ })
		})

		Publish(d, playerSpawned{})
		Publish(d, playerDied{})

		Expect(lateCount).To(Equal(1))
	})

	It("should isolate a panicking handler from the rest of the snapshot",
		func() {
			secondRan := false
			Subscribe(d, func(playerSpawned) { panic("boom") })
			Subscribe(d, func(playerSpawned) { secondRan = true })

			Expect(func() {
				Publish(d, playerSpawned{})
			}).NotTo(Panic())
			Expect(secondRan).To(BeTrue())
		})

	It("should clear every event type with UnsubscribeAll", func() {
		count := 0
		Subscribe(d, func(playerSpawned) { count++ })
		Subscribe(d, func(playerDied) { count++ })

		d.UnsubscribeAll(gameplayBus)
		Publish(d, playerSpawned{})
		Publish(d, playerDied{})

		Expect(count).To(Equal(0))
		Expect(d.Bus(gameplayBus).SubscriberCount()).To(Equal(0))
	})

	It("should not touch other buses with UnsubscribeAll", func() {
		uiCount := 0
		Subscribe(d, func(menuOpened) { uiCount++ })

		d.UnsubscribeAll(gameplayBus)
		Publish(d, menuOpened{})

		Expect(uiCount).To(Equal(1))
	})
})

type countingHook struct {
	before, after, panics int
}

func (h *countingHook) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosBeforePublish:
		h.before++
	case HookPosAfterPublish:
		h.after++
	case HookPosHandlerPanic:
		h.panics++
	}
}

var _ = Describe("Bus hooks", func() {
	var (
		d    *Dispatcher
		hook *countingHook
	)

	BeforeEach(func() {
		d = newTestDispatcher()
		hook = &countingHook{}
		d.Bus(gameplayBus).AcceptHook(hook)
	})

	It("should fire before and after each delivered publish", func() {
		Subscribe(d, func(playerSpawned) {})

		Publish(d, playerSpawned{})
		Publish(d, playerSpawned{})

		Expect(hook.before).To(Equal(2))
		Expect(hook.after).To(Equal(2))
	})

	It("should not fire for a publish with no subscribers", func() {
		Publish(d, playerSpawned{})

		Expect(hook.before).To(Equal(0))
	})

	It("should report handler panics", func() {
		Subscribe(d, func(playerSpawned) { panic("boom") })

		Publish(d, playerSpawned{})

		Expect(hook.panics).To(Equal(1))
		Expect(hook.after).To(Equal(1))
	})
})

var _ = Describe("Dispatcher", func() {
	It("should panic when registering the same bus twice", func() {
		d := NewDispatcher()
		d.RegisterBus(gameplayBus)

		Expect(func() {
			d.RegisterBus(gameplayBus)
		}).To(Panic())
	})

	It("should panic when resolving an unregistered bus", func() {
		d := NewDispatcher()

		Expect(func() {
			d.Bus("nope")
		}).To(Panic())
	})

	It("should panic when binding an event to an unregistered bus", func() {
		d := NewDispatcher()

		Expect(func() {
			RegisterEvent[playerSpawned](d, gameplayBus)
		}).To(Panic())
	})

	It("should panic when rebinding an event to a different bus", func() {
		d := newTestDispatcher()

		Expect(func() {
			RegisterEvent[playerSpawned](d, uiBus)
		}).To(Panic())
	})

	It("should accept rebinding an event to the same bus", func() {
		d := newTestDispatcher()

		Expect(func() {
			RegisterEvent[playerSpawned](d, gameplayBus)
		}).NotTo(Panic())
	})

	It("should panic when subscribing to an unbound event type", func() {
		d := NewDispatcher()
		d.RegisterBus(gameplayBus)

		Expect(func() {
			Subscribe(d, func(playerSpawned) {})
		}).To(Panic())
	})

	It("should report the owning bus of a bound event type", func() {
		d := newTestDispatcher()

		id, ok := d.BusOf(reflect.TypeOf((*menuOpened)(nil)).Elem())
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(uiBus))

		_, ok = d.BusOf(reflect.TypeOf((*int)(nil)).Elem())
		Expect(ok).To(BeFalse())
	})

	It("should list bus IDs in lexical order", func() {
		d := newTestDispatcher()

		Expect(d.BusIDs()).To(Equal([]ID{gameplayBus, uiBus}))
	})

	It("should hand out a delivery closure for bound event types", func() {
		d := newTestDispatcher()
		got := ""
		Subscribe(d, func(ev playerSpawned) { got = ev.Name })

		deliver, err := d.DeliveryFor(reflect.TypeOf((*playerSpawned)(nil)).Elem())
		Expect(err).NotTo(HaveOccurred())

		deliver(playerSpawned{Name: "runtime"})
		Expect(got).To(Equal("runtime"))
	})

	It("should return ErrUnboundEvent for unknown event types", func() {
		d := newTestDispatcher()

		_, err := d.DeliveryFor(reflect.TypeOf((*int)(nil)).Elem())
		Expect(err).To(MatchError(ErrUnboundEvent))
	})
})
