package bus

import (
	"log"
	"reflect"
	"sync"
)

// ID names a bus. Exactly one live Bus exists per ID within a Dispatcher.
type ID string

// SubID identifies a subscription. A SubID is unique within its
// (bus, event type) pair and is never reused, even after unsubscribing.
type SubID uint64

// InvalidSub is returned when a subscription cannot be created, such as when
// subscribing with a nil handler.
const InvalidSub SubID = 0

type subscription struct {
	id SubID
	fn func(any)
}

// A Bus is a named event channel. It keeps one ordered handler list per event
// type and delivers published events to a snapshot of that list, so handlers
// can freely subscribe and unsubscribe from within their own invocation.
type Bus struct {
	HookableBase

	id ID

	mu       sync.Mutex
	nextSub  SubID
	handlers map[reflect.Type][]subscription
}

func newBus(id ID) *Bus {
	return &Bus{
		id:       id,
		handlers: make(map[reflect.Type][]subscription),
	}
}

// ID returns the name the bus was registered under.
func (b *Bus) ID() ID {
	return b.id
}

func (b *Bus) subscribe(t reflect.Type, fn func(any)) SubID {
	if fn == nil {
		return InvalidSub
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	b.handlers[t] = append(b.handlers[t], subscription{id: b.nextSub, fn: fn})

	return b.nextSub
}

func (b *Bus) unsubscribe(t reflect.Type, id SubID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[t]
	for i, s := range subs {
		if s.id != id {
			continue
		}

		subs = append(subs[:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = subs
		}

		return
	}
}

// UnsubscribeAll drops every subscription on the bus, across all event types,
// in one locked operation.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	b.handlers = make(map[reflect.Type][]subscription)
	b.mu.Unlock()
}

// publish delivers ev to every handler currently subscribed for t. The handler
// list is copied under the lock and invoked outside it, in subscription order.
// Mutations concurrent with the delivery only affect future publishes.
func (b *Bus) publish(t reflect.Type, ev any) {
	b.mu.Lock()
	subs, ok := b.handlers[t]
	if !ok {
		b.mu.Unlock()
		return
	}

	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	hookCtx := HookCtx{
		Domain: b,
		Pos:    HookPosBeforePublish,
		Item:   ev,
		Detail: len(snapshot),
	}
	b.InvokeHook(hookCtx)

	for _, s := range snapshot {
		b.invoke(s, t, ev)
	}

	hookCtx.Pos = HookPosAfterPublish
	b.InvokeHook(hookCtx)
}

// invoke runs one handler. A panicking handler is reported and does not stop
// delivery to the remaining handlers in the same publish.
func (b *Bus) invoke(s subscription, t reflect.Type, ev any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus %s: handler %d for %s panicked: %v",
				b.id, s.id, t, r)
			b.InvokeHook(HookCtx{
				Domain: b,
				Pos:    HookPosHandlerPanic,
				Item:   ev,
				Detail: r,
			})
		}
	}()

	s.fn(ev)
}

// SubscriberCount returns the total number of live subscriptions on the bus.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, subs := range b.handlers {
		n += len(subs)
	}

	return n
}

// EventKinds returns the names of the event types that currently have at
// least one subscriber.
func (b *Bus) EventKinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	kinds := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		kinds = append(kinds, t.String())
	}

	return kinds
}
