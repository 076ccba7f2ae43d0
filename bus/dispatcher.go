package bus

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrUnboundEvent is returned when an event type was never bound to a bus
// with RegisterEvent.
var ErrUnboundEvent = errors.New("event type is not bound to a bus")

type binding struct {
	bus     *Bus
	publish func(any)
}

// A Dispatcher owns one Bus per registered ID and routes typed subscribe,
// unsubscribe, and publish calls to the bus that owns the event type. Buses
// and event bindings are registered explicitly, normally during startup, and
// live for the lifetime of the Dispatcher.
type Dispatcher struct {
	mu       sync.RWMutex
	buses    map[ID]*Bus
	bindings map[reflect.Type]binding
}

// NewDispatcher creates a Dispatcher with no buses registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		buses:    make(map[ID]*Bus),
		bindings: make(map[reflect.Type]binding),
	}
}

// RegisterBus creates the bus named id and returns it. Registering the same
// ID twice is a programmer error and panics.
func (d *Dispatcher) RegisterBus(id ID) *Bus {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buses[id]; ok {
		panic("bus " + string(id) + " already registered")
	}

	b := newBus(id)
	d.buses[id] = b

	return b
}

// Bus returns the bus registered under id. Asking for a bus that was never
// registered is a programmer error and panics.
func (d *Dispatcher) Bus(id ID) *Bus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.buses[id]
	if !ok {
		panic("bus " + string(id) + " not registered")
	}

	return b
}

// BusIDs returns the IDs of all registered buses in lexical order.
func (d *Dispatcher) BusIDs() []ID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]ID, 0, len(d.buses))
	for id := range d.buses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// RegisterEvent binds event type T to the bus named id. Every event type
// belongs to exactly one bus; binding the same type to a second bus panics.
// Rebinding to the same bus is a no-op. The binding also builds the untyped
// publish closure used for deferred delivery, so no reflection-based method
// lookup happens on the delivery path.
func RegisterEvent[T any](d *Dispatcher, id ID) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buses[id]
	if !ok {
		panic("bus " + string(id) + " not registered")
	}

	if prev, bound := d.bindings[t]; bound {
		if prev.bus != b {
			panic(fmt.Sprintf("event %s already bound to bus %s",
				t, prev.bus.id))
		}

		return
	}

	d.bindings[t] = binding{
		bus:     b,
		publish: func(ev any) { b.publish(t, ev) },
	}
}

func (d *Dispatcher) binding(t reflect.Type) (binding, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bd, ok := d.bindings[t]

	return bd, ok
}

func (d *Dispatcher) mustBinding(t reflect.Type) binding {
	bd, ok := d.binding(t)
	if !ok {
		panic(fmt.Sprintf("event %s not bound to any bus", t))
	}

	return bd
}

// Subscribe registers h for events of type T on the bus that owns T and
// returns a fresh subscription handle. A nil handler returns InvalidSub
// without registering anything. Subscribing to an event type that was never
// bound is a programmer error and panics.
func Subscribe[T any](d *Dispatcher, h func(T)) SubID {
	t := reflect.TypeOf((*T)(nil)).Elem()
	bd := d.mustBinding(t)

	if h == nil {
		return InvalidSub
	}

	return bd.bus.subscribe(t, func(ev any) { h(ev.(T)) })
}

// Unsubscribe removes the subscription identified by id for event type T.
// Unknown or already-removed handles are ignored.
func Unsubscribe[T any](d *Dispatcher, id SubID) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	bd := d.mustBinding(t)

	bd.bus.unsubscribe(t, id)
}

// Publish synchronously delivers ev to every handler currently subscribed for
// type T. Publishing with no subscribers is a no-op.
func Publish[T any](d *Dispatcher, ev T) {
	d.mustBinding(reflect.TypeOf((*T)(nil)).Elem()).publish(ev)
}

// UnsubscribeAll drops every subscription on the bus named id.
func (d *Dispatcher) UnsubscribeAll(id ID) {
	d.Bus(id).UnsubscribeAll()
}

// DeliveryFor returns the pre-bound publish function for the given event
// type, or ErrUnboundEvent if the type was never registered. Deferred
// delivery uses this to publish events whose type is only known at runtime.
func (d *Dispatcher) DeliveryFor(t reflect.Type) (func(any), error) {
	bd, ok := d.binding(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnboundEvent, t)
	}

	return bd.publish, nil
}

// BusOf returns the ID of the bus that owns the given event type.
func (d *Dispatcher) BusOf(t reflect.Type) (ID, bool) {
	bd, ok := d.binding(t)
	if !ok {
		return "", false
	}

	return bd.bus.id, true
}
