package schedule

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"math"
	"reflect"
	"sync"

	"github.com/blind-guess-senior/gamekit/bus"
)

// QueuedID identifies a deferred event. IDs are assigned at enqueue time,
// increase monotonically, and are never reused for the life of the queue.
type QueuedID uint64

// InvalidQueuedID is returned when an event cannot be enqueued.
const InvalidQueuedID QueuedID = 0

// ErrClockKind is returned when the delay form does not match the clock, such
// as a tick delay against a time clock.
var ErrClockKind = errors.New("delay does not match the clock kind")

// ErrNegativeDelay is returned for delays below zero.
var ErrNegativeDelay = errors.New("delay must not be negative")

type queuedEvent struct {
	id      QueuedID
	event   any
	clock   ClockKind
	due     uint64
	deliver func(any)
}

// A Queue holds events until one of the six logical clocks reaches their due
// time, then forwards them to the dispatcher. Events due at the same reading
// are delivered in enqueue order.
type Queue struct {
	dispatcher *bus.Dispatcher

	mu        sync.Mutex
	nextID    QueuedID
	table     map[QueuedID]*queuedEvent
	buckets   [numClocks]bucketSet
	clocks    clockSet
	timeScale float64

	deliveryMu sync.RWMutex
	deliveries map[reflect.Type]func(any)
}

// NewQueue creates a Queue delivering through d. The time scale starts at 1.
func NewQueue(d *bus.Dispatcher) *Queue {
	q := &Queue{
		dispatcher: d,
		table:      make(map[QueuedID]*queuedEvent),
		timeScale:  1,
		deliveries: make(map[reflect.Type]func(any)),
	}

	for i := range q.buckets {
		q.buckets[i].fifo = make(map[uint64][]QueuedID)
	}

	return q
}

// EnqueueAfterTicks schedules ev for delivery once the given tick clock has
// advanced n more steps. n may be zero, in which case the event is delivered
// on the next step of that clock.
func EnqueueAfterTicks[T any](
	q *Queue,
	ev T,
	kind ClockKind,
	n uint64,
) (QueuedID, error) {
	if !kind.IsTick() {
		return InvalidQueuedID,
			fmt.Errorf("%w: %s takes a time delay", ErrClockKind, kind)
	}

	return q.enqueue(ev, reflect.TypeOf((*T)(nil)).Elem(), kind,
		func(c *clockSet) uint64 {
			return c.key(kind) + n
		})
}

// EnqueueAfterTime schedules ev for delivery once the given time clock has
// advanced by the given number of seconds. The due time is quantized to
// millisecond resolution.
func EnqueueAfterTime[T any](
	q *Queue,
	ev T,
	kind ClockKind,
	seconds float64,
) (QueuedID, error) {
	if kind.IsTick() {
		return InvalidQueuedID,
			fmt.Errorf("%w: %s takes a tick delay", ErrClockKind, kind)
	}

	if seconds < 0 || math.IsNaN(seconds) {
		return InvalidQueuedID,
			fmt.Errorf("%w: %f", ErrNegativeDelay, seconds)
	}

	return q.enqueue(ev, reflect.TypeOf((*T)(nil)).Elem(), kind,
		func(c *clockSet) uint64 {
			return quantize(c.seconds(kind) + seconds)
		})
}

func (q *Queue) enqueue(
	ev any,
	t reflect.Type,
	kind ClockKind,
	due func(*clockSet) uint64,
) (QueuedID, error) {
	deliver, err := q.deliveryFor(t)
	if err != nil {
		return InvalidQueuedID, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	qe := &queuedEvent{
		id:      q.nextID,
		event:   ev,
		clock:   kind,
		due:     due(&q.clocks),
		deliver: deliver,
	}

	q.table[qe.id] = qe
	q.buckets[kind].push(qe.due, qe.id)

	return qe.id, nil
}

// deliveryFor resolves and caches the publish closure for an event type. The
// cache has its own lock so that population never serializes behind clock
// advancement, and insertion is double-checked for concurrent first use.
func (q *Queue) deliveryFor(t reflect.Type) (func(any), error) {
	q.deliveryMu.RLock()
	fn, ok := q.deliveries[t]
	q.deliveryMu.RUnlock()
	if ok {
		return fn, nil
	}

	q.deliveryMu.Lock()
	defer q.deliveryMu.Unlock()

	if fn, ok := q.deliveries[t]; ok {
		return fn, nil
	}

	fn, err := q.dispatcher.DeliveryFor(t)
	if err != nil {
		return nil, err
	}
	q.deliveries[t] = fn

	return fn, nil
}

// Cancel removes a pending event so it is never delivered. It returns whether
// the event was still pending. Cancelling an unknown, already-cancelled, or
// already-delivered ID returns false and has no other effect.
//
// The ID is left in its bucket; the flush step discards bucket entries whose
// table row is gone. This keeps Cancel O(1) instead of splicing the bucket.
func (q *Queue) Cancel(id QueuedID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.table[id]; !ok {
		return false
	}

	delete(q.table, id)

	return true
}

// SimStep advances the simulation-phase clocks by one step of dt seconds and
// delivers every event that became due on them. It returns the number of
// events delivered. It must be called from the loop that owns simulation
// updates.
func (q *Queue) SimStep(dt float64) int {
	checkDelta(dt)

	q.mu.Lock()
	q.clocks.simTick++
	q.clocks.simScaled += dt * q.timeScale
	q.clocks.simUnscaled += dt

	due := q.collectDue(SimTick, SimTimeScaled, SimTimeUnscaled)
	q.mu.Unlock()

	return deliverAll(due)
}

// PhysicsStep advances the physics-phase clocks by one step of dt seconds and
// delivers every event that became due on them. It returns the number of
// events delivered.
func (q *Queue) PhysicsStep(dt float64) int {
	checkDelta(dt)

	q.mu.Lock()
	q.clocks.physTick++
	q.clocks.physScaled += dt * q.timeScale
	q.clocks.physUnscaled += dt

	due := q.collectDue(PhysicsTick, PhysicsTimeScaled, PhysicsTimeUnscaled)
	q.mu.Unlock()

	return deliverAll(due)
}

func checkDelta(dt float64) {
	if dt < 0 || math.IsNaN(dt) {
		log.Panicf("stepping with an invalid delta time %f", dt)
	}
}

// collectDue drains, for each listed clock, every bucket whose key is at or
// below the clock's new reading. The caller must hold q.mu. Handlers run
// later, outside the lock, so they can re-enter the queue.
func (q *Queue) collectDue(kinds ...ClockKind) []*queuedEvent {
	var due []*queuedEvent

	for _, kind := range kinds {
		limit := q.clocks.key(kind)
		b := &q.buckets[kind]

		for b.keys.Len() > 0 && b.keys[0] <= limit {
			key := heap.Pop(&b.keys).(uint64)

			for _, id := range b.fifo[key] {
				qe, pending := q.table[id]
				if !pending {
					continue
				}

				delete(q.table, id)
				due = append(due, qe)
			}

			delete(b.fifo, key)
		}
	}

	return due
}

func deliverAll(due []*queuedEvent) int {
	for _, qe := range due {
		qe.deliver(qe.event)
	}

	return len(due)
}

// SetTimeScale sets the multiplier applied to the two scaled time clocks on
// subsequent steps. Time that has already accumulated is not rewritten.
func (q *Queue) SetTimeScale(scale float64) {
	if scale < 0 || math.IsNaN(scale) {
		log.Panicf("invalid time scale %f", scale)
	}

	q.mu.Lock()
	q.timeScale = scale
	q.mu.Unlock()
}

// TimeScale returns the current time scale.
func (q *Queue) TimeScale() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.timeScale
}

// Ticks returns the current reading of a tick clock.
func (q *Queue) Ticks(kind ClockKind) uint64 {
	if !kind.IsTick() {
		log.Panicf("clock %s does not count ticks", kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.clocks.key(kind)
}

// Now returns the current reading of a time clock, in seconds.
func (q *Queue) Now(kind ClockKind) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.clocks.seconds(kind)
}

// Pending returns the number of events waiting to be delivered.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.table)
}

// PendingByClock returns the number of pending events per clock.
func (q *Queue) PendingByClock() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int)
	for _, qe := range q.table {
		counts[qe.clock.String()]++
	}

	return counts
}

// bucketSet orders the pending events of one clock: a FIFO of queued-event
// IDs per due key, plus a min-heap of the keys present so the earliest due
// key is always inspectable first.
type bucketSet struct {
	keys keyHeap
	fifo map[uint64][]QueuedID
}

func (b *bucketSet) push(key uint64, id QueuedID) {
	if _, ok := b.fifo[key]; !ok {
		heap.Push(&b.keys, key)
	}

	b.fifo[key] = append(b.fifo[key], id)
}

type keyHeap []uint64

func (h keyHeap) Len() int {
	return len(h)
}

func (h keyHeap) Less(i, j int) bool {
	return h[i] < h[j]
}

func (h keyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *keyHeap) Push(x interface{}) {
	*h = append(*h, x.(uint64))
}

func (h *keyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	key := old[n-1]
	*h = old[0 : n-1]

	return key
}
