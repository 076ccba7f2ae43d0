package eventlog

import (
	"reflect"

	"github.com/rs/xid"

	"github.com/blind-guess-senior/gamekit/bus"
	"github.com/blind-guess-senior/gamekit/schedule"
)

// PublishRecord is one row in the publish log.
type PublishRecord struct {
	ID       string
	Bus      string
	Kind     string
	Handlers int
	SimTick  uint64
	SimTime  float64
}

// publishTable is the table every Tracer writes into.
const publishTable = "publishes"

// A Tracer is a bus hook that records every delivered publish on the buses it
// is attached to. When a queue is provided, each row carries the simulation
// clock readings at delivery time.
type Tracer struct {
	recorder Recorder
	queue    *schedule.Queue
}

// NewTracer creates a Tracer writing into rec. q may be nil, in which case
// clock columns stay zero. Attach the tracer with bus.AcceptHook.
func NewTracer(rec Recorder, q *schedule.Queue) *Tracer {
	rec.CreateTable(publishTable, PublishRecord{})

	return &Tracer{
		recorder: rec,
		queue:    q,
	}
}

// Func implements bus.Hook. Only the after-publish position produces a row.
func (t *Tracer) Func(ctx bus.HookCtx) {
	if ctx.Pos != bus.HookPosAfterPublish {
		return
	}

	rec := PublishRecord{
		ID:   xid.New().String(),
		Kind: reflect.TypeOf(ctx.Item).String(),
	}

	if b, ok := ctx.Domain.(*bus.Bus); ok {
		rec.Bus = string(b.ID())
	}

	if handlers, ok := ctx.Detail.(int); ok {
		rec.Handlers = handlers
	}

	if t.queue != nil {
		rec.SimTick = t.queue.Ticks(schedule.SimTick)
		rec.SimTime = t.queue.Now(schedule.SimTimeUnscaled)
	}

	t.recorder.InsertData(publishTable, rec)
}
