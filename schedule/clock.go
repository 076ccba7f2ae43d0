package schedule

import (
	"log"
	"math"
)

// ClockKind selects one of the six logical clocks a deferred event can be
// scheduled against. The two tick clocks count whole steps; the four time
// clocks accumulate seconds, split by update phase and by whether the global
// time scale applies.
type ClockKind int

const (
	// SimTick counts simulation steps.
	SimTick ClockKind = iota

	// PhysicsTick counts physics steps.
	PhysicsTick

	// SimTimeScaled accumulates simulation delta time multiplied by the
	// global time scale.
	SimTimeScaled

	// SimTimeUnscaled accumulates raw simulation delta time.
	SimTimeUnscaled

	// PhysicsTimeScaled accumulates physics delta time multiplied by the
	// global time scale.
	PhysicsTimeScaled

	// PhysicsTimeUnscaled accumulates raw physics delta time.
	PhysicsTimeUnscaled

	numClocks int = iota
)

func (k ClockKind) String() string {
	switch k {
	case SimTick:
		return "SimTick"
	case PhysicsTick:
		return "PhysicsTick"
	case SimTimeScaled:
		return "SimTimeScaled"
	case SimTimeUnscaled:
		return "SimTimeUnscaled"
	case PhysicsTimeScaled:
		return "PhysicsTimeScaled"
	case PhysicsTimeUnscaled:
		return "PhysicsTimeUnscaled"
	default:
		return "ClockKind(unknown)"
	}
}

// IsTick reports whether the clock counts whole steps rather than seconds.
func (k ClockKind) IsTick() bool {
	return k == SimTick || k == PhysicsTick
}

// timeQuantum is the resolution of time-based due keys. Readings and due
// times are rounded to this unit before comparison so that accumulated
// floating-point drift cannot push two logically equal times into different
// buckets.
const timeQuantum = 1e-3

func quantize(seconds float64) uint64 {
	if math.IsNaN(seconds) {
		log.Panic("invalid time")
	}

	return uint64(math.Round(seconds / timeQuantum))
}

// clockSet holds the current reading of all six clocks.
type clockSet struct {
	simTick      uint64
	physTick     uint64
	simScaled    float64
	simUnscaled  float64
	physScaled   float64
	physUnscaled float64
}

// key converts the current reading of a clock into bucket-key units.
func (c *clockSet) key(k ClockKind) uint64 {
	switch k {
	case SimTick:
		return c.simTick
	case PhysicsTick:
		return c.physTick
	default:
		return quantize(c.seconds(k))
	}
}

// seconds returns the reading of a time clock.
func (c *clockSet) seconds(k ClockKind) float64 {
	switch k {
	case SimTimeScaled:
		return c.simScaled
	case SimTimeUnscaled:
		return c.simUnscaled
	case PhysicsTimeScaled:
		return c.physScaled
	case PhysicsTimeUnscaled:
		return c.physUnscaled
	default:
		log.Panicf("clock %s does not measure time", k)
		return 0
	}
}
