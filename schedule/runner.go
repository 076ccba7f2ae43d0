package schedule

import (
	"log"
	"sync"
	"time"
)

// Rate is a stepping frequency in steps per second.
type Rate float64

// Period returns the wall-clock time between two consecutive steps.
func (r Rate) Period() time.Duration {
	if r <= 0 {
		log.Panic("rate must be positive")
	}

	return time.Duration(float64(time.Second) / float64(r))
}

// A Runner drives a Queue from the wall clock, standing in for an engine
// loop. Simulation steps fire at the frame rate with the measured delta time;
// physics steps run on a fixed timestep accumulated from the same deltas.
type Runner struct {
	queue      *Queue
	simPeriod  time.Duration
	physPeriod time.Duration

	pauseLock    sync.Mutex
	isPaused     bool
	isPausedLock sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRunner creates a Runner stepping q at the given frame and physics rates.
func NewRunner(q *Queue, frameRate, physicsRate Rate) *Runner {
	return &Runner{
		queue:      q,
		simPeriod:  frameRate.Period(),
		physPeriod: physicsRate.Period(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the loop in its own goroutine.
func (r *Runner) Start() {
	go r.run()
}

func (r *Runner) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.simPeriod)
	defer ticker.Stop()

	last := time.Now()
	var acc time.Duration

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.pauseLock.Lock()

			now := time.Now()
			dt := now.Sub(last)
			last = now

			r.queue.SimStep(dt.Seconds())

			acc += dt
			for acc >= r.physPeriod {
				r.queue.PhysicsStep(r.physPeriod.Seconds())
				acc -= r.physPeriod
			}

			r.pauseLock.Unlock()
		}
	}
}

// Pause prevents the Runner from stepping until Continue is called. Wall
// time that passes while paused is still counted into the next step's delta.
func (r *Runner) Pause() {
	r.isPausedLock.Lock()
	defer r.isPausedLock.Unlock()

	if r.isPaused {
		return
	}

	r.pauseLock.Lock()
	r.isPaused = true
}

// Continue resumes a paused Runner.
func (r *Runner) Continue() {
	r.isPausedLock.Lock()
	defer r.isPausedLock.Unlock()

	if !r.isPaused {
		return
	}

	r.pauseLock.Unlock()
	r.isPaused = false
}

// IsPaused reports whether the Runner is currently paused.
func (r *Runner) IsPaused() bool {
	r.isPausedLock.Lock()
	defer r.isPausedLock.Unlock()

	return r.isPaused
}

// Stop terminates a started loop and waits for the goroutine to exit. A
// paused Runner must be continued before it is stopped.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}
