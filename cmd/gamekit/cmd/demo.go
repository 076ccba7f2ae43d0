package cmd

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/blind-guess-senior/gamekit/bus"
	"github.com/blind-guess-senior/gamekit/eventlog"
	"github.com/blind-guess-senior/gamekit/monitoring"
	"github.com/blind-guess-senior/gamekit/schedule"
)

const (
	gameplayBus bus.ID = "gameplay"
	systemBus   bus.ID = "system"
)

type enemySpawned struct {
	Wave int
}

type bombExploded struct {
	Radius float64
}

type powerUpExpired struct {
	Name string
}

type autosaveDue struct{}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a demo game loop that schedules and delivers events.",
	Run: func(cmd *cobra.Command, args []string) {
		duration, _ := cmd.Flags().GetDuration("duration")
		fps, _ := cmd.Flags().GetFloat64("fps")
		physicsHz, _ := cmd.Flags().GetFloat64("physics-hz")
		timeScale, _ := cmd.Flags().GetFloat64("time-scale")
		monitorOn, _ := cmd.Flags().GetBool("monitor")
		monitorPort, _ := cmd.Flags().GetInt("monitor-port")
		open, _ := cmd.Flags().GetBool("open")
		record, _ := cmd.Flags().GetString("record")

		if monitorPort == 0 {
			monitorPort = monitorPortFromEnv()
		}

		runDemo(demoConfig{
			duration:    duration,
			fps:         fps,
			physicsHz:   physicsHz,
			timeScale:   timeScale,
			monitorOn:   monitorOn || monitorPort > 0,
			monitorPort: monitorPort,
			open:        open,
			record:      record,
		})
	},
}

type demoConfig struct {
	duration    time.Duration
	fps         float64
	physicsHz   float64
	timeScale   float64
	monitorOn   bool
	monitorPort int
	open        bool
	record      string
}

func monitorPortFromEnv() int {
	value := os.Getenv("GAMEKIT_MONITOR_PORT")
	if value == "" {
		return 0
	}

	port, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid GAMEKIT_MONITOR_PORT %q: %v", value, err)
	}

	return port
}

func runDemo(cfg demoConfig) {
	d := bus.NewDispatcher()
	d.RegisterBus(gameplayBus)
	d.RegisterBus(systemBus)
	bus.RegisterEvent[enemySpawned](d, gameplayBus)
	bus.RegisterEvent[bombExploded](d, gameplayBus)
	bus.RegisterEvent[powerUpExpired](d, gameplayBus)
	bus.RegisterEvent[autosaveDue](d, systemBus)

	q := schedule.NewQueue(d)
	q.SetTimeScale(cfg.timeScale)

	var delivered atomic.Uint64
	countAll(d, &delivered)

	// Each wave schedules the next one, so the demo keeps itself busy.
	wave := 0
	bus.Subscribe(d, func(ev enemySpawned) {
		wave = ev.Wave
		_, err := schedule.EnqueueAfterTime(
			q, enemySpawned{Wave: ev.Wave + 1},
			schedule.SimTimeScaled, 0.2+rand.Float64()*0.3)
		if err != nil {
			log.Fatal(err)
		}
	})

	bus.Subscribe(d, func(autosaveDue) {
		_, err := schedule.EnqueueAfterTicks(
			q, autosaveDue{}, schedule.PhysicsTick, 25)
		if err != nil {
			log.Fatal(err)
		}
	})

	if cfg.record != "" {
		recorder := eventlog.New(cfg.record)
		atexit.Register(recorder.Flush)

		tracer := eventlog.NewTracer(recorder, q)
		d.Bus(gameplayBus).AcceptHook(tracer)
		d.Bus(systemBus).AcceptHook(tracer)
	}

	runner := schedule.NewRunner(q,
		schedule.Rate(cfg.fps), schedule.Rate(cfg.physicsHz))

	if cfg.monitorOn {
		monitor := monitoring.NewMonitor().WithPortNumber(cfg.monitorPort)
		monitor.RegisterDispatcher(d)
		monitor.RegisterQueue(q)
		monitor.RegisterRunner(runner)

		url := monitor.StartServer()
		if cfg.open {
			if err := browser.OpenURL(url); err != nil {
				fmt.Fprintf(os.Stderr,
					"cannot open browser: %v\n", err)
			}
		}
	}

	seedEvents(q)

	runner.Start()
	time.Sleep(cfg.duration)
	runner.Stop()

	fmt.Printf("frames: %d, physics steps: %d\n",
		q.Ticks(schedule.SimTick), q.Ticks(schedule.PhysicsTick))
	fmt.Printf("delivered: %d, still pending: %d, last wave: %d\n",
		delivered.Load(), q.Pending(), wave)
}

func countAll(d *bus.Dispatcher, delivered *atomic.Uint64) {
	bus.Subscribe(d, func(enemySpawned) { delivered.Add(1) })
	bus.Subscribe(d, func(bombExploded) { delivered.Add(1) })
	bus.Subscribe(d, func(powerUpExpired) { delivered.Add(1) })
	bus.Subscribe(d, func(autosaveDue) { delivered.Add(1) })
}

func seedEvents(q *schedule.Queue) {
	mustEnqueue := func(id schedule.QueuedID, err error) {
		if err != nil {
			log.Fatal(err)
		}
	}

	mustEnqueue(schedule.EnqueueAfterTime(
		q, enemySpawned{Wave: 1}, schedule.SimTimeScaled, 0.1))
	mustEnqueue(schedule.EnqueueAfterTicks(
		q, autosaveDue{}, schedule.PhysicsTick, 25))

	for i := 0; i < 10; i++ {
		mustEnqueue(schedule.EnqueueAfterTime(
			q, bombExploded{Radius: 1 + rand.Float64()*4},
			schedule.SimTimeUnscaled, rand.Float64()*2))
		mustEnqueue(schedule.EnqueueAfterTime(
			q, powerUpExpired{Name: "buff-" + strconv.Itoa(i)},
			schedule.PhysicsTimeScaled, rand.Float64()*2))
	}
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().Duration("duration", 5*time.Second,
		"how long to run the loop")
	demoCmd.Flags().Float64("fps", 60, "simulation steps per second")
	demoCmd.Flags().Float64("physics-hz", 50, "physics steps per second")
	demoCmd.Flags().Float64("time-scale", 1, "global time scale")
	demoCmd.Flags().Bool("monitor", false, "start the monitoring server")
	demoCmd.Flags().Int("monitor-port", 0,
		"monitoring server port (defaults to GAMEKIT_MONITOR_PORT)")
	demoCmd.Flags().Bool("open", false, "open the monitor in a browser")
	demoCmd.Flags().String("record", "",
		"record deliveries into this SQLite database")
}
