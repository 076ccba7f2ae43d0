// Package monitoring turns a running game-event setup into a small HTTP
// server for external inspection: clock readings, bus subscriptions, queue
// depth, process resources, and CPU profiles.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/blind-guess-senior/gamekit/bus"
	"github.com/blind-guess-senior/gamekit/schedule"
)

// Monitor exposes a dispatcher, a queue, and optionally a runner over HTTP.
type Monitor struct {
	dispatcher *bus.Dispatcher
	queue      *schedule.Queue
	runner     *schedule.Runner
	portNumber int
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// rejected and a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitoring server. "+
				"Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterDispatcher registers the dispatcher whose buses are monitored.
func (m *Monitor) RegisterDispatcher(d *bus.Dispatcher) {
	m.dispatcher = d
}

// RegisterQueue registers the deferred event queue to be monitored.
func (m *Monitor) RegisterQueue(q *schedule.Queue) {
	m.queue = q
}

// RegisterRunner registers the loop runner so it can be paused and resumed
// remotely.
func (m *Monitor) RegisterRunner(r *schedule.Runner) {
	m.runner = r
}

// StartServer starts the monitor as a web server and returns the URL it
// listens on.
func (m *Monitor) StartServer() string {
	http.Handle("/", m.router())

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring events with %s\n", url)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/buses", m.listBuses)
	r.HandleFunc("/api/bus/{id}", m.busDetails)
	r.HandleFunc("/api/queue", m.queueStats)
	r.HandleFunc("/api/timescale", m.timeScale)
	r.HandleFunc("/api/pause", m.pauseRunner)
	r.HandleFunc("/api/continue", m.continueRunner)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

type nowRsp struct {
	SimTick             uint64  `json:"sim_tick"`
	PhysicsTick         uint64  `json:"physics_tick"`
	SimTimeScaled       float64 `json:"sim_time_scaled"`
	SimTimeUnscaled     float64 `json:"sim_time_unscaled"`
	PhysicsTimeScaled   float64 `json:"physics_time_scaled"`
	PhysicsTimeUnscaled float64 `json:"physics_time_unscaled"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	rsp := nowRsp{
		SimTick:             m.queue.Ticks(schedule.SimTick),
		PhysicsTick:         m.queue.Ticks(schedule.PhysicsTick),
		SimTimeScaled:       m.queue.Now(schedule.SimTimeScaled),
		SimTimeUnscaled:     m.queue.Now(schedule.SimTimeUnscaled),
		PhysicsTimeScaled:   m.queue.Now(schedule.PhysicsTimeScaled),
		PhysicsTimeUnscaled: m.queue.Now(schedule.PhysicsTimeUnscaled),
	}

	writeJSON(w, rsp)
}

type busRsp struct {
	ID          string   `json:"id"`
	Subscribers int      `json:"subscribers"`
	EventKinds  []string `json:"event_kinds"`
}

func (m *Monitor) listBuses(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]busRsp, 0)
	for _, id := range m.dispatcher.BusIDs() {
		b := m.dispatcher.Bus(id)
		rsp = append(rsp, busRsp{
			ID:          string(id),
			Subscribers: b.SubscriberCount(),
			EventKinds:  b.EventKinds(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) busDetails(w http.ResponseWriter, r *http.Request) {
	id := bus.ID(mux.Vars(r)["id"])

	b := m.findBusOr404(w, id)
	if b == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(b)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findBusOr404(w http.ResponseWriter, id bus.ID) *bus.Bus {
	for _, known := range m.dispatcher.BusIDs() {
		if known == id {
			return m.dispatcher.Bus(id)
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Bus not found"))
	dieOnErr(err)

	return nil
}

type queueRsp struct {
	Pending        int            `json:"pending"`
	PendingByClock map[string]int `json:"pending_by_clock"`
	TimeScale      float64        `json:"time_scale"`
}

func (m *Monitor) queueStats(w http.ResponseWriter, _ *http.Request) {
	rsp := queueRsp{
		Pending:        m.queue.Pending(),
		PendingByClock: m.queue.PendingByClock(),
		TimeScale:      m.queue.TimeScale(),
	}

	writeJSON(w, rsp)
}

func (m *Monitor) timeScale(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		value, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
		if err != nil || value < 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "invalid time scale value")
			return
		}

		m.queue.SetTimeScale(value)
	}

	fmt.Fprintf(w, "{\"time_scale\":%f}", m.queue.TimeScale())
}

func (m *Monitor) pauseRunner(w http.ResponseWriter, _ *http.Request) {
	if m.runner == nil {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	m.runner.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueRunner(w http.ResponseWriter, _ *http.Request) {
	if m.runner == nil {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	m.runner.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
