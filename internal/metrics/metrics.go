// Package metrics exports Prometheus metrics for the mode server.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Staticpast/ModeManager/internal/sim/policy"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
)

// Sources are read each time /metrics is scraped. Nil funcs are skipped.
type Sources struct {
	Online      func() int
	LoadedUsers func() int
	Tracked     func() (blocks, objects int)
	IndexQueue  func() int
}

// Metrics implements the engine observer, so counters move on the worker.
type Metrics struct {
	reg       *prometheus.Registry
	src       Sources
	startTime time.Time

	transitions   *prometheus.CounterVec
	denials       *prometheus.CounterVec
	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	connections   prometheus.Counter

	playersOnline  prometheus.Gauge
	usersLoaded    prometheus.Gauge
	trackedBlocks  prometheus.Gauge
	trackedObjects prometheus.Gauge
	indexQueue     prometheus.Gauge
	uptimeSeconds  prometheus.Gauge
	goroutines     prometheus.Gauge
}

func New(src Sources, startTime time.Time) *Metrics {
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		src:       src,
		startTime: startTime,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modemanager_transitions_total",
			Help: "Mode transition attempts by target mode and outcome.",
		}, []string{"to", "outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modemanager_denials_total",
			Help: "Actions denied by protection rule.",
		}, []string{"rule"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modemanager_events_total",
			Help: "Host events decided, by kind and decision.",
		}, []string{"kind", "decision"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modemanager_event_seconds",
			Help:    "Time spent deciding one host event.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"kind"}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modemanager_host_connections_total",
			Help: "Host bridge connections accepted since start.",
		}),
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_players_online",
			Help: "Players the host reports online.",
		}),
		usersLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_users_loaded",
			Help: "User states held in memory.",
		}),
		trackedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_tracked_blocks",
			Help: "Blocks placed in creative and still tracked.",
		}),
		trackedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_tracked_objects",
			Help: "Item frames filled in creative and still tracked.",
		}),
		indexQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_index_queue_depth",
			Help: "Rows waiting for the sqlite index writer.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modemanager_goroutines",
			Help: "Number of active goroutines.",
		}),
	}
	m.reg.MustRegister(
		m.transitions,
		m.denials,
		m.events,
		m.eventDuration,
		m.connections,
		m.playersOnline,
		m.usersLoaded,
		m.trackedBlocks,
		m.trackedObjects,
		m.indexQueue,
		m.uptimeSeconds,
		m.goroutines,
	)
	return m
}

func (m *Metrics) ObserveTransition(ev transition.Event) {
	m.transitions.WithLabelValues(string(ev.To), ev.Outcome.String()).Inc()
}

func (m *Metrics) ObserveDenial(d policy.Denial) {
	m.denials.WithLabelValues(d.Rule).Inc()
}

func (m *Metrics) ObserveEvent(kind string, allow bool, took time.Duration) {
	decision := "deny"
	if allow {
		decision = "allow"
	}
	m.events.WithLabelValues(kind, decision).Inc()
	m.eventDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// HostConnected counts one accepted bridge connection.
func (m *Metrics) HostConnected() { m.connections.Inc() }

// Update refreshes the gauges from Sources.
func (m *Metrics) Update() {
	if m.src.Online != nil {
		m.playersOnline.Set(float64(m.src.Online()))
	}
	if m.src.LoadedUsers != nil {
		m.usersLoaded.Set(float64(m.src.LoadedUsers()))
	}
	if m.src.Tracked != nil {
		blocks, objects := m.src.Tracked()
		m.trackedBlocks.Set(float64(blocks))
		m.trackedObjects.Set(float64(objects))
	}
	if m.src.IndexQueue != nil {
		m.indexQueue.Set(float64(m.src.IndexQueue()))
	}
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler updates the gauges before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
