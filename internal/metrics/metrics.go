// Package metrics exposes server counters to prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gameframework"

type Metrics struct {
	Registry *prometheus.Registry

	// actions counts dispatched actions.
	// Labels: result (ok, error)
	actions *prometheus.CounterVec

	// desyncs counts validator failures.
	// Labels: kind (trace, state)
	desyncs *prometheus.CounterVec

	flushes        prometheus.Counter
	flushedActions prometheus.Counter
	tickDuration   prometheus.Histogram
	loopPanics     *prometheus.CounterVec
	matches        prometheus.Gauge
	connections    prometheus.Gauge
	rateLimited    prometheus.Counter

	// uploads counts archive uploads.
	// Labels: result (ok, error)
	uploads *prometheus.CounterVec
}

// New builds the collectors on a private registry, so tests and multiple
// servers in one process do not collide.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions dispatched into matches",
		}, []string{"result"}),
		desyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "desyncs_total",
			Help:      "Determinism failures reported by the validator",
		}, []string{"kind"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "flushes_total",
			Help:      "Per-match sync batches sent to clients",
		}),
		flushedActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Actions carried by sync batches",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one loop frame",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.1},
		}),
		loopPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "panics_total",
			Help:      "Recovered panics inside the loop",
		}, []string{"stage"}),
		matches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "matches",
			Help:      "Live matches",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "rate_limited_total",
			Help:      "Inbound messages dropped by the rate limiter",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "uploads_total",
			Help:      "Match archives uploaded to object storage",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.actions, m.desyncs, m.flushes, m.flushedActions, m.tickDuration,
		m.loopPanics, m.matches, m.connections, m.rateLimited, m.uploads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Action(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.actions.WithLabelValues("ok").Inc()
	} else {
		m.actions.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) Desync(kind string) {
	if m == nil {
		return
	}
	m.desyncs.WithLabelValues(kind).Inc()
}

func (m *Metrics) Flushed(actions int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushedActions.Add(float64(actions))
}

func (m *Metrics) Tick(took time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(took.Seconds())
}

func (m *Metrics) LoopPanic(stage string) {
	if m == nil {
		return
	}
	m.loopPanics.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetMatches(n int) {
	if m == nil {
		return
	}
	m.matches.Set(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ArchiveUpload(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.uploads.WithLabelValues("ok").Inc()
	} else {
		m.uploads.WithLabelValues("error").Inc()
	}
}
