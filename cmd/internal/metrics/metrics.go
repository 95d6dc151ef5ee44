// Package metrics owns the Prometheus collectors for the messaging core.
//
// All methods are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campus"

type Metrics struct {
	reg *prometheus.Registry

	messagesAppended *prometheus.CounterVec
	captureSessions  *prometheus.CounterVec
	captureDuration  prometheus.Histogram
	playbackActive   prometheus.Gauge
	wsConnections    prometheus.Gauge
}

// New registers the campus collectors plus Go runtime and process collectors on a
// private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		messagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to thread logs, by kind.",
		}, []string{"kind"}),
		captureSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_total",
			Help:      "Capture attempts that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of completed recordings.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		playbackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_sessions_active",
			Help:      "Open playback sessions.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Connected WebSocket clients.",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesAppended,
		m.captureSessions,
		m.captureDuration,
		m.playbackActive,
		m.wsConnections,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) MessageAppended(kind string) {
	if m == nil {
		return
	}
	m.messagesAppended.WithLabelValues(kind).Inc()
}

// CaptureFinished records a terminal capture outcome ("completed", "failed", "cancelled").
// Durations are observed for completed recordings only.
func (m *Metrics) CaptureFinished(outcome string, seconds int) {
	if m == nil {
		return
	}
	m.captureSessions.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		m.captureDuration.Observe(float64(seconds))
	}
}

func (m *Metrics) PlaybackOpened() {
	if m == nil {
		return
	}
	m.playbackActive.Inc()
}

func (m *Metrics) PlaybackClosed() {
	if m == nil {
		return
	}
	m.playbackActive.Dec()
}

func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
