// Package metrics exposes proctoring pipeline counters over Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesReceived  atomic.Uint64
	FramesEvaluated atomic.Uint64
	FramesDropped   atomic.Uint64 // in-flight guard rejections
	CyclesSkipped   atomic.Uint64 // detector failures

	// Violation counters
	ViolationEvents atomic.Uint64
	AlertsSent      atomic.Uint64
	AlertsFailed    atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64
	SessionsLocked atomic.Uint64

	// Latency tracking
	CycleLatencyMs    atomic.Uint64 // last full frame cycle in ms
	DetectorLatencyMs atomic.Uint64 // last detector round trip in ms

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_frames_received_total",
			Help: "Total webcam frames received",
		},
		func() float64 { return float64(m.FramesReceived.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_frames_evaluated_total",
			Help: "Total frames that completed a full detection cycle",
		},
		func() float64 { return float64(m.FramesEvaluated.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_frames_dropped_total",
			Help: "Total frames dropped because a cycle was already in flight",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_cycles_skipped_total",
			Help: "Total cycles skipped due to detector failures",
		},
		func() float64 { return float64(m.CyclesSkipped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_violation_events_total",
			Help: "Total violation events emitted",
		},
		func() float64 { return float64(m.ViolationEvents.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_alerts_sent_total",
			Help: "Total alert deliveries that succeeded",
		},
		func() float64 { return float64(m.AlertsSent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_alerts_failed_total",
			Help: "Total alert deliveries that failed",
		},
		func() float64 { return float64(m.AlertsFailed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_active_sessions",
			Help: "Number of live exam sessions",
		},
		func() float64 { return float64(m.ActiveSessions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_total_sessions",
			Help: "Total exam sessions started",
		},
		func() float64 { return float64(m.TotalSessions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_sessions_locked_total",
			Help: "Total sessions locked by the tab switch limit",
		},
		func() float64 { return float64(m.SessionsLocked.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_cycle_latency_ms",
			Help: "Latency of the most recent full frame cycle in milliseconds",
		},
		func() float64 { return float64(m.CycleLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_detector_latency_ms",
			Help: "Latency of the most recent detector round trip in milliseconds",
		},
		func() float64 { return float64(m.DetectorLatencyMs.Load()) },
	))
}

// ObserveCycle records the duration of a completed frame cycle.
func (m *Metrics) ObserveCycle(start time.Time) {
	m.CycleLatencyMs.Store(uint64(time.Since(start).Milliseconds()))
}

// ObserveDetector records the duration of a detector round trip.
func (m *Metrics) ObserveDetector(d time.Duration) {
	m.DetectorLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
