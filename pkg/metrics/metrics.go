// Package metrics exposes recorder activity to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meeting_recorder"

const (
	OutcomeMerged = "merged"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	activeRooms    prometheus.Gauge
	roomOperations *prometheus.CounterVec
	finalized      *prometheus.CounterVec
	mergeDuration  prometheus.Histogram
	frames         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with a connected recording bot.",
		}),
		roomOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_operations_total",
			Help:      "Start and stop requests by result.",
		}, []string{"operation", "result"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Finalized recording sessions by outcome.",
		}, []string{"outcome"}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Time spent producing a deliverable.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_recorded_total",
			Help:      "Frames written by finalized sessions.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeRooms,
		m.roomOperations,
		m.finalized,
		m.mergeDuration,
		m.frames,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RoomStarted() {
	if m == nil {
		return
	}
	m.activeRooms.Inc()
}

func (m *Metrics) RoomEnded() {
	if m == nil {
		return
	}
	m.activeRooms.Dec()
}

func (m *Metrics) RoomOperation(operation string, result string) {
	if m == nil {
		return
	}
	m.roomOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SessionFinalized(outcome string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMerge(d time.Duration) {
	if m == nil {
		return
	}
	m.mergeDuration.Observe(d.Seconds())
}

func (m *Metrics) FramesRecorded(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.frames.WithLabelValues(kind).Add(float64(n))
}
