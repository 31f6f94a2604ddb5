package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the process-wide Countertop metrics.
type Metrics struct {
	CoordinatorState  prometheus.Gauge
	StationState      *prometheus.GaugeVec
	Workers           *prometheus.GaugeVec
	PayloadsReceived  *prometheus.CounterVec
	PayloadsPublished *prometheus.CounterVec
	PayloadsFailed    *prometheus.CounterVec
	InvokeDuration    *prometheus.HistogramVec
	BufferedPayloads  *prometheus.GaugeVec
	Streams           prometheus.Gauge
}

// NewMetrics builds unregistered core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CoordinatorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "countertop",
			Subsystem: "coordinator",
			Name:      "state",
			Help:      "Coordinator state (0=stopped, 1=starting, 2=started, 3=stopping, 4=errored)",
		}),
		StationState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "countertop",
			Subsystem: "station",
			Name:      "state",
			Help:      "Station state (0=stopped, 1=starting, 2=started, 3=stopping, 4=errored)",
		}, []string{"station"}),
		Workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "countertop",
			Subsystem: "station",
			Name:      "workers",
			Help:      "Workers owned by the station",
		}, []string{"station"}),
		PayloadsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "countertop",
			Subsystem: "payloads",
			Name:      "received_total",
			Help:      "Payloads consumed from topics",
		}, []string{"station", "type"}),
		PayloadsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "countertop",
			Subsystem: "payloads",
			Name:      "published_total",
			Help:      "Payloads produced to topics",
		}, []string{"station", "type"}),
		PayloadsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "countertop",
			Subsystem: "payloads",
			Name:      "failed_total",
			Help:      "Payloads whose processing failed, by error class",
		}, []string{"station", "class"}),
		InvokeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "countertop",
			Subsystem: "appliance",
			Name:      "invoke_seconds",
			Help:      "Time spent ingesting one payload, publishing included",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"station"}),
		BufferedPayloads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "countertop",
			Subsystem: "appliance",
			Name:      "buffered_payloads",
			Help:      "Payloads held in appliance buffers",
		}, []string{"station", "worker"}),
		Streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "countertop",
			Subsystem: "topology",
			Name:      "streams",
			Help:      "Streams in the current topology",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CoordinatorState, m.StationState, m.Workers,
		m.PayloadsReceived, m.PayloadsPublished, m.PayloadsFailed,
		m.InvokeDuration, m.BufferedPayloads, m.Streams,
	}
}

// ObserveInvoke records one ingest. A nil *Metrics ignores the call, as
// do the other recorders.
func (m *Metrics) ObserveInvoke(station string, d time.Duration) {
	if m == nil {
		return
	}
	m.InvokeDuration.WithLabelValues(station).Observe(d.Seconds())
}

// RecordReceived counts a consumed payload.
func (m *Metrics) RecordReceived(station, typ string) {
	if m == nil {
		return
	}
	m.PayloadsReceived.WithLabelValues(station, typ).Inc()
}

// RecordPublished counts a produced payload.
func (m *Metrics) RecordPublished(station, typ string) {
	if m == nil {
		return
	}
	m.PayloadsPublished.WithLabelValues(station, typ).Inc()
}

// RecordFailed counts a failed payload.
func (m *Metrics) RecordFailed(station, class string) {
	if m == nil {
		return
	}
	m.PayloadsFailed.WithLabelValues(station, class).Inc()
}

// RecordBuffered sets a worker's buffer depth.
func (m *Metrics) RecordBuffered(station, worker string, n int) {
	if m == nil {
		return
	}
	m.BufferedPayloads.WithLabelValues(station, worker).Set(float64(n))
}

// RecordStationState sets a station's state gauge.
func (m *Metrics) RecordStationState(station string, state int, workers int) {
	if m == nil {
		return
	}
	m.StationState.WithLabelValues(station).Set(float64(state))
	m.Workers.WithLabelValues(station).Set(float64(workers))
}

// RecordCoordinatorState sets the coordinator state gauge.
func (m *Metrics) RecordCoordinatorState(state int) {
	if m == nil {
		return
	}
	m.CoordinatorState.Set(float64(state))
}

// RecordStreams sets the topology size.
func (m *Metrics) RecordStreams(n int) {
	if m == nil {
		return
	}
	m.Streams.Set(float64(n))
}
