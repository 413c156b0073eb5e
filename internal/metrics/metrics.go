// Package metrics exposes Prometheus metrics for the bridge. All methods are safe to call on a
// nil *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "energybridge"

// Metrics contains the bridge's counters and gauges
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived  prometheus.Counter
	MalformedPayloads prometheus.Counter
	PointsDelivered   prometheus.Counter
	DeliveryFailures  *prometheus.CounterVec
	DeliveryAttempts  prometheus.Counter
	PointsDrained     prometheus.Counter
	PointsDropped     *prometheus.CounterVec
	BacklogSize       prometheus.Gauge
	CircuitOpen       prometheus.Gauge
	MQTTConnected     prometheus.Gauge
	Reconnects        *prometheus.CounterVec
}

// New creates the bridge metrics on a private registry together with Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_received_total",
			Help:      "Total number of MQTT messages received",
		}),
		MalformedPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_payloads_total",
			Help:      "Total number of messages dropped because the payload could not be decoded",
		}),
		PointsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "points_delivered_total",
			Help:      "Total number of points written to the sink",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed deliveries by reason",
		}, []string{"reason"}),
		DeliveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_attempts_total",
			Help:      "Total number of sink write attempts including retries",
		}),
		PointsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "drained_total",
			Help:      "Total number of backlog points flushed to the sink",
		}),
		PointsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "dropped_total",
			Help:      "Total number of points the backlog could not keep, by overflow policy",
		}, []string{"policy"}),
		BacklogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "size",
			Help:      "Number of points waiting for delivery",
		}),
		CircuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "circuit_open",
			Help:      "Sink circuit breaker state (0=closed, 1=open)",
		}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "MQTT session state (0=disconnected, 1=connected)",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "reconnects_total",
			Help:      "Total number of reconnection attempts by target and outcome",
		}, []string{"target", "outcome"}),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.MalformedPayloads,
		m.PointsDelivered,
		m.DeliveryFailures,
		m.DeliveryAttempts,
		m.PointsDrained,
		m.PointsDropped,
		m.BacklogSize,
		m.CircuitOpen,
		m.MQTTConnected,
		m.Reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncReceived() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.MalformedPayloads.Inc()
	}
}

func (m *Metrics) IncDelivered() {
	if m != nil {
		m.PointsDelivered.Inc()
	}
}

func (m *Metrics) IncDeliveryFailure(reason string) {
	if m != nil {
		m.DeliveryFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncAttempt() {
	if m != nil {
		m.DeliveryAttempts.Inc()
	}
}

func (m *Metrics) AddDrained(n int) {
	if m != nil && n > 0 {
		m.PointsDrained.Add(float64(n))
	}
}

func (m *Metrics) IncDropped(policy string) {
	if m != nil {
		m.PointsDropped.WithLabelValues(policy).Inc()
	}
}

func (m *Metrics) SetBacklogSize(n int) {
	if m != nil {
		m.BacklogSize.Set(float64(n))
	}
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m != nil {
		m.CircuitOpen.Set(boolToFloat(open))
	}
}

func (m *Metrics) SetMQTTConnected(connected bool) {
	if m != nil {
		m.MQTTConnected.Set(boolToFloat(connected))
	}
}

func (m *Metrics) IncReconnect(target string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.Reconnects.WithLabelValues(target, outcome).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
