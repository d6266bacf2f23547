// Package metrics provides run metrics collection.
// It wraps Prometheus collectors for unit lifecycle, cycle outcomes,
// transaction submission and supervisor event delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides run metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Unit metrics
	unitsActive   prometheus.Gauge
	unitsFinished *prometheus.CounterVec

	// Cycle metrics
	cyclesTotal   *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	firesSkipped  prometheus.Counter

	// Transaction metrics
	txTotal *prometheus.CounterVec

	// Supervisor metrics
	eventsDropped prometheus.Counter

	// HTTP metrics
	httpRequests *prometheus.CounterVec
}

// NewCollector creates a new metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "cyclebot"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.unitsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "active",
			Help:      "Number of execution units currently running",
		},
	)

	c.unitsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "finished_total",
			Help:      "Execution units that reached a terminal state",
		},
		[]string{"status"},
	)

	c.cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Cycles executed",
		},
		[]string{"variant", "status"},
	)

	c.cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of a cycle from first submit to last confirmation",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"variant"},
	)

	c.firesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "fires_skipped_total",
			Help:      "Periodic fires dropped because the previous cycle was still running",
		},
	)

	c.txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "total",
			Help:      "Transactions by action and stage (sent, confirmed)",
		},
		[]string{"action", "stage"},
	)

	c.eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "events_dropped_total",
			Help:      "Progress events dropped because the event buffer was full",
		},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served by the metrics endpoint",
		},
		[]string{"path", "status"},
	)

	c.registry.MustRegister(
		c.unitsActive,
		c.unitsFinished,
		c.cyclesTotal,
		c.cycleDuration,
		c.firesSkipped,
		c.txTotal,
		c.eventsDropped,
		c.httpRequests,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordUnitStarted records a unit entering its run.
func (c *Collector) RecordUnitStarted() {
	c.unitsActive.Inc()
}

// RecordUnitFinished records a unit reaching a terminal state.
func (c *Collector) RecordUnitFinished(status string) {
	c.unitsActive.Dec()
	c.unitsFinished.WithLabelValues(status).Inc()
}

// RecordCycle records a finished cycle.
func (c *Collector) RecordCycle(variant, status string, duration time.Duration) {
	c.cyclesTotal.WithLabelValues(variant, status).Inc()
	c.cycleDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordFireSkipped records a periodic fire dropped by the skip-if-busy policy.
func (c *Collector) RecordFireSkipped() {
	c.firesSkipped.Inc()
}

// RecordTx records a transaction reaching a stage.
func (c *Collector) RecordTx(action, stage string) {
	c.txTotal.WithLabelValues(action, stage).Inc()
}

// RecordEventsDropped adds n dropped events.
func (c *Collector) RecordEventsDropped(n int64) {
	if n > 0 {
		c.eventsDropped.Add(float64(n))
	}
}

// RecordHTTPRequest records a request to the metrics server.
func (c *Collector) RecordHTTPRequest(path, status string) {
	c.httpRequests.WithLabelValues(path, status).Inc()
}

// NoOpCollector is a metrics collector that discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordUnitStarted()                                   {}
func (*NoOpCollector) RecordUnitFinished(status string)                     {}
func (*NoOpCollector) RecordCycle(variant, status string, d time.Duration) {}
func (*NoOpCollector) RecordFireSkipped()                                   {}
func (*NoOpCollector) RecordTx(action, stage string)                        {}
func (*NoOpCollector) RecordEventsDropped(n int64)                          {}

// MetricsCollector is the interface for metrics collection.
type MetricsCollector interface {
	RecordUnitStarted()
	RecordUnitFinished(status string)
	RecordCycle(variant, status string, duration time.Duration)
	RecordFireSkipped()
	RecordTx(action, stage string)
	RecordEventsDropped(n int64)
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = (*NoOpCollector)(nil)
)
