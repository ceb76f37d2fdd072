// Package metrics exposes Prometheus metrics for the redaction pipeline
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

// Request outcomes
const (
	OutcomeSuccess          = "success"
	OutcomeRejected         = "rejected"
	OutcomeDetectionError   = "detection_error"
	OutcomePersistenceError = "persistence_error"
)

// Store operations
const (
	OpPut  = "put"
	OpList = "list"
	OpGet  = "get"
)

// Metrics holds the pipeline collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	detectorDuration prometheus.Histogram
	entitiesTotal    *prometheus.CounterVec
	storeDuration    *prometheus.HistogramVec
	wsClientsGauge   prometheus.Gauge

	collectors []prometheus.Collector
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()

	if err := m.registry.Register(m); err != nil {
		return nil, err
	}
	if err := m.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := m.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redactor_requests_total",
			Help: "Total number of redaction requests by outcome",
		},
		[]string{"outcome"},
	)

	m.detectorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "redactor_detector_duration_seconds",
			Help:    "Time taken by the entity detector",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
	)

	m.entitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redactor_entities_detected_total",
			Help: "Total number of detected PII entities by type",
		},
		[]string{"type"},
	)

	m.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redactor_store_duration_seconds",
			Help:    "Time taken by audit store operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	m.wsClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redactor_websocket_clients",
			Help: "Number of connected live feed clients",
		},
	)

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.detectorDuration,
		m.entitiesTotal,
		m.storeDuration,
		m.wsClientsGauge,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// ObserveOutcome counts one finished request
func (m *Metrics) ObserveOutcome(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDetection records detector latency and the entity types it reported
func (m *Metrics) ObserveDetection(d time.Duration, entities privacy.DetectionResult) {
	m.detectorDuration.Observe(d.Seconds())
	for _, e := range entities {
		m.entitiesTotal.WithLabelValues(e.Type).Inc()
	}
}

// ObserveStore records the latency of a store operation
func (m *Metrics) ObserveStore(op string, d time.Duration) {
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetWebSocketClients reports the live feed client count
func (m *Metrics) SetWebSocketClients(n int) {
	m.wsClientsGauge.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
