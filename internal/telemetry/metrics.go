package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interactions_gateway"

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	received         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	enqueueFailures  *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	catalogReloads   prometheus.Counter
	catalogCommands  prometheus.Gauge
}

// NewMetrics creates the collectors. queueDepth, when non-nil, is sampled on
// every scrape.
func NewMetrics(queueDepth func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_received_total",
			Help:      "Authenticated interactions received, by interaction type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_rejected_total",
			Help:      "Requests refused by the endpoint, by reason.",
		}, []string{"reason"}),
		enqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Acknowledged interactions the dispatch queue refused.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Processed interactions, by outcome.",
		}, []string{"outcome"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time from dequeue to final follow-up outcome.",
			Buckets:   prometheus.DefBuckets,
		}),
		catalogReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reloads_total",
			Help:      "Successful command catalog reloads.",
		}),
		catalogCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_commands",
			Help:      "Commands in the active catalog.",
		}),
	}

	registry.MustRegister(
		m.received,
		m.rejected,
		m.enqueueFailures,
		m.deliveries,
		m.deliveryDuration,
		m.catalogReloads,
		m.catalogCommands,
	)

	if queueDepth != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Interactions waiting for a worker.",
		}, queueDepth))
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) InteractionReceived(kind string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(kind).Inc()
}

func (m *Metrics) RequestRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) EnqueueFailed(reason string) {
	if m == nil {
		return
	}
	m.enqueueFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) DeliveryCompleted(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.deliveryDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CatalogLoaded(commands int) {
	if m == nil {
		return
	}
	m.catalogReloads.Inc()
	m.catalogCommands.Set(float64(commands))
}
