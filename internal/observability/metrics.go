package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service desk collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	deliveryTime  *prometheus.HistogramVec
	queueDropped  prometheus.Counter
}

// NewMetrics creates and registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_workflow_operations_total",
				Help: "Workflow operations by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_notifications_total",
				Help: "Notification deliveries by provider and status.",
			},
			[]string{"provider", "status"},
		),
		deliveryTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servicedesk_notification_duration_seconds",
				Help:    "Notification delivery latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_notification_events_dropped_total",
			Help: "Workflow events that could not be queued.",
		}),
	}
	m.registry.MustRegister(
		m.transitions,
		m.notifications,
		m.deliveryTime,
		m.queueDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation counts a workflow operation outcome (success, refused, error)
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// ObserveDelivery counts a notification attempt and its latency
func (m *Metrics) ObserveDelivery(provider, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(provider, status).Inc()
	m.deliveryTime.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveDropped counts an event that never reached the queue
func (m *Metrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
