package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Query path metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	PageSize      *prometheus.HistogramVec

	// Mutation path metrics
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	MutationsPending prometheus.Gauge

	// Cache metrics
	CacheEntities    *prometheus.GaugeVec
	CacheRelocations prometheus.Counter
	CacheSubscribers prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relaykit",
				Subsystem: "query",
				Name:      "total",
				Help:      "Total number of connection queries resolved",
			},
			[]string{"entity_type", "status"},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relaykit",
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Connection resolve duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"entity_type"},
		),

		PageSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relaykit",
				Subsystem: "query",
				Name:      "page_size",
				Help:      "Number of edges returned per connection page",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"entity_type"},
		),

		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relaykit",
				Subsystem: "mutation",
				Name:      "total",
				Help:      "Total number of mutations dispatched",
			},
			[]string{"name", "outcome"},
		),

		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relaykit",
				Subsystem: "mutation",
				Name:      "duration_seconds",
				Help:      "Dispatch-to-resolution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name"},
		),

		MutationsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relaykit",
				Subsystem: "mutation",
				Name:      "pending",
				Help:      "Number of mutations currently awaiting resolution",
			},
		),

		CacheEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "relaykit",
				Subsystem: "cache",
				Name:      "entities",
				Help:      "Number of entities in the normalized cache",
			},
			[]string{"entity_type"},
		),

		CacheRelocations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relaykit",
				Subsystem: "cache",
				Name:      "relocations_total",
				Help:      "Total number of provisional-to-confirmed identity swaps",
			},
		),

		CacheSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relaykit",
				Subsystem: "cache",
				Name:      "subscribers",
				Help:      "Number of active cache subscriptions",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relaykit",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),
	}
}

// collectors returns every core metric for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QueriesTotal,
		m.QueryDuration,
		m.PageSize,
		m.MutationsTotal,
		m.MutationDuration,
		m.MutationsPending,
		m.CacheEntities,
		m.CacheRelocations,
		m.CacheSubscribers,
		m.ErrorsTotal,
	}
}
