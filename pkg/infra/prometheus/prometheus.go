package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	latencyBuckets = []float64{
		5, 10, 25,
		50, 100, 250,
		500, 1000, 2500,
		5000, 10000, 30000,
	}

	AdmissionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_admissions_total",
			Help: "Admission decisions by outcome",
		},
		[]string{"outcome"},
	)

	QueueDepth = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "sluice_queue_depth",
			Help: "Current deferral queue depth",
		},
	)

	BreakerState = promauto.With(registerer).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sluice_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	BackendLatency = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sluice_backend_latency_ms",
			Help:    "Backend invocation latency in milliseconds",
			Buckets: latencyBuckets,
		},
	)

	RequeuesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_requeues_total",
			Help: "Worker requeue and dead-letter events by reason",
		},
		[]string{"reason"},
	)
)

// Handler serves the private registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
