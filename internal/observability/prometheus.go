package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder publishes operation latency and pipeline events on its
// own registry so tests and multiple services never collide.
type PrometheusRecorder struct {
	registry   *prometheus.Registry
	duration   *prometheus.HistogramVec
	operations *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the cellvault collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		registry: reg,
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cellvault",
			Name:      "operation_duration_seconds",
			Help:      "Duration of document operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellvault",
			Name:      "operations_total",
			Help:      "Document operations by outcome.",
		}, []string{"operation", "status"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellvault",
			Name:      "pipeline_events_total",
			Help:      "Mutation pipeline events such as applied changes and partial commits.",
		}, []string{"event"}),
	}
}

func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(operation, status).Observe(duration.Seconds())
	r.operations.WithLabelValues(operation, status).Inc()
}

func (r *PrometheusRecorder) Add(_ context.Context, event string, n int) {
	if event == "" || n <= 0 {
		return
	}
	r.events.WithLabelValues(event).Add(float64(n))
}

// Registry exposes the underlying registry for scraping and tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
