// Package metrics provides Prometheus metrics collection for the fraud
// prediction service. It defines the inference, storage, pipeline and HTTP
// metrics exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Pipeline metrics
	PredictionsTotal *prometheus.CounterVec // Persisted predictions by label
	PredictionErrors *prometheus.CounterVec // Failed predict and list calls by error kind

	// ML and inference metrics
	MLPredictions prometheus.Counter   // Successful model calls
	MLFailures    prometheus.Counter   // Failed model calls
	MLLatency     prometheus.Histogram // Model call latency in seconds
	MLTimeouts    prometheus.Counter   // Model calls that timed out

	// Storage metrics
	StoreLatency *prometheus.HistogramVec // Store operation latency by op
	StoreErrors  *prometheus.CounterVec   // Store operation failures by op

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route and status code
	HTTPDuration *prometheus.HistogramVec // Request duration by route
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_predictions_total",
			Help: "Total number of persisted predictions by predicted label",
		}, []string{"label"}),
		PredictionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_prediction_errors_total",
			Help: "Total number of failed predict and list calls by error kind",
		}, []string{"kind"}),
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of successful model calls",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of failed model calls",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		MLTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_timeouts_total",
			Help: "Total number of model calls that timed out",
		}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_latency_seconds",
			Help:    "Prediction store operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of failed prediction store operations",
		}, []string{"op"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
