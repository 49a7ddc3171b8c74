// Package metrics provides Prometheus-based metrics middleware for backend
// completion clients.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives observations for completed backend requests.
type Recorder interface {
	ObserveRequest(backend string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a Prometheus-based metrics recorder. Metrics
// register on the default registry; create at most one per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by backend and status",
			},
			[]string{"backend", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"backend", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
}

// ObserveRequest records metrics for one completed backend request.
func (p *PrometheusRecorder) ObserveRequest(backend string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(backend, status, errorType).Inc()
	if success {
		p.tokensTotal.WithLabelValues(backend, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(backend, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(backend).Observe(duration.Seconds())
}
