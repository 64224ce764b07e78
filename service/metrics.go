package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics
)

// Metrics returns the lazily-initialised registry used to record API
// activity on the treasury surface.
func Metrics() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "d2d",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "d2d",
				Subsystem: "api",
				Name:      "rejected_total",
				Help:      "Requests rejected before reaching an engine, segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.latency,
			apiRegistry.rejected,
		)
	})
	return apiRegistry
}

// ObserveRequest records one completed operation.
func (m *apiMetrics) ObserveRequest(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveRejection records a request refused by middleware.
func (m *apiMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
