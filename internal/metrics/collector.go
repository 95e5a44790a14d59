// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the service's Prometheus metrics.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	transferTransitions *prometheus.CounterVec
	transfersActive     prometheus.Gauge
	transferOutcomes    *prometheus.CounterVec

	summaryRequestsTotal *prometheus.CounterVec
	summaryDuration      *prometheus.HistogramVec

	notifyDroppedStates prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector with all metrics registered under the
// namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.transferTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_transitions_total",
			Help:      "Total number of applied transfer transitions",
		},
		[]string{"from", "to"},
	)

	c.transfersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Number of transfers currently in a non-terminal state",
		},
	)

	c.transferOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_outcomes_total",
			Help:      "Total number of transfers reaching a terminal state",
		},
		[]string{"outcome"},
	)

	c.summaryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_requests_total",
			Help:      "Total number of summary generations by outcome",
		},
		[]string{"provider", "outcome"},
	)

	c.summaryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Summary generation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	c.notifyDroppedStates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notify_dropped_states_total",
			Help:      "States discarded due to full subscriber queues",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransition records one applied transfer transition.
func (c *Collector) RecordTransition(from, to string) {
	c.transferTransitions.WithLabelValues(from, to).Inc()
}

// RecordOutcome records a transfer reaching a terminal state.
func (c *Collector) RecordOutcome(outcome string) {
	c.transferOutcomes.WithLabelValues(outcome).Inc()
}

// SetActiveTransfers updates the active transfer gauge.
func (c *Collector) SetActiveTransfers(n int) {
	c.transfersActive.Set(float64(n))
}

// RecordSummary records one summary generation outcome.
func (c *Collector) RecordSummary(provider, outcome string, duration time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	c.summaryRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if duration > 0 {
		c.summaryDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// SetNotifyDropped publishes the fan-out drop counter.
func (c *Collector) SetNotifyDropped(total int64) {
	c.notifyDroppedStates.Set(float64(total))
}

// statusCode groups HTTP status codes into classes to bound cardinality.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
