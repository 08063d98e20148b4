package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// HTTP returns the lazily-initialised metrics registry used to record walletd
// API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route group, route and outcome.",
			}, []string{"group", "route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route group, route and status code.",
			}, []string{"group", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "agentvault",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"group", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting or auth.",
			}, []string{"group", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(group, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(group, route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(group, route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(group, route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied group and
// reason. Reasons should be stable strings such as "rate_limit" or
// "unauthorized".
func (m *httpMetrics) RecordThrottle(group, reason string) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(group, reason).Inc()
}
