package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type streamMetrics struct {
	journaled   *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
	webhooks    prometheus.Counter
}

var (
	streamMetricsOnce sync.Once
	streamRegistry    *streamMetrics
)

// Stream returns the metrics registry tracking the committed event journal
// and its live subscribers.
func Stream() *streamMetrics {
	streamMetricsOnce.Do(func() {
		streamRegistry = &streamMetrics{
			journaled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Count of committed ledger events persisted to the journal by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of events not delivered to a slow stream subscriber.",
			}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "agentvault",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Number of connected event stream subscribers.",
			}),
			webhooks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "events",
				Name:      "webhook_dropped_total",
				Help:      "Count of events dropped because a webhook receiver fell behind.",
			}),
		}
		prometheus.MustRegister(streamRegistry.journaled, streamRegistry.dropped, streamRegistry.subscribers, streamRegistry.webhooks)
	})
	return streamRegistry
}

// RecordJournaled increments the journal counter for the event type.
func (m *streamMetrics) RecordJournaled(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.journaled.WithLabelValues(normalized).Inc()
}

// RecordDropped counts an event skipped for a subscriber.
func (m *streamMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// RecordWebhookDropped counts an event a webhook receiver will never see.
func (m *streamMetrics) RecordWebhookDropped() {
	if m == nil {
		return
	}
	m.webhooks.Inc()
}

// Subscribed adjusts the subscriber gauge by delta.
func (m *streamMetrics) Subscribed(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}
