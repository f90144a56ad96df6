package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PublisherMetrics records outbox sweep outcomes.
type PublisherMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	sweep     prometheus.Histogram
}

// NewPublisherMetrics registers the publisher metrics on the provided registerer.
func NewPublisherMetrics(reg prometheus.Registerer) *PublisherMetrics {
	if reg == nil {
		return &PublisherMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published",
		Help: "Outbox rows published to the bus.",
	}, []string{"topic"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_failed",
		Help: "Outbox rows marked FAILED after a publish error.",
	}, []string{"topic"})
	sweep := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_sweep_duration_seconds",
		Help:    "Duration of outbox publisher sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(published, failed, sweep)
	return &PublisherMetrics{published: published, failed: failed, sweep: sweep}
}

func (m *PublisherMetrics) IncPublished(topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *PublisherMetrics) IncFailed(topic string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *PublisherMetrics) ObserveSweep(duration time.Duration) {
	if m == nil || m.sweep == nil {
		return
	}
	m.sweep.Observe(duration.Seconds())
}

// ConsumerMetrics records per-message consumer outcomes.
type ConsumerMetrics struct {
	processed    *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	retries      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	handle       *prometheus.HistogramVec
}

// NewConsumerMetrics registers the consumer metrics on the provided registerer.
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_processed",
		Help: "Events applied and recorded in the ledger.",
	}, []string{"event_type"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_duplicate",
		Help: "Redeliveries skipped by the idempotency ledger.",
	}, []string{"event_type"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_retried",
		Help: "Handler attempts retried after a transient error.",
	}, []string{"event_type"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_dead_lettered",
		Help: "Messages persisted to the failed-event store.",
	}, []string{"event_type", "reason"})
	handle := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_handle_duration_seconds",
		Help:    "Duration of per-message handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(processed, duplicates, retries, deadLettered, handle)
	return &ConsumerMetrics{
		processed:    processed,
		duplicates:   duplicates,
		retries:      retries,
		deadLettered: deadLettered,
		handle:       handle,
	}
}

func (m *ConsumerMetrics) IncProcessed(eventType string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *ConsumerMetrics) IncDuplicate(eventType string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *ConsumerMetrics) IncRetried(eventType string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *ConsumerMetrics) IncDeadLettered(eventType, reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

func (m *ConsumerMetrics) ObserveHandle(eventType string, duration time.Duration) {
	if m == nil || m.handle == nil {
		return
	}
	m.handle.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
