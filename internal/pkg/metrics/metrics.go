// Package metrics holds the Prometheus collectors for delivery and tracking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fortnight"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AdsServed           *prometheus.CounterVec
	TrackingEvents      *prometheus.CounterVec
	TokenFailures       *prometheus.CounterVec
	AnalyticsWriteError *prometheus.CounterVec
	DeliveryDuration    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ads_served_total",
			Help:      "Total number of ads rendered, by fallback state",
		}, []string{"fallback"}),
		TrackingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_events_total",
			Help:      "Total number of tracking hits accepted, by event and traffic type",
		}, []string{"event", "traffic"}),
		TokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_failures_total",
			Help:      "Total number of rejected tracking tokens, by reason",
		}, []string{"reason"}),
		AnalyticsWriteError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_write_errors_total",
			Help:      "Total number of failed analytics writes, by event kind",
		}, []string{"kind"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent selecting and rendering ads for a placement request",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.AdsServed, m.TrackingEvents, m.TokenFailures, m.AnalyticsWriteError, m.DeliveryDuration)
	return m
}

// AdServed counts one rendered ad.
func (m *Metrics) AdServed(fallback bool) {
	if m == nil {
		return
	}
	label := "false"
	if fallback {
		label = "true"
	}
	m.AdsServed.WithLabelValues(label).Inc()
}

// TrackingEvent counts one accepted tracking hit.
func (m *Metrics) TrackingEvent(event string, bot bool) {
	if m == nil {
		return
	}
	traffic := "human"
	if bot {
		traffic = "bot"
	}
	m.TrackingEvents.WithLabelValues(event, traffic).Inc()
}

// TokenFailure counts one rejected token.
func (m *Metrics) TokenFailure(reason string) {
	if m == nil {
		return
	}
	m.TokenFailures.WithLabelValues(reason).Inc()
}

// AnalyticsWriteFailed counts one failed aggregation write.
func (m *Metrics) AnalyticsWriteFailed(kind string) {
	if m == nil {
		return
	}
	m.AnalyticsWriteError.WithLabelValues(kind).Inc()
}

// ObserveDelivery records the duration of one placement request in seconds.
func (m *Metrics) ObserveDelivery(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(seconds)
}
