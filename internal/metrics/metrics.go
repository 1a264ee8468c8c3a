// Package metrics holds the Prometheus collectors of the purchase core.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors registered on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	CartOps          *prometheus.CounterVec
	FinalizeTotal    *prometheus.CounterVec
	FinalizeDuration prometheus.Histogram
	GatewayCalls     *prometheus.CounterVec
	StreamsResolved  *prometheus.CounterVec
	PlaysDropped     prometheus.Counter
	WebhookRequests  *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CartOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "cart",
			Name:      "operations_total",
			Help:      "Cart operations by operation and result code.",
		}, []string{"op", "result"}),

		FinalizeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "purchase",
			Name:      "finalize_total",
			Help:      "Finalize attempts by outcome (committed, replayed, or the rejection code).",
		}, []string{"outcome"}),

		FinalizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tunevault",
			Subsystem: "purchase",
			Name:      "finalize_duration_seconds",
			Help:      "Finalize latency in seconds, provider call included.",
			Buckets:   prometheus.DefBuckets,
		}),

		GatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment provider calls by operation and result.",
		}, []string{"op", "result"}),

		StreamsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "access",
			Name:      "streams_resolved_total",
			Help:      "Resolved stream targets by kind.",
		}, []string{"kind"}),

		PlaysDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "access",
			Name:      "play_counts_dropped_total",
			Help:      "Preview play count increments dropped under load or on error.",
		}),

		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Stripe webhook requests by event type and HTTP status.",
		}, []string{"event_type", "status"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunevault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
	}
}

// CartOp records one cart operation.
func (m *Metrics) CartOp(op, result string) {
	if m == nil {
		return
	}
	m.CartOps.WithLabelValues(op, result).Inc()
}

// Finalize records a finalize outcome and its latency.
func (m *Metrics) Finalize(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.FinalizeTotal.WithLabelValues(outcome).Inc()
	m.FinalizeDuration.Observe(time.Since(started).Seconds())
}

// GatewayCall records one provider call.
func (m *Metrics) GatewayCall(op, result string) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(op, result).Inc()
}

// StreamResolved records the kind of a resolved stream.
func (m *Metrics) StreamResolved(kind string) {
	if m == nil {
		return
	}
	m.StreamsResolved.WithLabelValues(kind).Inc()
}

// PlayDropped records a dropped play count increment.
func (m *Metrics) PlayDropped() {
	if m == nil {
		return
	}
	m.PlaysDropped.Inc()
}

// Webhook records one webhook request.
func (m *Metrics) Webhook(eventType string, status int) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
