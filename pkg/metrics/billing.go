package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records webhook, entitlement, device and Stripe call activity.
type BillingMetrics struct {
	webhookEvents  *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	devicesRevoked *prometheus.CounterVec
	pairing        *prometheus.CounterVec
	stripeCalls    *prometheus.HistogramVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Stripe webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_decisions_total",
		Help: "Entitlement decisions by source and result.",
	}, []string{"source", "result"})
	devicesRevoked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devices_revoked_total",
		Help: "Devices revoked by reason.",
	}, []string{"reason"})
	pairing := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "device_pairing_attempts_total",
		Help: "Pairing code redemptions by outcome.",
	}, []string{"outcome"})
	stripeCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stripe_call_duration_seconds",
		Help:    "Latency of outbound Stripe API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	reg.MustRegister(webhookEvents, decisions, devicesRevoked, pairing, stripeCalls)
	return &BillingMetrics{
		webhookEvents:  webhookEvents,
		decisions:      decisions,
		devicesRevoked: devicesRevoked,
		pairing:        pairing,
		stripeCalls:    stripeCalls,
	}
}

// IncWebhookEvent counts one webhook delivery.
func (m *BillingMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncEntitlementDecision counts one resolver answer.
func (m *BillingMetrics) IncEntitlementDecision(source string, entitled bool) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(source), boolLabel(entitled)).Inc()
}

// AddDevicesRevoked adds n revocations for the given reason.
func (m *BillingMetrics) AddDevicesRevoked(reason string, n int) {
	if m == nil || m.devicesRevoked == nil || n <= 0 {
		return
	}
	m.devicesRevoked.WithLabelValues(normalizeLabel(reason)).Add(float64(n))
}

// IncPairingAttempt counts one pairing redemption.
func (m *BillingMetrics) IncPairingAttempt(outcome string) {
	if m == nil || m.pairing == nil {
		return
	}
	m.pairing.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveStripeCall records the latency of one Stripe API call.
func (m *BillingMetrics) ObserveStripeCall(operation string, duration time.Duration, err error) {
	if m == nil || m.stripeCalls == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stripeCalls.WithLabelValues(normalizeLabel(operation), outcome).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
