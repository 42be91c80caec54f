package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics counts reconciliation outcomes by source.
type ReconcileMetrics struct {
	outcomes      *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
}

// NewReconcileMetrics registers reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Reconciliation results by source and outcome.",
	}, []string{"source", "outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound gateway webhook events by normalized status.",
	}, []string{"status"})
	reg.MustRegister(outcomes, webhookEvents)
	return &ReconcileMetrics{
		outcomes:      outcomes,
		webhookEvents: webhookEvents,
	}
}

// IncOutcome increments the outcome counter for the given source.
func (m *ReconcileMetrics) IncOutcome(source, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// IncWebhookEvent increments the webhook counter for the normalized status.
func (m *ReconcileMetrics) IncWebhookEvent(status string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(status)).Inc()
}
