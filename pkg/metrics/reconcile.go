package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "storefront"

// ReconcileMetrics counts paid transitions and side-effect step outcomes.
type ReconcileMetrics struct {
	transitions *prometheus.CounterVec
	steps       *prometheus.CounterVec
	mismatches  prometheus.Counter
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_transitions_total",
		Help:      "Reconciliation attempts by trigger and paid-transition result.",
	}, []string{"trigger", "result"})
	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_steps_total",
		Help:      "Post-payment side-effect outcomes by step.",
	}, []string{"step", "outcome"})
	mismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_amount_mismatch_total",
		Help:      "Verified payments whose amount differed from the order total.",
	})
	reg.MustRegister(transitions, steps, mismatches)
	return &ReconcileMetrics{
		transitions: transitions,
		steps:       steps,
		mismatches:  mismatches,
	}
}

// IncTransition records one reconciliation attempt.
func (m *ReconcileMetrics) IncTransition(trigger, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(trigger), normalizeLabel(result)).Inc()
}

// IncStep records the outcome of one side-effect step.
func (m *ReconcileMetrics) IncStep(step, outcome string) {
	if m == nil || m.steps == nil {
		return
	}
	m.steps.WithLabelValues(normalizeLabel(step), normalizeLabel(outcome)).Inc()
}

// IncAmountMismatch records a verified amount that did not match the order.
func (m *ReconcileMetrics) IncAmountMismatch() {
	if m == nil || m.mismatches == nil {
		return
	}
	m.mismatches.Inc()
}
