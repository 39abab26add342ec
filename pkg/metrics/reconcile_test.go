package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestReconcileMetricsCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconcileMetrics(reg)

	m.IncTransition("webhook", "transitioned")
	m.IncTransition("callback", "already_paid")
	m.IncTransition("callback", "already_paid")
	m.IncStep("inventory", "succeeded")
	m.IncStep("commerce_sync", "failed")
	m.IncStep("", "skipped")
	m.IncAmountMismatch()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "storefront_reconcile_transitions_total", map[string]string{"trigger": "callback", "result": "already_paid"})
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	got, err = fetchCounterValue(mfs, "storefront_reconcile_steps_total", map[string]string{"step": "commerce_sync", "outcome": "failed"})
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "storefront_reconcile_steps_total", map[string]string{"step": "unknown", "outcome": "skipped"})
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "storefront_reconcile_amount_mismatch_total", nil)
	require.NoError(t, err)
	require.Equal(t, float64(1), got)
}
