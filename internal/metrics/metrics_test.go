package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNew_CollectorsAreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PluginsRunning.Set(3)
	m.RestartsTotal.WithLabelValues("hello").Inc()
	m.ForwardsTotal.WithLabelValues("hello", "ok").Inc()
	m.ForwardLatency.WithLabelValues("hello", "ok").Observe(0.01)
	m.KVOpsTotal.WithLabelValues("hello", "get").Inc()
	m.DiscoveryFailure.WithLabelValues("bad_plugin").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]*dto.MetricFamily{}
	for _, f := range families {
		names[f.GetName()] = f
	}

	require.Contains(t, names, "toru_plugins_running")
	require.Equal(t, float64(3), names["toru_plugins_running"].Metric[0].GetGauge().GetValue())

	require.Contains(t, names, "toru_plugins_restarts_total")
	require.Contains(t, names, "toru_router_forwards_total")
	require.Contains(t, names, "toru_router_forward_duration_seconds")
	require.Contains(t, names, "toru_store_kv_ops_total")
	require.Contains(t, names, "toru_supervisor_discovery_failures_total")
}

func TestNew_DoubleRegistrationPanicsOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() {
		New(reg)
	})
}
