package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/devrev/docmap/metrics"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveStateCounts(t *testing.T) {
	m := metrics.New("test-node-1")
	m.ObserveStateCounts(1, 2, 3, 4)

	var out dto.Metric
	require.NoError(t, m.EntriesByState.WithLabelValues("added").Write(&out))
	require.Equal(t, float64(1), out.GetGauge().GetValue())
}

func TestMetrics_RecordCleanUp(t *testing.T) {
	m := metrics.New("test-node-2")
	m.RecordCleanUp(true, 5, 0.01)

	var out dto.Metric
	require.NoError(t, m.CleanUpFullTotal.Write(&out))
	require.Equal(t, float64(1), out.GetCounter().GetValue())

	out = dto.Metric{}
	require.NoError(t, m.CleanUpReclaimedTotal.Write(&out))
	require.Equal(t, float64(5), out.GetCounter().GetValue())
}

func TestMetrics_RecordSave(t *testing.T) {
	m := metrics.New("test-node-3")
	m.RecordSave("added", 2, 1)

	var out dto.Metric
	require.NoError(t, m.SaveCommittedTotal.WithLabelValues("added").Write(&out))
	require.Equal(t, float64(2), out.GetCounter().GetValue())

	out = dto.Metric{}
	require.NoError(t, m.SaveWriteErrorTotal.WithLabelValues("added").Write(&out))
	require.Equal(t, float64(1), out.GetCounter().GetValue())
}

func TestMetrics_ObservePool(t *testing.T) {
	m := metrics.New("test-node-4")
	m.ObservePool(3, 7)

	var out dto.Metric
	require.NoError(t, m.SavePoolActiveWorkers.Write(&out))
	require.Equal(t, float64(3), out.GetGauge().GetValue())

	out = dto.Metric{}
	require.NoError(t, m.SavePoolQueueDepth.Write(&out))
	require.Equal(t, float64(7), out.GetGauge().GetValue())
}
