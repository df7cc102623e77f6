package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SampleAccepted("synthetic")
	m.SampleAccepted("synthetic")
	m.SamplesDropped("serial", 3)
	m.SamplesDropped("serial", 0)
	m.Completed("fire", 95)
	m.HeartRate("NORTH", 72)
	m.SessionStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.samplesAccepted.WithLabelValues("synthetic")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.samplesDropped.WithLabelValues("serial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("fire")))
	assert.Equal(t, 72.0, testutil.ToFloat64(m.heartRate.WithLabelValues("NORTH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))

	m.SessionStopped("NORTH")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeSessions))

	n, err := testutil.GatherAndCount(reg, "mandala_percent_in_target")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SampleAccepted("x")
	m.SamplesDropped("x", 1)
	m.Completed("fire", 10)
	m.HeartRate("x", 1)
	m.SessionStarted()
	m.SessionStopped("x")
}
