package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetMirrorPosition("stream1", 0.9)
	c.SetStableStatus("stream1", "DOWN", []string{"UP", "DOWN", "UNKNOWN"})
	c.IncFrames()
	c.IncFrames()
	c.IncExcluded()
	c.ObserveGet(10 * time.Millisecond)
	c.ObserveInference(50 * time.Millisecond)

	assert.Equal(t, 0.9, testutil.ToFloat64(c.mirrorPosition.WithLabelValues("stream1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stableStatus.WithLabelValues("stream1", "DOWN")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stableStatus.WithLabelValues("stream1", "UP")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.frameCounter))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.excludedCounter))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
