package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

func TestStartupByThreshold(t *testing.T) {
	// Crosses 1000 at t=2s and dwells; a second crossing at t=8s drops out
	// immediately and must be rejected.
	frame := timeseries.NewFrame(doubleSeries("rpm", time.Second,
		0, 500, 1200, 1300, 1250, 1300, 800, 700, 1100, 900), nil)
	d, err := NewStartupDetector(frame, "rpm", "", nil)
	require.NoError(t, err)

	events, err := d.ByThreshold(1000, nil, "2s")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, base.Add(2*time.Second), events[0].Start)
	assert.Equal(t, base.Add(4*time.Second), events[0].End)
	assert.Equal(t, StartupThreshold, events[0].Method)
	require.NotNil(t, events[0].Threshold)
	assert.InDelta(t, 1000.0, *events[0].Threshold, 1e-9)
}

func TestStartupByThresholdHysteresis(t *testing.T) {
	// Enter at 1000, exit at 900: dipping to 950 during the dwell is fine.
	frame := timeseries.NewFrame(doubleSeries("rpm", time.Second,
		0, 1100, 950, 980, 990), nil)
	d, err := NewStartupDetector(frame, "rpm", "", nil)
	require.NoError(t, err)

	strict, err := d.ByThreshold(1000, nil, "2s")
	require.NoError(t, err)
	assert.Empty(t, strict)

	relaxed, err := d.ByThreshold(1000, &Hysteresis{Enter: 1000, Exit: 900}, "2s")
	require.NoError(t, err)
	require.Len(t, relaxed, 1)
	assert.Equal(t, base.Add(time.Second), relaxed[0].Start)
}

func TestStartupBySlope(t *testing.T) {
	// Rising 100 units/s for 4s, then a fall; only the rise qualifies.
	frame := timeseries.NewFrame(doubleSeries("rpm", time.Second,
		0, 100, 200, 300, 400, 300, 200), nil)
	d, err := NewStartupDetector(frame, "rpm", "", nil)
	require.NoError(t, err)

	events, err := d.BySlope(50, "2s")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, base.Add(time.Second), events[0].Start)
	assert.Equal(t, base.Add(4*time.Second), events[0].End)
	assert.Equal(t, StartupSlope, events[0].Method)
	require.NotNil(t, events[0].AvgSlope)
	assert.InDelta(t, 100.0, *events[0].AvgSlope, 1e-9)
}

func TestStartupEmptySeries(t *testing.T) {
	frame := timeseries.NewFrame(nil, nil)
	d, err := NewStartupDetector(frame, "rpm", "", nil)
	require.NoError(t, err)

	byThr, err := d.ByThreshold(100, nil, "1s")
	require.NoError(t, err)
	assert.Empty(t, byThr)

	bySlope, err := d.BySlope(1, "1s")
	require.NoError(t, err)
	assert.Empty(t, bySlope)
}
