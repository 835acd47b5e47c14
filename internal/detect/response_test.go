package detect

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// stepFixture builds a setpoint step from 100 to 110 at t=+5s with an actual
// signal converging onto the new level.
func stepFixture(actualValues []float64) *timeseries.Frame {
	records := []timeseries.Record{}
	for i := 0; i < 10; i++ {
		v := 100.0
		if i >= 5 {
			v = 110.0
		}
		records = append(records, timeseries.Record{
			UUID:        "sp",
			Systime:     base.Add(time.Duration(i) * time.Second),
			ValueDouble: timeseries.Float(v),
		})
	}
	for i, v := range actualValues {
		records = append(records, timeseries.Record{
			UUID:        "pv",
			Systime:     base.Add(time.Duration(5+i) * time.Second),
			ValueDouble: timeseries.Float(v),
		})
	}
	return timeseries.NewFrame(records, nil)
}

func TestTimeToSettle(t *testing.T) {
	// Enters the ±1 band 3s after the change and stays.
	frame := stepFixture([]float64{100, 104, 108, 109.5, 110, 110, 110})
	a, err := NewResponseAnalyzer(frame, "sp", "", nil)
	require.NoError(t, err)

	results, err := a.TimeToSettle("pv", SettleOptions{Tol: 1.0, Hold: "2s", Lookahead: "1m"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, base.Add(5*time.Second), res.Start)
	require.NotNil(t, res.SettleSeconds)
	assert.InDelta(t, 3.0, *res.SettleSeconds, 1e-9)
	assert.True(t, res.Settled)
}

func TestTimeToSettleNeverSettles(t *testing.T) {
	frame := stepFixture([]float64{100, 101, 100, 102, 101})
	a, err := NewResponseAnalyzer(frame, "sp", "", nil)
	require.NoError(t, err)

	results, err := a.TimeToSettle("pv", SettleOptions{Tol: 1.0, Hold: "1s", Lookahead: "1m"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].SettleSeconds)
	assert.False(t, results[0].Settled)
}

func TestTimeToSettlePercentTolerance(t *testing.T) {
	// Step magnitude 10, 20% band = ±2: 108.5 is inside.
	frame := stepFixture([]float64{100, 105, 108.5, 108.5, 108.5})
	a, err := NewResponseAnalyzer(frame, "sp", "", nil)
	require.NoError(t, err)

	pct := 0.2
	results, err := a.TimeToSettle("pv", SettleOptions{SettlePct: &pct, Hold: "1s", Lookahead: "1m"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].SettleSeconds)
	assert.InDelta(t, 2.0, *results[0].SettleSeconds, 1e-9)
	assert.True(t, results[0].Settled)
}

func TestOvershoot(t *testing.T) {
	// Peaks at 114 (overshoot 4 = 40% of the step) 2s after the change.
	frame := stepFixture([]float64{100, 112, 114, 111, 110, 110})
	a, err := NewResponseAnalyzer(frame, "sp", "", nil)
	require.NoError(t, err)

	results, err := a.Overshoot("pv", "1m")
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NotNil(t, res.OvershootAbs)
	assert.InDelta(t, 4.0, *res.OvershootAbs, 1e-9)
	require.NotNil(t, res.OvershootPct)
	assert.InDelta(t, 0.4, *res.OvershootPct, 1e-9)
	require.NotNil(t, res.PeakSeconds)
	assert.InDelta(t, 2.0, *res.PeakSeconds, 1e-9)
	require.NotNil(t, res.UndershootAbs)
	assert.InDelta(t, 10.0, *res.UndershootAbs, 1e-9, "initial error below the new level")
}

func TestDecayRate(t *testing.T) {
	// Error decays as 8*exp(-0.5t): a clean log-linear fit.
	actuals := make([]float64, 8)
	for i := range actuals {
		actuals[i] = 110 - 8*math.Exp(-0.5*float64(i))
	}
	frame := stepFixture(actuals)
	a, err := NewResponseAnalyzer(frame, "sp", "", nil)
	require.NoError(t, err)

	results, err := a.DecayRate("pv", "1m", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NotNil(t, res.Lambda)
	assert.InDelta(t, 0.5, *res.Lambda, 1e-6)
	require.NotNil(t, res.R2)
	assert.InDelta(t, 1.0, *res.R2, 1e-6)
}

func TestDecayRateTooFewPoints(t *testing.T) {
	frame := stepFixture([]float64{105, 108})
	a, err := NewResponseAnalyzer(frame, "sp", "", nil)
	require.NoError(t, err)

	results, err := a.DecayRate("pv", "1m", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Lambda)
	assert.Nil(t, results[0].R2)
}
