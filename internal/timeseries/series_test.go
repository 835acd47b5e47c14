package timeseries

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesViewSortsAndFilters(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []Record{
		{UUID: "temp", Systime: t0.Add(20 * time.Second), ValueDouble: Float(3)},
		{UUID: "other", Systime: t0, ValueDouble: Float(99)},
		{UUID: "temp", Systime: t0, ValueDouble: Float(1)},
		{UUID: "temp", Systime: t0.Add(10 * time.Second), ValueDouble: Float(2)},
	}

	view := NewSeriesView(records, "temp")
	require.Equal(t, 3, view.Len())
	assert.Equal(t, []float64{1, 2, 3}, view.Float64s())
	assert.Equal(t, t0, view.Times()[0])
}

func TestSeriesViewStableSortOnDuplicateTimestamps(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []Record{
		{UUID: "s", Systime: t0, ValueDouble: Float(1)},
		{UUID: "s", Systime: t0, ValueDouble: Float(2)},
		{UUID: "s", Systime: t0, ValueDouble: Float(3)},
	}

	view := NewSeriesView(records, "s")
	assert.Equal(t, []float64{1, 2, 3}, view.Float64s(), "duplicate timestamps keep input order")
}

func TestSeriesViewMissingValues(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []Record{
		{UUID: "s", Systime: t0, ValueBool: Bool(true)},
		{UUID: "s", Systime: t0.Add(time.Second)},
	}

	view := NewSeriesView(records, "s")
	floats := view.Float64s()
	assert.True(t, math.IsNaN(floats[0]))
	assert.True(t, math.IsNaN(floats[1]))
	assert.Equal(t, []bool{true, false}, view.Bools(), "missing bool counts as false")
}

func TestFrameCachesViews(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []Record{{UUID: "s", Systime: t0, ValueDouble: Float(1)}}
	frame := NewFrame(records, nil)

	first := frame.Series("s")
	second := frame.Series("s")
	assert.Same(t, first, second)

	empty := frame.Series("unknown")
	assert.Equal(t, 0, empty.Len())
}

func TestFrameDefensiveCopy(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []Record{{UUID: "s", Systime: t0, ValueDouble: Float(1)}}
	frame := NewFrame(records, nil)

	records[0].UUID = "mutated"
	assert.Equal(t, 1, frame.Series("s").Len())
}

func TestScalarStats(t *testing.T) {
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 1.0, Std([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 2.0, Median([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 1.5, Quantile([]float64{1, 2, 3}, 0.25), 1e-12)

	assert.True(t, math.IsNaN(Mean(nil)))
	assert.True(t, math.IsNaN(Std([]float64{5})), "single point has no sample std")
	assert.InDelta(t, 2.0, Mean([]float64{1, math.NaN(), 3}), 1e-12, "NaN values are skipped")
}
