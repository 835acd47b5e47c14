package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobgabriel/ts-shape/internal/config"
	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

var base = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func testConfig(signals config.SignalsConfig) *config.Config {
	return &config.Config{
		Signals: signals,
		Analysis: config.AnalysisConfig{
			MinCycleDuration:     "1s",
			MaxCycleDuration:     "1h",
			StepMinDelta:         1.0,
			StepMinHold:          "10s",
			RampMinRate:          0.5,
			RampMinDuration:      "5s",
			AlignmentTolerance:   "200ms",
			SPCWindow:            20,
			CusumK:               0.5,
			CusumH:               5.0,
			OutlierTimeThreshold: "5m",
		},
	}
}

func boolRecord(uuid string, offset time.Duration, v bool) timeseries.Record {
	return timeseries.Record{UUID: uuid, Systime: base.Add(offset), ValueBool: timeseries.Bool(v)}
}

func floatRecord(uuid string, offset time.Duration, v float64) timeseries.Record {
	return timeseries.Record{UUID: uuid, Systime: base.Add(offset), ValueDouble: timeseries.Float(v)}
}

func TestSignalUUIDsDeduplicates(t *testing.T) {
	p := NewPipeline(testConfig(config.SignalsConfig{
		CycleStart: "press:cycle",
		CycleEnd:   "press:cycle",
		Actual:     "press:force",
		Tolerance:  "",
	}), nil, nil)

	assert.Equal(t, []string{"press:cycle", "press:force"}, p.SignalUUIDs())
}

func TestRunSkipsUnconfiguredSections(t *testing.T) {
	p := NewPipeline(testConfig(config.SignalsConfig{Actual: "press:force"}), nil, nil)

	frame := timeseries.NewFrame([]timeseries.Record{
		floatRecord("press:force", 0, 10),
		floatRecord("press:force", time.Minute, 11),
		floatRecord("press:force", 2*time.Minute, 10),
	}, nil)

	report, err := p.Run(frame, base, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Empty(t, report.Cycles)
	assert.Empty(t, report.Violations)
	assert.Nil(t, report.MachineQuality)
	assert.NotNil(t, report.Outliers)
	assert.Equal(t, 3, report.RecordCount)
}

func TestRunExtractsCycles(t *testing.T) {
	p := NewPipeline(testConfig(config.SignalsConfig{
		CycleStart: "press:cycle",
		Actual:     "press:force",
		RunState:   "press:running",
	}), nil, nil)

	records := []timeseries.Record{
		boolRecord("press:cycle", 0, true),
		boolRecord("press:cycle", 10*time.Second, false),
		boolRecord("press:cycle", 20*time.Second, true),
		boolRecord("press:cycle", 30*time.Second, false),
		floatRecord("press:force", 5*time.Second, 100),
		floatRecord("press:force", 25*time.Second, 102),
		boolRecord("press:running", 0, true),
		boolRecord("press:running", 30*time.Second, false),
	}

	report, err := p.Run(timeseries.NewFrame(records, nil), base, base.Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, report.Cycles, 2)
	assert.Equal(t, 2, report.CycleReport.CompleteCycles)
	assert.Len(t, report.CycleStats, 2)
	require.NotNil(t, report.MachineQuality)
}

func TestRunBadDurationFailsFast(t *testing.T) {
	cfg := testConfig(config.SignalsConfig{CycleStart: "press:cycle"})
	cfg.Analysis.MinCycleDuration = "often"
	p := NewPipeline(cfg, nil, nil)

	frame := timeseries.NewFrame([]timeseries.Record{
		boolRecord("press:cycle", 0, true),
		boolRecord("press:cycle", 10*time.Second, false),
	}, nil)

	_, err := p.Run(frame, base, base.Add(time.Minute))
	assert.ErrorIs(t, err, timeseries.ErrInvalidDuration)
}
