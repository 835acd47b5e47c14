//go:build integration
// +build integration

package integration_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobgabriel/ts-shape/internal/analysis"
	"github.com/jakobgabriel/ts-shape/internal/config"
	"github.com/jakobgabriel/ts-shape/internal/loader"
	"github.com/jakobgabriel/ts-shape/internal/metrics"
	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

var base = time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)

// memoryRepo is an in-memory SignalRepository so the full runner path can
// be exercised without a database.
type memoryRepo struct {
	records []timeseries.Record
}

func (r *memoryRepo) FetchRange(_ context.Context, uuids []string, start, end time.Time) ([]timeseries.Record, error) {
	wanted := map[string]bool{}
	for _, u := range uuids {
		wanted[u] = true
	}
	out := []timeseries.Record{}
	for _, rec := range r.records {
		if !wanted[rec.UUID] {
			continue
		}
		if rec.Systime.Before(start) || !rec.Systime.Before(end) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Systime.Before(out[j].Systime)
	})
	return out, nil
}

func (r *memoryRepo) InsertRecords(_ context.Context, records []timeseries.Record) error {
	r.records = append(r.records, records...)
	return nil
}

func (r *memoryRepo) Close() error { return nil }

var _ loader.SignalRepository = (*memoryRepo)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Signals: config.SignalsConfig{
			CycleStart: "press:cycle_active",
			Tolerance:  "press:force_tolerance",
			Actual:     "press:force_actual",
			RunState:   "press:running",
			Upstream:   "conveyor:in_running",
			Downstream: "conveyor:out_running",
		},
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

// seedShift synthesizes one production shift: twenty clean cycles, a force
// signal with one extreme sample, tolerance references, a run signal and a
// pair of conveyor signals.
func seedShift() *memoryRepo {
	records := []timeseries.Record{}
	add := func(uuid string, offset time.Duration, set func(*timeseries.Record)) {
		rec := timeseries.Record{UUID: uuid, Systime: base.Add(offset)}
		set(&rec)
		records = append(records, rec)
	}
	boolVal := func(v bool) func(*timeseries.Record) {
		return func(r *timeseries.Record) { r.ValueBool = timeseries.Bool(v) }
	}
	floatVal := func(v float64) func(*timeseries.Record) {
		return func(r *timeseries.Record) { r.ValueDouble = timeseries.Float(v) }
	}

	for i := 0; i < 20; i++ {
		cycleStart := time.Duration(i) * time.Minute
		add("press:cycle_active", cycleStart, boolVal(true))
		add("press:cycle_active", cycleStart+30*time.Second, boolVal(false))

		force := 100.0 + float64(i%3)
		if i == 7 {
			force = 250 // pressure spike
		}
		add("press:force_actual", cycleStart+15*time.Second, floatVal(force))
		add("press:force_tolerance", cycleStart+15*time.Second, floatVal(99+float64(i%3)))
	}

	add("press:running", 0, boolVal(true))
	add("press:running", 20*time.Minute, boolVal(false))

	for i := 0; i < 20; i++ {
		offset := time.Duration(i) * time.Minute
		add("conveyor:in_running", offset, boolVal(true))
		add("conveyor:out_running", offset+50*time.Millisecond, boolVal(i != 4))
	}

	return &memoryRepo{records: records}
}

func setupRunner(t *testing.T, repo *memoryRepo) (*analysis.Runner, *prometheus.Registry) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithRegistry(registry)
	require.NoError(t, err)

	pipeline := analysis.NewPipeline(testConfig(), m, logger)
	return analysis.NewRunner(repo, pipeline, logger), registry
}

func TestAnalyzeWindowE2E(t *testing.T) {
	repo := seedShift()
	runner, registry := setupRunner(t, repo)

	report, err := runner.AnalyzeWindow(context.Background(), base, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Len(t, report.Cycles, 20)
	assert.Equal(t, 20, report.CycleReport.CompleteCycles)
	assert.Equal(t, 0, report.CycleReport.IncompleteCycles)
	assert.Len(t, report.CycleStats, 20)

	// The 250 spike breaks the tolerance-derived 3-sigma band and stands
	// alone as a z-score outlier.
	assert.NotEmpty(t, report.Violations)
	assert.NotEmpty(t, report.Outliers)

	require.NotNil(t, report.MachineQuality)
	assert.Equal(t, 1, report.MachineQuality.TotalTransitions)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tsshape_cycles_extracted_total"])
	assert.True(t, names["tsshape_analysis_duration_seconds"])
}

func TestAnalyzeWindowRespectsBounds(t *testing.T) {
	repo := seedShift()
	runner, _ := setupRunner(t, repo)

	// Only the first ten cycles fall inside the half-window.
	report, err := runner.AnalyzeWindow(context.Background(), base, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, report.Cycles, 10)
}

func TestEventWritebackRoundTrip(t *testing.T) {
	repo := seedShift()
	runner, _ := setupRunner(t, repo)

	report, err := runner.AnalyzeWindow(context.Background(), base, base.Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, report.Outliers)

	events := make([]timeseries.Record, 0, len(report.Outliers))
	for _, ev := range report.Outliers {
		events = append(events, timeseries.Record{
			UUID:        ev.UUID,
			Systime:     ev.Systime,
			ValueDouble: timeseries.Float(ev.Value),
			IsDelta:     ev.IsDelta,
		})
	}
	require.NoError(t, repo.InsertRecords(context.Background(), events))

	fetched, err := repo.FetchRange(context.Background(),
		[]string{report.Outliers[0].UUID}, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, fetched, len(events))
}
