package spc

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// spcFrame builds tolerance rows followed by actual rows, each second-spaced.
func spcFrame(tolerance, actual []float64) *timeseries.Frame {
	records := []timeseries.Record{}
	for i, v := range tolerance {
		records = append(records, timeseries.Record{
			UUID:        "tol",
			Systime:     base.Add(time.Duration(i) * time.Second),
			ValueDouble: timeseries.Float(v),
		})
	}
	for i, v := range actual {
		records = append(records, timeseries.Record{
			UUID:        "act",
			Systime:     base.Add(time.Duration(i) * time.Second),
			ValueDouble: timeseries.Float(v),
		})
	}
	return timeseries.NewFrame(records, nil)
}

func newTestMonitor(t *testing.T, tolerance, actual []float64) *Monitor {
	t.Helper()
	m, err := NewMonitor(spcFrame(tolerance, actual), "tol", "act", "", nil)
	require.NoError(t, err)
	return m
}

func TestNewMonitorValidation(t *testing.T) {
	frame := timeseries.NewFrame(nil, nil)
	_, err := NewMonitor(frame, "tol", "", "", nil)
	assert.ErrorIs(t, err, ErrEmptyActualUUID)
	_, err = NewMonitor(frame, "", "act", "", nil)
	assert.ErrorIs(t, err, ErrEmptyToleranceUUID)
}

func TestStaticLimits(t *testing.T) {
	m := newTestMonitor(t, []float64{99, 100, 101}, nil)
	limits := m.StaticLimits()
	assert.InDelta(t, 100.0, limits.Mean, 1e-9)
	assert.InDelta(t, 101.0, limits.Sigma1Upper, 1e-9)
	assert.InDelta(t, 99.0, limits.Sigma1Lower, 1e-9)
	assert.InDelta(t, 103.0, limits.Sigma3Upper, 1e-9)
	assert.InDelta(t, 97.0, limits.Sigma3Lower, 1e-9)
}

func TestStaticLimitsDegenerate(t *testing.T) {
	m := newTestMonitor(t, []float64{100}, nil)
	limits := m.StaticLimits()
	assert.InDelta(t, 100.0, limits.Mean, 1e-9)
	assert.True(t, math.IsNaN(limits.Sigma3Upper))
	assert.True(t, math.IsNaN(limits.Sigma3Lower))
}

func TestRule1SingleExcursion(t *testing.T) {
	// Tight tolerance around 100 and one wild actual sample: exactly one
	// violation, rule 1, critical.
	m := newTestMonitor(t, []float64{99.9, 100.0, 100.1}, []float64{120})

	violations := m.EvaluateRules()
	require.Len(t, violations, 1)
	v := violations[0]
	assert.Equal(t, Rule1, v.Rule)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.InDelta(t, 120.0, v.Value, 1e-9)
	assert.Equal(t, base, v.Systime)
	assert.Equal(t, DefaultEventUUID, v.UUID)
}

func TestNaNLimitsNeverFire(t *testing.T) {
	// A single tolerance point gives NaN bands; band rules must stay
	// silent no matter the actual data.
	m := newTestMonitor(t, []float64{100}, []float64{500, -500, 500, -500, 500})
	violations := m.EvaluateRules(Rule1, Rule5, Rule6, Rule7, Rule8)
	assert.Empty(t, violations)
}

func TestRule2FiresAtWindowCompletion(t *testing.T) {
	// Nine samples above the series mean, then one below to pull the mean
	// under them: the only full nine-window on one side ends at index 8.
	actual := []float64{101, 101, 101, 101, 101, 101, 101, 101, 101, 90}
	m := newTestMonitor(t, []float64{0, 100, 200}, actual)

	violations := m.EvaluateRules(Rule2)
	require.Len(t, violations, 1)
	assert.Equal(t, base.Add(8*time.Second), violations[0].Systime, "fires at the ninth sample")
	assert.Equal(t, SeverityMedium, violations[0].Severity)
}

func TestRule3Monotonic(t *testing.T) {
	// Seven strictly increasing points: six rises complete at the seventh
	// sample.
	actual := []float64{1, 2, 3, 4, 5, 6, 7}
	m := newTestMonitor(t, []float64{0, 100, 200}, actual)

	violations := m.EvaluateRules(Rule3)
	require.Len(t, violations, 1)
	assert.Equal(t, base.Add(6*time.Second), violations[0].Systime)
}

func TestRule4Alternating(t *testing.T) {
	actual := make([]float64, 15)
	for i := range actual {
		if i%2 == 0 {
			actual[i] = 100
		} else {
			actual[i] = 110
		}
	}
	m := newTestMonitor(t, []float64{0, 100, 200}, actual)

	violations := m.EvaluateRules(Rule4)
	require.Len(t, violations, 2)
	assert.Equal(t, base.Add(13*time.Second), violations[0].Systime, "13 alternating deltas complete at the 14th sample")
	assert.Equal(t, base.Add(14*time.Second), violations[1].Systime)
}

func TestRule4RepeatBreaksRun(t *testing.T) {
	actual := make([]float64, 20)
	for i := range actual {
		if i%2 == 0 {
			actual[i] = 100
		} else {
			actual[i] = 110
		}
	}
	actual[10] = actual[9] // flat delta resets the alternation
	m := newTestMonitor(t, []float64{0, 100, 200}, actual)
	assert.Empty(t, m.EvaluateRules(Rule4))
}

func TestRule5TwoOfThreeInOuterBand(t *testing.T) {
	// Limits: mean 100, sigma 1. Points at 102.5 sit between 2 and 3
	// sigma; two of them within any three samples fire the rule.
	actual := []float64{102.5, 100, 102.5}
	m := newTestMonitor(t, []float64{99, 100, 101}, actual)

	violations := m.EvaluateRules(Rule5)
	require.Len(t, violations, 1)
	assert.Equal(t, base.Add(2*time.Second), violations[0].Systime)
	assert.Equal(t, SeverityHigh, violations[0].Severity)
}

func TestRule6FourOfFiveInInnerBand(t *testing.T) {
	// Points at 101.5 sit between 1 and 2 sigma.
	actual := []float64{101.5, 101.5, 100, 101.5, 101.5}
	m := newTestMonitor(t, []float64{99, 100, 101}, actual)

	violations := m.EvaluateRules(Rule6)
	require.Len(t, violations, 1)
	assert.Equal(t, base.Add(4*time.Second), violations[0].Systime)
}

func TestRules7And8ShareThePredicate(t *testing.T) {
	// Fifteen quiet points within 1 sigma: rule 8 fires from the eighth
	// sample on, rule 7 exactly at the fifteenth. Every rule-7 index must
	// also be a rule-8 index.
	actual := make([]float64, 15)
	for i := range actual {
		actual[i] = 100.1
	}
	m := newTestMonitor(t, []float64{99, 100, 101}, actual)

	seven := m.EvaluateRules(Rule7)
	eight := m.EvaluateRules(Rule8)
	require.Len(t, seven, 1)
	assert.Equal(t, base.Add(14*time.Second), seven[0].Systime)
	require.Len(t, eight, 8)
	assert.Equal(t, base.Add(7*time.Second), eight[0].Systime)

	eightTimes := map[time.Time]bool{}
	for _, v := range eight {
		eightTimes[v.Systime] = true
	}
	for _, v := range seven {
		assert.True(t, eightTimes[v.Systime], "rule 7 firing implies rule 8 firing")
	}
}

func TestEvaluateRulesEmptyActual(t *testing.T) {
	m := newTestMonitor(t, []float64{99, 100, 101}, nil)
	violations := m.EvaluateRules()
	assert.NotNil(t, violations)
	assert.Empty(t, violations)
}

func TestInterpretViolations(t *testing.T) {
	m := newTestMonitor(t, []float64{99.9, 100.0, 100.1}, []float64{120})
	interpreted := InterpretViolations(m.EvaluateRules(Rule1))
	require.Len(t, interpreted, 1)
	assert.Equal(t, Rule1, interpreted[0].Rule)
	assert.Contains(t, interpreted[0].Interpretation, "3-sigma")
	assert.NotEmpty(t, interpreted[0].Meaning)
	assert.NotEmpty(t, interpreted[0].Recommendation)
}

func TestRuleStrings(t *testing.T) {
	for i, rule := range AllRules {
		assert.Equal(t, fmt.Sprintf("rule_%d", i+1), rule.String())
	}
}
