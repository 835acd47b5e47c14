// Package detect implements change-point detection over single signals:
// setpoint steps and ramps, startup transients, and the response KPIs
// (settling, overshoot, decay) derived from a setpoint/actual signal pair.
package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// DefaultChangeEventUUID tags events emitted by a ChangeDetector when no
// event UUID is configured.
const DefaultChangeEventUUID = "setpoint_change_event"

// ChangeKind discriminates the rows of a unified change table.
type ChangeKind string

const (
	ChangeStep ChangeKind = "step"
	ChangeRamp ChangeKind = "ramp"
)

// StepEvent is a point event (Start == End) where the signal jumped by at
// least the configured delta and the new level held.
type StepEvent struct {
	Start      time.Time
	End        time.Time
	UUID       string
	SourceUUID string
	IsDelta    bool
	Magnitude  float64
	PrevLevel  *float64
	NewLevel   float64
}

// RampEvent is an interval event covering a maximal run of samples whose
// rate of change stayed at or above the configured minimum.
type RampEvent struct {
	Start      time.Time
	End        time.Time
	UUID       string
	SourceUUID string
	IsDelta    bool
	AvgRate    float64
	Delta      float64
}

// ChangeEvent is a row of the unified step+ramp table. Step-only and
// ramp-only fields are nil on rows of the other kind.
type ChangeEvent struct {
	Start      time.Time
	End        time.Time
	UUID       string
	SourceUUID string
	IsDelta    bool
	Kind       ChangeKind
	Magnitude  *float64
	PrevLevel  *float64
	NewLevel   *float64
	AvgRate    *float64
	Delta      *float64
}

// ChangeDetector finds discrete and continuous change points on one numeric
// signal. All detection methods are pure functions of the series snapshot
// taken at construction.
type ChangeDetector struct {
	series    *timeseries.SeriesView
	eventUUID string
	logger    *logrus.Logger
}

// NewChangeDetector slices the signal for sourceUUID out of the frame. An
// empty sourceUUID is an input-shape error and fails fast. eventUUID tags
// emitted events; empty selects DefaultChangeEventUUID.
func NewChangeDetector(frame *timeseries.Frame, sourceUUID, eventUUID string, logger *logrus.Logger) (*ChangeDetector, error) {
	if sourceUUID == "" {
		return nil, fmt.Errorf("sourceUUID must be a non-empty string")
	}
	if eventUUID == "" {
		eventUUID = DefaultChangeEventUUID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChangeDetector{
		series:    frame.Series(sourceUUID),
		eventUUID: eventUUID,
		logger:    logger,
	}, nil
}

// DetectSteps returns point events at samples where |value - previous value|
// >= minDelta and the new level persists: the next detected change (not the
// next raw sample) must be at least minHold later, or there must be no
// further change. When filterNoise is set, consecutive samples within
// noiseThreshold of a running reference level are coalesced to that level
// before deltas are computed (one left-to-right pass).
func (d *ChangeDetector) DetectSteps(minDelta float64, minHold string, filterNoise bool, noiseThreshold float64) ([]StepEvent, error) {
	holdTD, err := timeseries.ParseDuration(minHold)
	if err != nil {
		return nil, err
	}

	events := []StepEvent{}
	if d.series.Len() == 0 {
		return events, nil
	}

	times := d.series.Times()
	values := d.series.Float64s()
	if filterNoise {
		values = coalesceNoise(values, noiseThreshold)
	}

	// Candidate changes: the first sample has no predecessor and is never a
	// candidate.
	type candidate struct {
		idx   int
		delta float64
		prev  float64
	}
	candidates := []candidate{}
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if math.Abs(delta) >= minDelta {
			candidates = append(candidates, candidate{idx: i, delta: delta, prev: values[i-1]})
		}
	}

	for k, c := range candidates {
		if k+1 < len(candidates) {
			next := times[candidates[k+1].idx]
			if next.Sub(times[c.idx]) < holdTD {
				continue
			}
		}
		prev := c.prev
		ev := StepEvent{
			Start:      times[c.idx],
			End:        times[c.idx],
			UUID:       d.eventUUID,
			SourceUUID: d.series.UUID(),
			IsDelta:    true,
			Magnitude:  c.delta,
			NewLevel:   values[c.idx],
		}
		if !math.IsNaN(prev) {
			ev.PrevLevel = timeseries.Float(prev)
		}
		events = append(events, ev)
	}

	return events, nil
}

// coalesceNoise flattens samples that stay within threshold of a running
// reference level, so measurement jitter does not register as steps.
func coalesceNoise(values []float64, threshold float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if len(out) == 0 {
		return out
	}
	ref := out[0]
	for i := 1; i < len(out); i++ {
		if math.Abs(out[i]-ref) <= threshold {
			out[i] = ref
		} else {
			ref = out[i]
		}
	}
	return out
}

// DetectRamps returns interval events covering maximal contiguous runs where
// the per-sample rate |dv/dt| stays at or above minRate, keeping only runs
// spanning at least minDuration. Average rate and net delta are reported over
// the qualifying samples of each run.
func (d *ChangeDetector) DetectRamps(minRate float64, minDuration string) ([]RampEvent, error) {
	minTD, err := timeseries.ParseDuration(minDuration)
	if err != nil {
		return nil, err
	}

	events := []RampEvent{}
	if d.series.Len() == 0 {
		return events, nil
	}

	times := d.series.Times()
	values := d.series.Float64s()

	n := len(values)
	qualifies := make([]bool, n)
	rates := make([]float64, n)
	deltas := make([]float64, n)
	for i := 1; i < n; i++ {
		dt := times[i].Sub(times[i-1]).Seconds()
		dv := values[i] - values[i-1]
		rate := dv / dt
		rates[i] = rate
		deltas[i] = dv
		qualifies[i] = math.Abs(rate) >= minRate
	}

	for i := 1; i < n; {
		if !qualifies[i] {
			i++
			continue
		}
		j := i
		for j+1 < n && qualifies[j+1] {
			j++
		}
		start, end := times[i], times[j]
		if end.Sub(start) >= minTD {
			rateSum, deltaSum := 0.0, 0.0
			count := 0
			for k := i; k <= j; k++ {
				if !math.IsNaN(rates[k]) && !math.IsInf(rates[k], 0) {
					rateSum += rates[k]
					count++
				}
				if !math.IsNaN(deltas[k]) {
					deltaSum += deltas[k]
				}
			}
			avg := math.NaN()
			if count > 0 {
				avg = rateSum / float64(count)
			}
			events = append(events, RampEvent{
				Start:      start,
				End:        end,
				UUID:       d.eventUUID,
				SourceUUID: d.series.UUID(),
				IsDelta:    true,
				AvgRate:    avg,
				Delta:      deltaSum,
			})
		}
		i = j + 1
	}

	return events, nil
}

// DetectChanges produces the unified change table: steps filtered by minDelta
// and minHold, plus ramps when minRate is non-nil, merged and sorted by start
// time.
func (d *ChangeDetector) DetectChanges(minDelta float64, minRate *float64, minHold, minDuration string) ([]ChangeEvent, error) {
	steps, err := d.DetectSteps(minDelta, minHold, false, 0)
	if err != nil {
		return nil, err
	}

	ramps := []RampEvent{}
	if minRate != nil {
		ramps, err = d.DetectRamps(*minRate, minDuration)
		if err != nil {
			return nil, err
		}
	}

	combined := make([]ChangeEvent, 0, len(steps)+len(ramps))
	for _, s := range steps {
		combined = append(combined, ChangeEvent{
			Start:      s.Start,
			End:        s.End,
			UUID:       s.UUID,
			SourceUUID: s.SourceUUID,
			IsDelta:    s.IsDelta,
			Kind:       ChangeStep,
			Magnitude:  timeseries.Float(s.Magnitude),
			PrevLevel:  s.PrevLevel,
			NewLevel:   timeseries.Float(s.NewLevel),
		})
	}
	for _, r := range ramps {
		combined = append(combined, ChangeEvent{
			Start:      r.Start,
			End:        r.End,
			UUID:       r.UUID,
			SourceUUID: r.SourceUUID,
			IsDelta:    r.IsDelta,
			Kind:       ChangeRamp,
			AvgRate:    timeseries.Float(r.AvgRate),
			Delta:      timeseries.Float(r.Delta),
		})
	}

	sort.SliceStable(combined, func(i, j int) bool {
		if !combined[i].Start.Equal(combined[j].Start) {
			return combined[i].Start.Before(combined[j].Start)
		}
		return combined[i].End.Before(combined[j].End)
	})
	return combined, nil
}
