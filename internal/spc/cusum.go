package spc

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// ShiftDirection names which CUSUM accumulator crossed the threshold.
// Upward takes precedence when both sides are over at the same sample.
type ShiftDirection string

const (
	ShiftUpward   ShiftDirection = "upward"
	ShiftDownward ShiftDirection = "downward"
)

// CusumShift is one sample at which the cumulative sum exceeded the
// decision interval.
type CusumShift struct {
	Systime   time.Time
	Value     float64
	CusumHigh float64
	CusumLow  float64
	Direction ShiftDirection
	Severity  Severity
	UUID      string
}

// DetectShifts runs a two-sided CUSUM over the actual signal. The target
// defaults to the tolerance mean when nil; sigma always comes from the
// tolerance signal. k is the slack in sigma units, h the decision interval
// in sigma units. Both accumulators reset toward zero and never go
// negative; severity escalates from high to critical past twice the
// threshold. A NaN sigma disables detection entirely.
func (m *Monitor) DetectShifts(target *float64, k, h float64) []CusumShift {
	tolerance := m.frame.Series(m.toleranceUUID).Float64s()
	sigma := timeseries.Std(tolerance)
	center := timeseries.Mean(tolerance)
	if target != nil {
		center = *target
	}

	view := m.frame.Series(m.actualUUID)
	times := view.Times()
	values := view.Float64s()

	threshold := h * sigma
	shifts := []CusumShift{}
	var high, low float64
	for i, v := range values {
		high = max0(high + v - center - k*sigma)
		low = max0(low + center - v - k*sigma)

		if !(high > threshold || low > threshold) {
			continue
		}
		shift := CusumShift{
			Systime:   times[i],
			Value:     v,
			CusumHigh: high,
			CusumLow:  low,
			Direction: ShiftDownward,
			Severity:  SeverityHigh,
			UUID:      m.eventUUID,
		}
		if high > threshold {
			shift.Direction = ShiftUpward
		}
		if high > 2*threshold || low > 2*threshold {
			shift.Severity = SeverityCritical
		}
		shifts = append(shifts, shift)
	}

	m.logger.WithFields(logrus.Fields{
		"actual_uuid": m.actualUUID,
		"shifts":      len(shifts),
	}).Info("cusum shift detection finished")
	return shifts
}

func max0(v float64) float64 {
	// NaN stays NaN so degenerate sigma never fakes an accumulator reset
	// into a real value.
	if v < 0 {
		return 0
	}
	return v
}
