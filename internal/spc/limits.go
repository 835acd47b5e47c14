// Package spc evaluates Western Electric control rules and CUSUM shift
// detection over an actual-value signal, with control limits derived from a
// tolerance reference signal. Degenerate reference data (too few points,
// zero spread) yields NaN bands, which make every rule comparison false
// instead of raising.
package spc

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// DefaultEventUUID tags violations when no event UUID is configured.
const DefaultEventUUID = "spc_violation_event"

var (
	// ErrEmptyActualUUID is returned when a monitor is built without an
	// actual-value signal.
	ErrEmptyActualUUID = errors.New("spc: actual uuid must not be empty")
	// ErrEmptyToleranceUUID is returned when a monitor is built without a
	// tolerance reference signal.
	ErrEmptyToleranceUUID = errors.New("spc: tolerance uuid must not be empty")
)

// Monitor applies SPC rule evaluation to one actual signal against limits
// computed from one tolerance signal.
type Monitor struct {
	frame         *timeseries.Frame
	toleranceUUID string
	actualUUID    string
	eventUUID     string
	logger        *logrus.Logger
}

// NewMonitor builds a monitor. Tolerance rows define the control limits,
// actual rows are evaluated against them, and emitted violations carry
// eventUUID (default DefaultEventUUID).
func NewMonitor(frame *timeseries.Frame, toleranceUUID, actualUUID, eventUUID string, logger *logrus.Logger) (*Monitor, error) {
	if actualUUID == "" {
		return nil, ErrEmptyActualUUID
	}
	if toleranceUUID == "" {
		return nil, ErrEmptyToleranceUUID
	}
	if eventUUID == "" {
		eventUUID = DefaultEventUUID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Monitor{
		frame:         frame,
		toleranceUUID: toleranceUUID,
		actualUUID:    actualUUID,
		eventUUID:     eventUUID,
		logger:        logger,
	}, nil
}

// ControlLimits is one set of center line and sigma bands. All fields are
// NaN when the reference data cannot support a spread estimate.
type ControlLimits struct {
	Mean        float64
	Sigma1Upper float64
	Sigma1Lower float64
	Sigma2Upper float64
	Sigma2Lower float64
	Sigma3Upper float64
	Sigma3Lower float64
}

func bandsAround(mean, sigma float64) ControlLimits {
	return ControlLimits{
		Mean:        mean,
		Sigma1Upper: mean + sigma,
		Sigma1Lower: mean - sigma,
		Sigma2Upper: mean + 2*sigma,
		Sigma2Lower: mean - 2*sigma,
		Sigma3Upper: mean + 3*sigma,
		Sigma3Lower: mean - 3*sigma,
	}
}

// StaticLimits computes fixed control limits from the tolerance signal.
func (m *Monitor) StaticLimits() ControlLimits {
	doubles := m.frame.Series(m.toleranceUUID).Float64s()
	mean := timeseries.Mean(doubles)
	sigma := timeseries.Std(doubles)
	if math.IsNaN(sigma) {
		m.logger.WithField("tolerance_uuid", m.toleranceUUID).
			Warn("tolerance data cannot support a spread estimate, limits are NaN")
	}
	return bandsAround(mean, sigma)
}

// LimitMethod selects how dynamic limits track the actual signal.
type LimitMethod int

const (
	// LimitMovingRange uses a trailing rolling window mean and deviation.
	LimitMovingRange LimitMethod = iota
	// LimitEwma uses an exponentially weighted mean with variance of the
	// squared residuals about that mean, so the bands follow drift.
	LimitEwma
)

// TimedLimits is one row of a dynamic limit series.
type TimedLimits struct {
	Systime time.Time
	ControlLimits
}

// DynamicLimits computes per-sample control limits over the actual signal.
// The window is the rolling width for LimitMovingRange and the EWMA span
// for LimitEwma. A single sample in the rolling window yields NaN bands.
func (m *Monitor) DynamicLimits(method LimitMethod, window int) []TimedLimits {
	view := m.frame.Series(m.actualUUID)
	times := view.Times()
	values := view.Float64s()

	out := make([]TimedLimits, 0, len(values))
	switch method {
	case LimitEwma:
		alpha := 2.0 / (float64(window) + 1.0)
		var ewmaMean, ewmaVar float64
		for i, v := range values {
			if i == 0 {
				ewmaMean = v
			} else {
				ewmaMean = (1-alpha)*ewmaMean + alpha*v
			}
			sq := (v - ewmaMean) * (v - ewmaMean)
			if i == 0 {
				ewmaVar = sq
			} else {
				ewmaVar = (1-alpha)*ewmaVar + alpha*sq
			}
			out = append(out, TimedLimits{
				Systime:       times[i],
				ControlLimits: bandsAround(ewmaMean, math.Sqrt(ewmaVar)),
			})
		}
	default:
		for i := range values {
			lo := i - window + 1
			if lo < 0 {
				lo = 0
			}
			win := values[lo : i+1]
			out = append(out, TimedLimits{
				Systime:       times[i],
				ControlLimits: bandsAround(timeseries.Mean(win), timeseries.Std(win)),
			})
		}
	}
	return out
}
