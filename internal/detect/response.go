package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// ResponseAnalyzer computes follow-up KPIs for each setpoint change by
// inspecting how an actual (process value) signal tracked the new setpoint.
type ResponseAnalyzer struct {
	frame     *timeseries.Frame
	setpoint  *timeseries.SeriesView
	eventUUID string
	logger    *logrus.Logger
}

// SettleResult reports, for one setpoint change, how long the actual signal
// took to first enter the tolerance band and whether it stayed inside long
// enough to count as settled. SettleSeconds is nil when the band was never
// entered within the lookahead window.
type SettleResult struct {
	Start         time.Time
	UUID          string
	IsDelta       bool
	SettleSeconds *float64
	Settled       bool
}

// OvershootResult reports peak overshoot/undershoot and oscillation metrics
// relative to the new setpoint. Pointer fields are nil when the corresponding
// excursion did not occur or the window held no data.
type OvershootResult struct {
	Start                time.Time
	UUID                 string
	IsDelta              bool
	OvershootAbs         *float64
	OvershootPct         *float64
	PeakSeconds          *float64
	UndershootAbs        *float64
	UndershootPct        *float64
	UndershootSeconds    *float64
	OscillationCount     *int
	OscillationAmplitude *float64
}

// DecayResult reports the fitted exponential decay rate of the settling error
// after one setpoint change. Lambda and R2 are nil when too few usable points
// were available for the log-linear fit.
type DecayResult struct {
	Start   time.Time
	UUID    string
	IsDelta bool
	Lambda  *float64
	R2      *float64
}

// SettleOptions tunes TimeToSettle. Exactly one of Tol and SettlePct is
// normally set; SettlePct, when non-nil, scales with the step magnitude.
type SettleOptions struct {
	Tol       float64
	SettlePct *float64
	Hold      string
	Lookahead string
}

// NewResponseAnalyzer slices the setpoint signal out of the frame. The frame
// is retained so actual signals can be resolved per call (the frame's LRU
// keeps repeated lookups cheap).
func NewResponseAnalyzer(frame *timeseries.Frame, setpointUUID, eventUUID string, logger *logrus.Logger) (*ResponseAnalyzer, error) {
	if setpointUUID == "" {
		return nil, fmt.Errorf("setpointUUID must be a non-empty string")
	}
	if eventUUID == "" {
		eventUUID = DefaultChangeEventUUID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResponseAnalyzer{
		frame:     frame,
		setpoint:  frame.Series(setpointUUID),
		eventUUID: eventUUID,
		logger:    logger,
	}, nil
}

// changePoint is one setpoint change instant with the levels around it.
type changePoint struct {
	t     time.Time
	level float64
	prev  float64
	delta float64
}

func (a *ResponseAnalyzer) changePoints() []changePoint {
	times := a.setpoint.Times()
	values := a.setpoint.Float64s()

	changes := []changePoint{}
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if math.Abs(delta) > 0 {
			changes = append(changes, changePoint{
				t:     times[i],
				level: values[i],
				prev:  values[i-1],
				delta: delta,
			})
		}
	}
	return changes
}

// window returns the samples of the actual series in [t0, t0+lookahead].
func window(actual *timeseries.SeriesView, t0 time.Time, lookahead time.Duration) ([]time.Time, []float64) {
	times := actual.Times()
	values := actual.Float64s()
	deadline := t0.Add(lookahead)

	wt := []time.Time{}
	wv := []float64{}
	for i := range times {
		if times[i].Before(t0) || times[i].After(deadline) {
			continue
		}
		wt = append(wt, times[i])
		wv = append(wv, values[i])
	}
	return wt, wv
}

// TimeToSettle computes, per setpoint change, the time until the actual
// signal is within tolerance of the new setpoint, and whether a contiguous
// in-tolerance run of at least opts.Hold exists inside the lookahead window.
func (a *ResponseAnalyzer) TimeToSettle(actualUUID string, opts SettleOptions) ([]SettleResult, error) {
	holdTD, err := timeseries.ParseDuration(opts.Hold)
	if err != nil {
		return nil, err
	}
	lookTD, err := timeseries.ParseDuration(opts.Lookahead)
	if err != nil {
		return nil, err
	}

	results := []SettleResult{}
	if a.setpoint.Len() == 0 {
		return results, nil
	}
	actual := a.frame.Series(actualUUID)

	for _, c := range a.changePoints() {
		tol := opts.Tol
		if opts.SettlePct != nil && c.delta != 0 {
			tol = math.Abs(c.delta) * *opts.SettlePct
		}

		wt, wv := window(actual, c.t, lookTD)
		res := SettleResult{Start: c.t, UUID: a.eventUUID, IsDelta: true}
		if len(wt) == 0 {
			results = append(results, res)
			continue
		}

		inside := make([]bool, len(wv))
		for i, v := range wv {
			inside[i] = math.Abs(v-c.level) <= tol
		}

		for i, in := range inside {
			if in {
				res.SettleSeconds = timeseries.Float(wt[i].Sub(c.t).Seconds())
				break
			}
		}

		// Settled when any contiguous inside run spans the hold duration.
		for i := 0; i < len(inside); {
			if !inside[i] {
				i++
				continue
			}
			j := i
			for j+1 < len(inside) && inside[j+1] {
				j++
			}
			if wt[j].Sub(wt[i]) >= holdTD {
				res.Settled = true
				break
			}
			i = j + 1
		}

		results = append(results, res)
	}

	return results, nil
}

// Overshoot computes peak overshoot and undershoot in the direction of each
// change, plus zero-crossing oscillation metrics, within a lookahead window.
func (a *ResponseAnalyzer) Overshoot(actualUUID string, lookahead string) ([]OvershootResult, error) {
	lookTD, err := timeseries.ParseDuration(lookahead)
	if err != nil {
		return nil, err
	}

	results := []OvershootResult{}
	if a.setpoint.Len() == 0 {
		return results, nil
	}
	actual := a.frame.Series(actualUUID)

	for _, c := range a.changePoints() {
		res := OvershootResult{Start: c.t, UUID: a.eventUUID, IsDelta: true}
		wt, wv := window(actual, c.t, lookTD)
		if len(wt) == 0 {
			results = append(results, res)
			continue
		}

		errs := make([]float64, len(wv))
		for i, v := range wv {
			errs[i] = v - c.level
		}

		maxErr, maxIdx := math.Inf(-1), -1
		minErr, minIdx := math.Inf(1), -1
		for i, e := range errs {
			if math.IsNaN(e) {
				continue
			}
			if e > maxErr {
				maxErr, maxIdx = e, i
			}
			if e < minErr {
				minErr, minIdx = e, i
			}
		}
		if maxIdx < 0 {
			results = append(results, res)
			continue
		}

		var peak, undershoot float64
		var peakAt, undershootAt *time.Time
		if c.delta >= 0 {
			peak = maxErr
			if peak > 0 {
				peakAt = &wt[maxIdx]
			}
			undershoot = -minErr
			if minErr < 0 {
				undershootAt = &wt[minIdx]
			}
		} else {
			peak = -minErr
			if minErr < 0 {
				peakAt = &wt[minIdx]
			}
			undershoot = maxErr
			if maxErr > 0 {
				undershootAt = &wt[maxIdx]
			}
		}

		if peak > 0 {
			res.OvershootAbs = timeseries.Float(peak)
			if c.delta != 0 {
				res.OvershootPct = timeseries.Float(peak / math.Abs(c.delta))
			}
		}
		if peakAt != nil {
			res.PeakSeconds = timeseries.Float(peakAt.Sub(c.t).Seconds())
		}
		if undershoot > 0 {
			res.UndershootAbs = timeseries.Float(undershoot)
			if c.delta != 0 {
				res.UndershootPct = timeseries.Float(undershoot / math.Abs(c.delta))
			}
		}
		if undershootAt != nil {
			res.UndershootSeconds = timeseries.Float(undershootAt.Sub(c.t).Seconds())
		}

		// Oscillation: error sign changes after the initial transition.
		signChanges := 0
		prevSign := 0.0
		first := true
		for _, e := range errs {
			if math.IsNaN(e) {
				continue
			}
			sign := 0.0
			if e > 0 {
				sign = 1
			} else if e < 0 {
				sign = -1
			}
			if !first && sign != prevSign {
				signChanges++
			}
			prevSign = sign
			first = false
		}
		count := signChanges - 1
		if count < 0 {
			count = 0
		}
		res.OscillationCount = &count

		absSum, absN := 0.0, 0
		for _, e := range errs {
			if !math.IsNaN(e) {
				absSum += math.Abs(e)
				absN++
			}
		}
		if absN > 0 {
			res.OscillationAmplitude = timeseries.Float(absSum / float64(absN))
		}

		results = append(results, res)
	}

	return results, nil
}

// DecayRate fits error(t) = A*exp(-lambda*t) per change via least squares on
// log(error) and reports lambda with the fit R². Windows with fewer than
// minPoints usable samples yield nil fields rather than an error.
func (a *ResponseAnalyzer) DecayRate(actualUUID string, lookahead string, minPoints int) ([]DecayResult, error) {
	lookTD, err := timeseries.ParseDuration(lookahead)
	if err != nil {
		return nil, err
	}

	results := []DecayResult{}
	if a.setpoint.Len() == 0 {
		return results, nil
	}
	actual := a.frame.Series(actualUUID)

	for _, c := range a.changePoints() {
		res := DecayResult{Start: c.t, UUID: a.eventUUID, IsDelta: true}
		wt, wv := window(actual, c.t, lookTD)
		if len(wt) < minPoints {
			results = append(results, res)
			continue
		}

		// Log-linear fit needs strictly positive errors.
		ts := []float64{}
		logErr := []float64{}
		for i, v := range wv {
			e := math.Abs(v - c.level)
			if math.IsNaN(e) || e <= 1e-6 {
				continue
			}
			ts = append(ts, wt[i].Sub(c.t).Seconds())
			logErr = append(logErr, math.Log(e))
		}
		if len(ts) < minPoints {
			a.logger.WithField("start", c.t).Warn("too few points for decay-rate fit")
			results = append(results, res)
			continue
		}

		slope, intercept := linearFit(ts, logErr)
		lambda := -slope

		ssRes, ssTot := 0.0, 0.0
		meanLog := timeseries.Mean(logErr)
		for i := range ts {
			pred := slope*ts[i] + intercept
			ssRes += (logErr[i] - pred) * (logErr[i] - pred)
			ssTot += (logErr[i] - meanLog) * (logErr[i] - meanLog)
		}
		r2 := 0.0
		if ssTot > 0 {
			r2 = 1 - ssRes/ssTot
		}

		if lambda > 0 {
			res.Lambda = timeseries.Float(lambda)
		}
		res.R2 = timeseries.Float(r2)
		results = append(results, res)
	}

	return results, nil
}

// linearFit returns the least-squares slope and intercept of y over x.
func linearFit(x, y []float64) (slope, intercept float64) {
	n := float64(len(x))
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	meanX := timeseries.Mean(x)
	meanY := timeseries.Mean(y)
	num, den := 0.0, 0.0
	for i := range x {
		num += (x[i] - meanX) * (y[i] - meanY)
		den += (x[i] - meanX) * (x[i] - meanX)
	}
	if den == 0 {
		return math.NaN(), math.NaN()
	}
	slope = num / den
	intercept = meanY - slope*meanX
	return slope, intercept
}
