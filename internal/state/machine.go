// Package state turns a boolean machine run signal into run/idle intervals,
// transition events, and data-quality summaries.
package state

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// DefaultEventUUID tags run/idle events when no event UUID is configured.
const DefaultEventUUID = "prod:run_idle"

// MachineState labels one interval.
type MachineState string

const (
	StateRun  MachineState = "run"
	StateIdle MachineState = "idle"
)

// StateInterval is a maximal run of one machine state. Missing boolean
// values read as idle.
type StateInterval struct {
	Start           time.Time
	End             time.Time
	UUID            string
	SourceUUID      string
	IsDelta         bool
	State           MachineState
	DurationSeconds float64
}

// Transition names the direction of a state change.
type Transition string

const (
	IdleToRun Transition = "idle_to_run"
	RunToIdle Transition = "run_to_idle"
)

// TransitionEvent is a point event at a state change. SincePrevSeconds is
// nil for the first transition of the series.
type TransitionEvent struct {
	Systime          time.Time
	UUID             string
	SourceUUID       string
	IsDelta          bool
	Transition       Transition
	SincePrevSeconds *float64
}

// RapidTransitionEvent is a window holding an unusually dense burst of
// transitions.
type RapidTransitionEvent struct {
	Start           time.Time
	End             time.Time
	TransitionCount int
	DurationSeconds float64
}

// QualityMetrics summarizes the health of a run signal.
type QualityMetrics struct {
	TotalTransitions int
	AvgRunSeconds    float64
	AvgIdleSeconds   float64
	RunIdleRatio     float64
	DataGaps         int
	RapidTransitions int
}

// Detector derives machine-state events from one boolean run signal.
type Detector struct {
	view       *timeseries.SeriesView
	sourceUUID string
	eventUUID  string
	logger     *logrus.Logger
}

// NewDetector slices the run signal out of the frame. An empty eventUUID
// takes DefaultEventUUID.
func NewDetector(frame *timeseries.Frame, runStateUUID, eventUUID string, logger *logrus.Logger) *Detector {
	if eventUUID == "" {
		eventUUID = DefaultEventUUID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{
		view:       frame.Series(runStateUUID),
		sourceUUID: runStateUUID,
		eventUUID:  eventUUID,
		logger:     logger,
	}
}

func (d *Detector) states() []bool {
	return d.view.Bools()
}

// RunIdleIntervals groups consecutive equal states into intervals and drops
// intervals shorter than minDuration. An interval spans from its first to
// its last sample, so a single-sample interval has zero duration.
func (d *Detector) RunIdleIntervals(minDuration string) ([]StateInterval, error) {
	minTD, err := timeseries.ParseDuration(minDuration)
	if err != nil {
		return nil, err
	}

	times := d.view.Times()
	states := d.states()
	intervals := []StateInterval{}
	for i := 0; i < len(states); {
		j := i
		for j+1 < len(states) && states[j+1] == states[i] {
			j++
		}
		start, end := times[i], times[j]
		i = j + 1
		if end.Sub(start) < minTD {
			continue
		}
		st := StateIdle
		if states[j] {
			st = StateRun
		}
		intervals = append(intervals, StateInterval{
			Start:           start,
			End:             end,
			UUID:            d.eventUUID,
			SourceUUID:      d.sourceUUID,
			IsDelta:         true,
			State:           st,
			DurationSeconds: end.Sub(start).Seconds(),
		})
	}

	d.logger.WithFields(logrus.Fields{
		"source_uuid": d.sourceUUID,
		"intervals":   len(intervals),
	}).Info("run/idle intervals detected")
	return intervals, nil
}

// Transitions emits a point event at every sample whose state differs from
// the previous sample. The first sample never transitions.
func (d *Detector) Transitions() []TransitionEvent {
	times := d.view.Times()
	states := d.states()

	events := []TransitionEvent{}
	var lastTransition *time.Time
	for i := 1; i < len(states); i++ {
		if states[i] == states[i-1] {
			continue
		}
		tr := RunToIdle
		if states[i] {
			tr = IdleToRun
		}
		ev := TransitionEvent{
			Systime:    times[i],
			UUID:       d.eventUUID,
			SourceUUID: d.sourceUUID,
			IsDelta:    true,
			Transition: tr,
		}
		if lastTransition != nil {
			since := times[i].Sub(*lastTransition).Seconds()
			ev.SincePrevSeconds = &since
		}
		t := times[i]
		lastTransition = &t
		events = append(events, ev)
	}
	return events
}

// RapidTransitions finds every window of at least minCount transitions
// fitting inside the threshold duration. The scan widens each window until
// the threshold breaks, so overlapping windows are all reported. Worst case
// is quadratic in the transition count when the signal chatters faster than
// the threshold throughout.
func (d *Detector) RapidTransitions(threshold string, minCount int) ([]RapidTransitionEvent, error) {
	thresholdTD, err := timeseries.ParseDuration(threshold)
	if err != nil {
		return nil, err
	}

	transitions := d.Transitions()
	events := []RapidTransitionEvent{}
	if minCount < 2 || len(transitions) < minCount {
		return events, nil
	}

	for i := 0; i <= len(transitions)-minCount; i++ {
		start := transitions[i].Systime
		for j := i + minCount - 1; j < len(transitions); j++ {
			span := transitions[j].Systime.Sub(start)
			if span > thresholdTD {
				break
			}
			events = append(events, RapidTransitionEvent{
				Start:           start,
				End:             transitions[j].Systime,
				TransitionCount: j - i + 1,
				DurationSeconds: span.Seconds(),
			})
		}
	}

	if len(events) > 0 {
		d.logger.WithFields(logrus.Fields{
			"source_uuid": d.sourceUUID,
			"windows":     len(events),
		}).Warn("rapid state transitions detected")
	}
	return events, nil
}

// DataGaps counts sample-to-sample spacings larger than maxGap.
func (d *Detector) DataGaps(maxGap string) (int, error) {
	maxTD, err := timeseries.ParseDuration(maxGap)
	if err != nil {
		return 0, err
	}
	times := d.view.Times()
	gaps := 0
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) > maxTD {
			gaps++
		}
	}
	return gaps, nil
}

// QualityReport aggregates transition counts, average interval durations,
// run/idle balance, data gaps (over 5m), and rapid-transition windows
// (3 transitions inside 5s). Empty or degenerate signals report zeros.
func (d *Detector) QualityReport() QualityMetrics {
	transitions := d.Transitions()
	intervals, _ := d.RunIdleIntervals("0s")

	var runSum, idleSum float64
	var runCount, idleCount int
	for _, iv := range intervals {
		if iv.State == StateRun {
			runSum += iv.DurationSeconds
			runCount++
		} else {
			idleSum += iv.DurationSeconds
			idleCount++
		}
	}

	metrics := QualityMetrics{TotalTransitions: len(transitions)}
	if runCount > 0 {
		metrics.AvgRunSeconds = runSum / float64(runCount)
	}
	if idleCount > 0 {
		metrics.AvgIdleSeconds = idleSum / float64(idleCount)
	}
	if idleSum > 0 {
		metrics.RunIdleRatio = runSum / idleSum
	}
	metrics.DataGaps, _ = d.DataGaps("5m")
	rapid, _ := d.RapidTransitions("5s", 3)
	metrics.RapidTransitions = len(rapid)
	return metrics
}
