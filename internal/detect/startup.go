package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// DefaultStartupEventUUID tags events emitted by a StartupDetector when no
// event UUID is configured.
const DefaultStartupEventUUID = "startup_event"

// StartupMethod names the detection strategy that produced an event.
type StartupMethod string

const (
	StartupThreshold StartupMethod = "threshold"
	StartupSlope     StartupMethod = "slope"
)

// StartupEvent marks an equipment startup interval.
type StartupEvent struct {
	Start      time.Time
	End        time.Time
	UUID       string
	SourceUUID string
	IsDelta    bool
	Method     StartupMethod
	Threshold  *float64 // threshold method only
	MinSlope   *float64 // slope method only
	AvgSlope   *float64 // slope method only
}

// Hysteresis carries separate enter/exit thresholds for crossing detection.
type Hysteresis struct {
	Enter float64
	Exit  float64
}

// StartupDetector finds startup transients on a numeric metric such as spindle
// speed or temperature.
type StartupDetector struct {
	series    *timeseries.SeriesView
	eventUUID string
	logger    *logrus.Logger
}

// NewStartupDetector slices the target signal out of the frame. An empty
// sourceUUID fails fast.
func NewStartupDetector(frame *timeseries.Frame, sourceUUID, eventUUID string, logger *logrus.Logger) (*StartupDetector, error) {
	if sourceUUID == "" {
		return nil, fmt.Errorf("sourceUUID must be a non-empty string")
	}
	if eventUUID == "" {
		eventUUID = DefaultStartupEventUUID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StartupDetector{
		series:    frame.Series(sourceUUID),
		eventUUID: eventUUID,
		logger:    logger,
	}, nil
}

// ByThreshold detects startups at upward crossings of threshold (or the
// hysteresis enter level). A crossing only counts when the metric dwells at
// or above the exit level for the whole minAbove window following the
// crossing instant.
func (d *StartupDetector) ByThreshold(threshold float64, hysteresis *Hysteresis, minAbove string) ([]StartupEvent, error) {
	dwell, err := timeseries.ParseDuration(minAbove)
	if err != nil {
		return nil, err
	}

	events := []StartupEvent{}
	if d.series.Len() == 0 {
		return events, nil
	}

	enter, exit := threshold, threshold
	if hysteresis != nil {
		enter, exit = hysteresis.Enter, hysteresis.Exit
	}

	times := d.series.Times()
	values := d.series.Float64s()

	prevAbove := false
	for i := range values {
		above := values[i] >= enter
		rising := above && !prevAbove
		prevAbove = above
		if !rising {
			continue
		}

		t0 := times[i]
		deadline := t0.Add(dwell)
		held := false
		for j := i; j < len(values) && !times[j].After(deadline); j++ {
			held = true
			if !(values[j] >= exit) {
				held = false
				break
			}
		}
		if !held {
			continue
		}

		events = append(events, StartupEvent{
			Start:      t0,
			End:        t0.Add(dwell),
			UUID:       d.eventUUID,
			SourceUUID: d.series.UUID(),
			IsDelta:    true,
			Method:     StartupThreshold,
			Threshold:  timeseries.Float(threshold),
		})
	}

	return events, nil
}

// BySlope detects intervals where the per-second slope stays at or above
// minSlope for at least minDuration. Unlike ramp detection this is one-sided:
// only rising slopes count as startups.
func (d *StartupDetector) BySlope(minSlope float64, minDuration string) ([]StartupEvent, error) {
	minTD, err := timeseries.ParseDuration(minDuration)
	if err != nil {
		return nil, err
	}

	events := []StartupEvent{}
	if d.series.Len() == 0 {
		return events, nil
	}

	times := d.series.Times()
	values := d.series.Float64s()

	n := len(values)
	slopes := make([]float64, n)
	qualifies := make([]bool, n)
	for i := 1; i < n; i++ {
		dt := times[i].Sub(times[i-1]).Seconds()
		slopes[i] = (values[i] - values[i-1]) / dt
		qualifies[i] = slopes[i] >= minSlope
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
		if times[j].Sub(times[i]) >= minTD {
			sum, count := 0.0, 0
			for k := i; k <= j; k++ {
				if !math.IsNaN(slopes[k]) && !math.IsInf(slopes[k], 0) {
					sum += slopes[k]
					count++
				}
			}
			avg := math.NaN()
			if count > 0 {
				avg = sum / float64(count)
			}
			events = append(events, StartupEvent{
				Start:      times[i],
				End:        times[j],
				UUID:       d.eventUUID,
				SourceUUID: d.series.UUID(),
				IsDelta:    true,
				Method:     StartupSlope,
				MinSlope:   timeseries.Float(minSlope),
				AvgSlope:   timeseries.Float(avg),
			})
		}
		i = j + 1
	}

	return events, nil
}
