// Package outlier flags anomalous samples in a numeric signal using
// z-score, IQR, or MAD scoring, then coalesces outliers close in time into
// events.
package outlier

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// DefaultEventUUID tags outlier events when no event UUID is configured.
const DefaultEventUUID = "outlier_event"

// Event is one emitted outlier row. Multi-sample bursts emit their first
// and last rows only.
type Event struct {
	Systime       time.Time
	Value         float64
	IsDelta       bool
	UUID          string
	SeverityScore float64
}

// Detector scores one numeric signal for outliers.
type Detector struct {
	view          *timeseries.SeriesView
	eventUUID     string
	timeThreshold time.Duration
	logger        *logrus.Logger
}

// NewDetector slices the signal out of the frame. timeThreshold (default
// "5m") is the maximum gap between outliers merged into one burst;
// malformed thresholds fail fast.
func NewDetector(frame *timeseries.Frame, sourceUUID, eventUUID, timeThreshold string, logger *logrus.Logger) (*Detector, error) {
	if eventUUID == "" {
		eventUUID = DefaultEventUUID
	}
	if timeThreshold == "" {
		timeThreshold = "5m"
	}
	td, err := timeseries.ParseDuration(timeThreshold)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{
		view:          frame.Series(sourceUUID),
		eventUUID:     eventUUID,
		timeThreshold: td,
		logger:        logger,
	}, nil
}

// ByZScore flags samples whose population z-score magnitude exceeds the
// threshold; the score doubles as severity. Degenerate series (no spread)
// yield no outliers.
func (d *Detector) ByZScore(threshold float64, includeSingles bool) []Event {
	values := d.view.Float64s()
	mean := timeseries.Mean(values)
	sd := populationStd(values, mean)

	outliers := []scoredIndex{}
	for i, v := range values {
		z := math.Abs(v-mean) / sd
		if z > threshold {
			outliers = append(outliers, scoredIndex{index: i, score: z})
		}
	}
	return d.group(outliers, includeSingles)
}

// ByIQR flags samples outside [Q1 - lowerMult*IQR, Q3 + upperMult*IQR].
// Severity is the distance beyond the violated bound in IQR units, zero
// when the IQR itself is zero.
func (d *Detector) ByIQR(lowerMult, upperMult float64, includeSingles bool) []Event {
	values := d.view.Float64s()
	q1 := timeseries.Quantile(values, 0.25)
	q3 := timeseries.Quantile(values, 0.75)
	iqr := q3 - q1
	lower := q1 - lowerMult*iqr
	upper := q3 + upperMult*iqr

	outliers := []scoredIndex{}
	for i, v := range values {
		if v >= lower && v <= upper {
			continue
		}
		score := 0.0
		if iqr > 0 {
			score = math.Max(0, (lower-v)/iqr) + math.Max(0, (v-upper)/iqr)
		}
		outliers = append(outliers, scoredIndex{index: i, score: score})
	}
	return d.group(outliers, includeSingles)
}

// ByMAD flags samples whose modified z-score (0.6745 * deviation from the
// median over the median absolute deviation) exceeds the threshold. A zero
// MAD falls back to machine epsilon rather than dividing by zero.
func (d *Detector) ByMAD(threshold float64, includeSingles bool) []Event {
	values := d.view.Float64s()
	median := timeseries.Median(values)

	deviations := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			deviations = append(deviations, math.Abs(v-median))
		}
	}
	mad := timeseries.Median(deviations)
	if mad == 0 {
		mad = math.Nextafter(1, 2) - 1
	}

	outliers := []scoredIndex{}
	for i, v := range values {
		score := math.Abs(0.6745 * (v - median) / mad)
		if score > threshold {
			outliers = append(outliers, scoredIndex{index: i, score: score})
		}
	}
	return d.group(outliers, includeSingles)
}

type scoredIndex struct {
	index int
	score float64
}

// group coalesces outliers into bursts separated by more than the time
// threshold. A burst of several samples emits its first and last rows;
// lone outliers are emitted only when includeSingles is set.
func (d *Detector) group(outliers []scoredIndex, includeSingles bool) []Event {
	events := []Event{}
	times := d.view.Times()
	values := d.view.Float64s()

	emit := func(o scoredIndex) {
		events = append(events, Event{
			Systime:       times[o.index],
			Value:         values[o.index],
			IsDelta:       true,
			UUID:          d.eventUUID,
			SeverityScore: o.score,
		})
	}

	for i := 0; i < len(outliers); {
		j := i
		for j+1 < len(outliers) &&
			times[outliers[j+1].index].Sub(times[outliers[j].index]) <= d.timeThreshold {
			j++
		}
		if j > i {
			emit(outliers[i])
			emit(outliers[j])
		} else if includeSingles {
			emit(outliers[i])
		}
		i = j + 1
	}

	d.logger.WithFields(logrus.Fields{
		"source_uuid": d.view.UUID(),
		"outliers":    len(outliers),
		"events":      len(events),
	}).Info("outlier detection finished")
	return events
}

func populationStd(values []float64, mean float64) float64 {
	n := 0
	sum := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += (v - mean) * (v - mean)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sum / float64(n))
}
