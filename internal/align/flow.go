package align

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// DefaultFlowEventUUID tags events emitted by a FlowMonitor when no event
// UUID is configured.
const DefaultFlowEventUUID = "prod:flow"

// FlowEventType discriminates blocked from starved conditions.
type FlowEventType string

const (
	FlowBlocked FlowEventType = "blocked"
	FlowStarved FlowEventType = "starved"
)

// Severity buckets a flow event by duration.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// FlowEvent is an interval during which material flow between two stations
// was constrained. AlignmentQuality is the quality of the alignment call the
// event came from; every event of one call carries the same value.
type FlowEvent struct {
	Start            time.Time
	End              time.Time
	UUID             string
	SourceUUID       string
	IsDelta          bool
	Type             FlowEventType
	AlignmentQuality float64
	Duration         time.Duration
	Severity         Severity
}

// FlowOptions tunes flow-event detection. Tolerance is the symmetric
// alignment tolerance; ToleranceBefore/After, when both set, replace it with
// asymmetric bounds. Empty duration strings take the listed defaults.
type FlowOptions struct {
	Tolerance         string // default "200ms"
	ToleranceBefore   string
	ToleranceAfter    string
	MinDuration       string // default "0s"
	MinorThreshold    string // default "5s"
	ModerateThreshold string // default "30s"
}

func (o FlowOptions) withDefaults() FlowOptions {
	if o.Tolerance == "" {
		o.Tolerance = "200ms"
	}
	if o.MinDuration == "" {
		o.MinDuration = "0s"
	}
	if o.MinorThreshold == "" {
		o.MinorThreshold = "5s"
	}
	if o.ModerateThreshold == "" {
		o.ModerateThreshold = "30s"
	}
	return o
}

// FlowMonitor derives blocked/starved events from a pair of boolean run
// signals identified by their UUIDs.
type FlowMonitor struct {
	frame     *timeseries.Frame
	eventUUID string
	logger    *logrus.Logger
}

// NewFlowMonitor wraps a frame for flow-constraint analysis.
func NewFlowMonitor(frame *timeseries.Frame, eventUUID string, logger *logrus.Logger) *FlowMonitor {
	if eventUUID == "" {
		eventUUID = DefaultFlowEventUUID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FlowMonitor{frame: frame, eventUUID: eventUUID, logger: logger}
}

// BlockedEvents finds intervals where the upstream station runs while the
// downstream station does not consume: upstream.state AND NOT
// downstream.state, grouped into maximal runs and filtered by minimum
// duration. The upstream series is the alignment anchor.
func (m *FlowMonitor) BlockedEvents(upstreamUUID, downstreamUUID string, opts FlowOptions) ([]FlowEvent, error) {
	return m.flowEvents(upstreamUUID, downstreamUUID, FlowBlocked, opts)
}

// StarvedEvents finds intervals where the downstream station runs while the
// upstream station supplies nothing: downstream.state AND NOT upstream.state.
// The downstream series is the alignment anchor.
func (m *FlowMonitor) StarvedEvents(upstreamUUID, downstreamUUID string, opts FlowOptions) ([]FlowEvent, error) {
	return m.flowEvents(downstreamUUID, upstreamUUID, FlowStarved, opts)
}

func (m *FlowMonitor) flowEvents(anchorUUID, partnerUUID string, kind FlowEventType, opts FlowOptions) ([]FlowEvent, error) {
	opts = opts.withDefaults()

	tol, err := parseTolerance(opts)
	if err != nil {
		return nil, err
	}
	minTD, err := timeseries.ParseDuration(opts.MinDuration)
	if err != nil {
		return nil, err
	}
	minorTD, err := timeseries.ParseDuration(opts.MinorThreshold)
	if err != nil {
		return nil, err
	}
	moderateTD, err := timeseries.ParseDuration(opts.ModerateThreshold)
	if err != nil {
		return nil, err
	}

	events := []FlowEvent{}
	anchor := m.frame.Series(anchorUUID)
	partner := m.frame.Series(partnerUUID)
	if anchor.Len() == 0 || partner.Len() == 0 {
		m.logger.WithFields(logrus.Fields{
			"anchor":  anchorUUID,
			"partner": partnerUUID,
		}).Warn("flow detection on empty series")
		return events, nil
	}

	aligned := Align(anchor, partner, tol, MatchNearest)

	cond := make([]bool, len(aligned.Rows))
	for i, row := range aligned.Rows {
		// Unmatched partner rows count as not running.
		cond[i] = row.Anchor && !(row.Matched && row.Other)
	}

	for i := 0; i < len(cond); {
		if !cond[i] {
			i++
			continue
		}
		j := i
		for j+1 < len(cond) && cond[j+1] {
			j++
		}
		start := aligned.Rows[i].Time
		end := aligned.Rows[j].Time
		duration := end.Sub(start)
		if duration >= minTD {
			events = append(events, FlowEvent{
				Start:            start,
				End:              end,
				UUID:             m.eventUUID,
				SourceUUID:       anchorUUID,
				IsDelta:          true,
				Type:             kind,
				AlignmentQuality: aligned.Quality,
				Duration:         duration,
				Severity:         classifySeverity(duration, minorTD, moderateTD),
			})
		}
		i = j + 1
	}

	return events, nil
}

func parseTolerance(opts FlowOptions) (Tolerance, error) {
	base, err := timeseries.ParseDuration(opts.Tolerance)
	if err != nil {
		return Tolerance{}, fmt.Errorf("tolerance: %w", err)
	}
	tol := Symmetric(base)
	if opts.ToleranceBefore != "" {
		tol.Before, err = timeseries.ParseDuration(opts.ToleranceBefore)
		if err != nil {
			return Tolerance{}, fmt.Errorf("tolerance_before: %w", err)
		}
	}
	if opts.ToleranceAfter != "" {
		tol.After, err = timeseries.ParseDuration(opts.ToleranceAfter)
		if err != nil {
			return Tolerance{}, fmt.Errorf("tolerance_after: %w", err)
		}
	}
	return tol, nil
}

func classifySeverity(d, minor, moderate time.Duration) Severity {
	switch {
	case d < minor:
		return SeverityMinor
	case d < moderate:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}
