// Package cycles pairs start and end events into production cycle records,
// validates them against duration bounds, resolves overlaps, and assigns
// value rows to the cycle interval containing them.
package cycles

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// Cycle is one extracted production cycle. End is nil and IsComplete false
// when the end stream ran out before a matching end was found. UUID is
// generated fresh per extraction and carries no identity across calls.
type Cycle struct {
	Start      time.Time
	End        *time.Time
	UUID       string
	IsComplete bool
}

// Duration returns the cycle span, or nil for incomplete cycles. Zero and
// negative durations are legal data; validation is a separate concern.
func (c Cycle) Duration() *time.Duration {
	if c.End == nil {
		return nil
	}
	d := c.End.Sub(c.Start)
	return &d
}

// ExtractionReport is the bookkeeping of a single extraction call. It cannot
// be recomputed from the cycle table alone: exhaustion of the end stream is
// an artifact of the pairing pass, not of the output.
type ExtractionReport struct {
	TotalCycles       int
	CompleteCycles    int
	IncompleteCycles  int
	UnmatchedStarts   int
	UnmatchedEnds     int
	OverlappingCycles int
	Warnings          []string
}

// SuccessRate is the fraction of extracted cycles that are complete, zero
// when nothing was extracted.
func (r ExtractionReport) SuccessRate() float64 {
	if r.TotalCycles == 0 {
		return 0
	}
	return float64(r.CompleteCycles) / float64(r.TotalCycles)
}

var (
	// ErrEmptyStartUUID is returned when an extractor is built without a
	// start signal.
	ErrEmptyStartUUID = errors.New("cycles: start uuid must not be empty")
	// ErrUnknownCycle is returned when a referenced cycle uuid does not
	// name a complete cycle known to the assigner.
	ErrUnknownCycle = errors.New("cycles: unknown reference cycle")
)

// Extractor derives cycle records from a frame using one of several boundary
// strategies. All strategies funnel into the same forward-merge pairing, so
// their reports obey the same totality laws. An extractor keeps the report
// of its most recent extraction; it is not safe for concurrent use, separate
// instances are.
type Extractor struct {
	frame           *timeseries.Frame
	startUUID       string
	endUUID         string
	changeThreshold float64
	logger          *logrus.Logger

	lastReport ExtractionReport
}

// NewExtractor builds an extractor reading starts from startUUID and ends
// from endUUID. An empty endUUID reuses the start signal. changeThreshold is
// the minimum absolute numeric delta the value-change strategy treats as a
// boundary; its sign is ignored.
func NewExtractor(frame *timeseries.Frame, startUUID, endUUID string, changeThreshold float64, logger *logrus.Logger) (*Extractor, error) {
	if startUUID == "" {
		return nil, ErrEmptyStartUUID
	}
	if endUUID == "" {
		endUUID = startUUID
	}
	if changeThreshold < 0 {
		changeThreshold = -changeThreshold
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"start_uuid": startUUID,
		"end_uuid":   endUUID,
	}).Info("cycle extractor initialized")
	return &Extractor{
		frame:           frame,
		startUUID:       startUUID,
		endUUID:         endUUID,
		changeThreshold: changeThreshold,
		logger:          logger,
	}, nil
}

// PersistentCycles extracts cycles from a signal that holds true for the
// whole cycle: rising rows start a cycle, false rows end it.
func (e *Extractor) PersistentCycles() ([]Cycle, ExtractionReport) {
	starts := boolTimes(e.frame.Series(e.startUUID), true)
	ends := boolTimes(e.frame.Series(e.endUUID), false)
	return e.pair(starts, ends)
}

// TriggerCycles extracts cycles from a pulse signal: true rows start a
// cycle, and the end stream is the false rows with the leading reset edge
// dropped, so the immediate reset of the trigger pulse never closes its own
// cycle.
func (e *Extractor) TriggerCycles() ([]Cycle, ExtractionReport) {
	starts := boolTimes(e.frame.Series(e.startUUID), true)
	ends := boolTimes(e.frame.Series(e.endUUID), false)
	if len(ends) > 0 {
		ends = ends[1:]
	}
	return e.pair(starts, ends)
}

// SeparateSignalCycles extracts cycles whose start and end are announced by
// two distinct boolean signals, both active-high.
func (e *Extractor) SeparateSignalCycles() ([]Cycle, ExtractionReport) {
	starts := boolTimes(e.frame.Series(e.startUUID), true)
	ends := boolTimes(e.frame.Series(e.endUUID), true)
	return e.pair(starts, ends)
}

// StepSequenceCycles extracts cycles from an integer step program: rows at
// startStep open a cycle, rows at endStep close it.
func (e *Extractor) StepSequenceCycles(startStep, endStep int64) ([]Cycle, ExtractionReport) {
	starts := integerTimes(e.frame.Series(e.startUUID), startStep)
	ends := integerTimes(e.frame.Series(e.endUUID), endStep)
	return e.pair(starts, ends)
}

// StateChangeCycles treats every row of the start signal as a boundary: each
// sample opens a cycle that the following sample closes, so the end of one
// cycle is the start of the next.
func (e *Extractor) StateChangeCycles() ([]Cycle, ExtractionReport) {
	view := e.frame.Series(e.startUUID)
	times := view.Times()
	var ends []time.Time
	if len(times) > 0 {
		ends = times[1:]
	}
	return e.pair(times, ends)
}

// ValueChangeCycles opens a cycle at every significant value change of the
// start signal and closes it at the next change. The first row always counts
// as a change. Numeric deltas below the extractor's change threshold are
// noise; boolean and string fields compare by inequality. Missing values
// compare as their zero value.
func (e *Extractor) ValueChangeCycles() ([]Cycle, ExtractionReport) {
	view := e.frame.Series(e.startUUID)
	times := view.Times()

	changes := make([]time.Time, 0, len(times))
	for i := 0; i < view.Len(); i++ {
		if i == 0 || e.recordChanged(view.Record(i-1), view.Record(i)) {
			changes = append(changes, times[i])
		}
	}

	var ends []time.Time
	if len(changes) > 0 {
		ends = changes[1:]
	}
	return e.pair(changes, ends)
}

func (e *Extractor) recordChanged(prev, cur timeseries.Record) bool {
	if absDiff(derefFloat(prev.ValueDouble), derefFloat(cur.ValueDouble)) > e.changeThreshold {
		return true
	}
	if derefBool(prev.ValueBool) != derefBool(cur.ValueBool) {
		return true
	}
	if derefString(prev.ValueString) != derefString(cur.ValueString) {
		return true
	}
	if absDiff(float64(derefInt(prev.ValueInteger)), float64(derefInt(cur.ValueInteger))) > e.changeThreshold {
		return true
	}
	return false
}

// pair runs the forward merge over sorted start and end times. For each
// start the end cursor discards ends at or before the start, then binds the
// next end and advances, so no end serves two cycles. Once the cursor passes
// the last end every remaining start becomes an incomplete cycle.
func (e *Extractor) pair(starts, ends []time.Time) ([]Cycle, ExtractionReport) {
	cycles := make([]Cycle, 0, len(starts))
	report := ExtractionReport{Warnings: []string{}}

	cursor := 0
	for _, start := range starts {
		for cursor < len(ends) && !ends[cursor].After(start) {
			cursor++
		}
		if cursor < len(ends) {
			end := ends[cursor]
			cursor++
			cycles = append(cycles, Cycle{
				Start:      start,
				End:        &end,
				UUID:       uuid.New().String(),
				IsComplete: true,
			})
			report.CompleteCycles++
		} else {
			cycles = append(cycles, Cycle{
				Start:      start,
				UUID:       uuid.New().String(),
				IsComplete: false,
			})
			report.IncompleteCycles++
			report.UnmatchedStarts++
		}
	}

	report.TotalCycles = len(cycles)
	report.UnmatchedEnds = len(ends) - report.CompleteCycles

	if report.IncompleteCycles > 0 {
		msg := fmt.Sprintf("cycle end data ran out; %d cycles marked incomplete", report.IncompleteCycles)
		report.Warnings = append(report.Warnings, msg)
		e.logger.WithFields(logrus.Fields{
			"start_uuid": e.startUUID,
			"incomplete": report.IncompleteCycles,
		}).Warn(msg)
	}

	e.logger.WithFields(logrus.Fields{
		"total":      report.TotalCycles,
		"complete":   report.CompleteCycles,
		"incomplete": report.IncompleteCycles,
	}).Info("cycle extraction finished")

	e.lastReport = report
	return cycles, report
}

// Stats returns the report of the most recent extraction on this instance.
func (e *Extractor) Stats() ExtractionReport {
	return e.lastReport
}

// ResetStats clears the retained report.
func (e *Extractor) ResetStats() {
	e.lastReport = ExtractionReport{}
	e.logger.Info("cycle extraction statistics reset")
}

// Validation issue tags.
const (
	IssueIncomplete = "incomplete_cycle"
	IssueTooShort   = "too_short"
	IssueTooLong    = "too_long"
)

// ValidatedCycle is a cycle annotated with duration-bound validation.
// Incomplete cycles are invalid with no duration; duration issues apply to
// complete cycles only.
type ValidatedCycle struct {
	Cycle
	IsValid bool
	Issues  []string
}

// ValidateCycles checks every cycle against the duration bounds. Bounds are
// duration strings like "1s" or "1h"; malformed strings fail the call.
func (e *Extractor) ValidateCycles(cycles []Cycle, minDuration, maxDuration string) ([]ValidatedCycle, error) {
	minTD, err := timeseries.ParseDuration(minDuration)
	if err != nil {
		return nil, fmt.Errorf("min duration: %w", err)
	}
	maxTD, err := timeseries.ParseDuration(maxDuration)
	if err != nil {
		return nil, fmt.Errorf("max duration: %w", err)
	}

	validated := make([]ValidatedCycle, 0, len(cycles))
	invalid := 0
	for _, c := range cycles {
		v := ValidatedCycle{Cycle: c, IsValid: true, Issues: []string{}}
		if !c.IsComplete {
			v.IsValid = false
			v.Issues = append(v.Issues, IssueIncomplete)
		} else {
			d := c.End.Sub(c.Start)
			if d < minTD {
				v.IsValid = false
				v.Issues = append(v.Issues, IssueTooShort)
			}
			if d > maxTD {
				v.IsValid = false
				v.Issues = append(v.Issues, IssueTooLong)
			}
		}
		if !v.IsValid {
			invalid++
		}
		validated = append(validated, v)
	}

	e.logger.WithFields(logrus.Fields{
		"valid":   len(validated) - invalid,
		"invalid": invalid,
	}).Info("cycle validation finished")
	return validated, nil
}

// OverlapPolicy selects how overlapping cycle pairs are resolved.
type OverlapPolicy int

const (
	// OverlapFlag marks both members of each overlapping pair and keeps
	// every cycle.
	OverlapFlag OverlapPolicy = iota
	// OverlapKeepFirst drops the later-starting member of each pair.
	OverlapKeepFirst
	// OverlapKeepLast drops the earlier-starting member of each pair.
	OverlapKeepLast
	// OverlapKeepLongest drops the shorter member; ties keep the earlier.
	OverlapKeepLongest
)

// FlaggedCycle is a cycle annotated with overlap detection.
type FlaggedCycle struct {
	Cycle
	HasOverlap bool
}

// DetectOverlappingCycles sorts the cycles by start time and flags every
// pair of complete cycles whose intervals intersect. Policies other than
// OverlapFlag additionally drop one member of each pair. The scan for each
// cycle stops at the first non-overlapping successor, so the cost is linear
// except under pathological nesting, where it degrades to quadratic.
func (e *Extractor) DetectOverlappingCycles(cycles []Cycle, resolve OverlapPolicy) []FlaggedCycle {
	out := make([]FlaggedCycle, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, FlaggedCycle{Cycle: c})
	}
	sortFlaggedByStart(out)

	type pairIdx struct{ i, j int }
	var pairs []pairIdx
	for i := 0; i < len(out)-1; i++ {
		if !out[i].IsComplete {
			continue
		}
		for j := i + 1; j < len(out); j++ {
			if !out[j].IsComplete {
				continue
			}
			if out[i].End.After(out[j].Start) {
				out[i].HasOverlap = true
				out[j].HasOverlap = true
				pairs = append(pairs, pairIdx{i, j})
			} else {
				break
			}
		}
	}

	if len(pairs) > 0 {
		e.lastReport.OverlappingCycles = len(pairs)
		e.logger.WithField("pairs", len(pairs)).Warn("overlapping cycles detected")
	}

	if resolve == OverlapFlag || len(pairs) == 0 {
		return out
	}

	drop := map[int]bool{}
	for _, p := range pairs {
		switch resolve {
		case OverlapKeepFirst:
			drop[p.j] = true
		case OverlapKeepLast:
			drop[p.i] = true
		case OverlapKeepLongest:
			di := out[p.i].End.Sub(out[p.i].Start)
			dj := out[p.j].End.Sub(out[p.j].Start)
			if di >= dj {
				drop[p.j] = true
			} else {
				drop[p.i] = true
			}
		}
	}

	kept := make([]FlaggedCycle, 0, len(out)-len(drop))
	for i, c := range out {
		if !drop[i] {
			kept = append(kept, c)
		}
	}
	e.logger.WithField("removed", len(drop)).Info("overlapping cycles resolved")
	return kept
}

func boolTimes(view *timeseries.SeriesView, want bool) []time.Time {
	times := []time.Time{}
	for i := 0; i < view.Len(); i++ {
		if v := view.Record(i).ValueBool; v != nil && *v == want {
			times = append(times, view.Record(i).Systime)
		}
	}
	return times
}

func integerTimes(view *timeseries.SeriesView, want int64) []time.Time {
	times := []time.Time{}
	for i := 0; i < view.Len(); i++ {
		if v := view.Record(i).ValueInteger; v != nil && *v == want {
			times = append(times, view.Record(i).Systime)
		}
	}
	return times
}

func sortFlaggedByStart(cycles []FlaggedCycle) {
	sort.SliceStable(cycles, func(i, j int) bool {
		return cycles[i].Start.Before(cycles[j].Start)
	})
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefBool(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
