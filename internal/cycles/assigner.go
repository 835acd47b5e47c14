package cycles

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// AssignedRecord is a value row tagged with the cycle that contains it.
type AssignedRecord struct {
	timeseries.Record
	CycleUUID string
}

// Assigner maps value rows onto cycle intervals. Membership is the closed
// interval [start, end]; incomplete cycles never receive rows. When cycles
// overlap, the cycle latest in the input order wins the contested rows —
// callers relying on overlap behavior should resolve overlaps first.
type Assigner struct {
	cycles []Cycle
	values []timeseries.Record
	logger *logrus.Logger

	// Interval index over complete cycles: entries sorted by start with a
	// running maximum of end times, so a containment probe can stop
	// walking left once prefix max falls below the probe time.
	index     []indexEntry
	prefixMax []time.Time
}

type indexEntry struct {
	start time.Time
	end   time.Time
	uuid  string
	order int // position in the input cycle slice, higher wins overlaps
}

// NewAssigner copies the cycles and value rows and builds the interval
// index. Values need not be sorted.
func NewAssigner(cycles []Cycle, values []timeseries.Record, logger *logrus.Logger) *Assigner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Assigner{
		cycles: append([]Cycle(nil), cycles...),
		values: append([]timeseries.Record(nil), values...),
		logger: logger,
	}
	a.buildIndex()
	return a
}

func (a *Assigner) buildIndex() {
	for i, c := range a.cycles {
		if !c.IsComplete {
			continue
		}
		a.index = append(a.index, indexEntry{start: c.Start, end: *c.End, uuid: c.UUID, order: i})
	}
	sort.SliceStable(a.index, func(i, j int) bool {
		return a.index[i].start.Before(a.index[j].start)
	})
	a.prefixMax = make([]time.Time, len(a.index))
	for i, e := range a.index {
		a.prefixMax[i] = e.end
		if i > 0 && a.prefixMax[i-1].After(e.end) {
			a.prefixMax[i] = a.prefixMax[i-1]
		}
	}
	a.logger.WithField("intervals", len(a.index)).Debug("cycle interval index built")
}

// lookup returns the uuid of the containing cycle, or "". The walk from the
// insertion point stops once the running maximum end is older than t, which
// keeps probes near-constant for non-overlapping cycles; heavily nested
// intervals degrade toward a linear scan.
func (a *Assigner) lookup(t time.Time) (string, bool) {
	// First entry with start > t.
	hi := sort.Search(len(a.index), func(i int) bool {
		return a.index[i].start.After(t)
	})

	best := -1
	for i := hi - 1; i >= 0; i-- {
		if a.prefixMax[i].Before(t) {
			break
		}
		if !a.index[i].end.Before(t) && a.index[i].order > best {
			best = a.index[i].order
		}
	}
	if best < 0 {
		return "", false
	}
	return a.cycles[best].UUID, true
}

// Assign tags every value row with its containing cycle and drops rows no
// cycle contains.
func (a *Assigner) Assign() []AssignedRecord {
	out := []AssignedRecord{}
	for _, rec := range a.values {
		if id, ok := a.lookup(rec.Systime); ok {
			out = append(out, AssignedRecord{Record: rec, CycleUUID: id})
		}
	}
	a.logger.WithFields(logrus.Fields{
		"assigned": len(out),
		"dropped":  len(a.values) - len(out),
	}).Info("cycle assignment finished")
	return out
}

// assignNaive is the reference O(rows x cycles) scan used to cross-check the
// interval index in tests.
func (a *Assigner) assignNaive() []AssignedRecord {
	out := []AssignedRecord{}
	for _, rec := range a.values {
		id := ""
		for _, c := range a.cycles {
			if !c.IsComplete {
				continue
			}
			if !rec.Systime.Before(c.Start) && !rec.Systime.After(*c.End) {
				id = c.UUID
			}
		}
		if id != "" {
			out = append(out, AssignedRecord{Record: rec, CycleUUID: id})
		}
	}
	return out
}

// SplitByCycle groups the assigned rows per cycle uuid. Cycles that caught
// no rows have no entry.
func (a *Assigner) SplitByCycle() map[string][]timeseries.Record {
	groups := map[string][]timeseries.Record{}
	for _, row := range a.Assign() {
		groups[row.CycleUUID] = append(groups[row.CycleUUID], row.Record)
	}
	return groups
}

// CycleStat summarizes the value rows falling inside one cycle's interval.
// Mean and Std are NaN when the cycle holds no (or too few) numeric rows.
type CycleStat struct {
	CycleUUID       string
	Start           time.Time
	End             time.Time
	DurationSeconds float64
	ValueCount      int
	UniqueSignals   int
	MeanDouble      float64
	StdDouble       float64
}

// CycleStatistics computes per-cycle summaries over the value rows. Rows
// are matched by time range, so a row inside two overlapping cycles counts
// toward both. Incomplete cycles are skipped.
func (a *Assigner) CycleStatistics() []CycleStat {
	stats := []CycleStat{}
	for _, c := range a.cycles {
		if !c.IsComplete {
			continue
		}
		rows := a.rowsInRange(c.Start, *c.End)

		signals := map[string]struct{}{}
		doubles := []float64{}
		for _, r := range rows {
			signals[r.UUID] = struct{}{}
			if r.ValueDouble != nil {
				doubles = append(doubles, *r.ValueDouble)
			}
		}

		stats = append(stats, CycleStat{
			CycleUUID:       c.UUID,
			Start:           c.Start,
			End:             *c.End,
			DurationSeconds: c.End.Sub(c.Start).Seconds(),
			ValueCount:      len(rows),
			UniqueSignals:   len(signals),
			MeanDouble:      timeseries.Mean(doubles),
			StdDouble:       timeseries.Std(doubles),
		})
	}
	a.logger.WithField("cycles", len(stats)).Info("cycle statistics computed")
	return stats
}

func (a *Assigner) rowsInRange(start, end time.Time) []timeseries.Record {
	rows := []timeseries.Record{}
	for _, rec := range a.values {
		if !rec.Systime.Before(start) && !rec.Systime.After(end) {
			rows = append(rows, rec)
		}
	}
	return rows
}

// CycleComparison relates one cycle's numeric rows to a reference cycle.
// DeviationPct is NaN when the reference mean is zero; VariabilityRatio is
// NaN when the reference deviation is zero.
type CycleComparison struct {
	CycleUUID        string
	IsReference      bool
	Mean             float64
	Std              float64
	DeviationFromRef float64
	DeviationPct     float64
	VariabilityRatio float64
}

// CompareCycles measures every complete cycle against the named reference.
// Cycles with no numeric rows are skipped; a reference with no numeric rows
// yields an empty result.
func (a *Assigner) CompareCycles(referenceUUID string) ([]CycleComparison, error) {
	ref, ok := a.findCycle(referenceUUID)
	if !ok {
		return nil, ErrUnknownCycle
	}

	refDoubles := a.doublesInRange(ref.Start, *ref.End)
	if len(refDoubles) == 0 {
		a.logger.WithField("reference", referenceUUID).Warn("reference cycle has no numeric rows")
		return []CycleComparison{}, nil
	}
	refMean := timeseries.Mean(refDoubles)
	refStd := timeseries.Std(refDoubles)

	out := []CycleComparison{}
	for _, c := range a.cycles {
		if !c.IsComplete {
			continue
		}
		doubles := a.doublesInRange(c.Start, *c.End)
		if len(doubles) == 0 {
			continue
		}
		mean := timeseries.Mean(doubles)
		std := timeseries.Std(doubles)

		cmp := CycleComparison{
			CycleUUID:        c.UUID,
			IsReference:      c.UUID == referenceUUID,
			Mean:             mean,
			Std:              std,
			DeviationFromRef: mean - refMean,
			DeviationPct:     math.NaN(),
			VariabilityRatio: math.NaN(),
		}
		if refMean != 0 {
			cmp.DeviationPct = (mean - refMean) / refMean * 100
		}
		if refStd != 0 && !math.IsNaN(refStd) {
			cmp.VariabilityRatio = std / refStd
		}
		out = append(out, cmp)
	}
	a.logger.WithFields(logrus.Fields{
		"reference": referenceUUID,
		"compared":  len(out),
	}).Info("cycle comparison finished")
	return out, nil
}

// GoldenMethod ranks cycles for golden-cycle selection.
type GoldenMethod int

const (
	// GoldenLowVariability prefers the smallest coefficient of variation.
	GoldenLowVariability GoldenMethod = iota
	// GoldenHighMean prefers the largest mean value.
	GoldenHighMean
)

// GoldenCycles returns the uuids of the topN best-scoring complete cycles.
// Cycles with no numeric rows are skipped; score ties keep input order.
func (a *Assigner) GoldenCycles(method GoldenMethod, topN int) []string {
	type scored struct {
		uuid  string
		score float64
	}
	scores := []scored{}
	for _, c := range a.cycles {
		if !c.IsComplete {
			continue
		}
		doubles := a.doublesInRange(c.Start, *c.End)
		if len(doubles) == 0 {
			continue
		}
		mean := timeseries.Mean(doubles)
		std := timeseries.Std(doubles)

		var score float64
		switch method {
		case GoldenHighMean:
			score = mean
		default:
			if mean == 0 {
				score = math.Inf(-1)
			} else {
				score = -(std / mean)
			}
		}
		if math.IsNaN(score) {
			continue
		}
		scores = append(scores, scored{uuid: c.UUID, score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})
	if topN < 0 {
		topN = 0
	}
	if topN > len(scores) {
		topN = len(scores)
	}
	out := make([]string, 0, topN)
	for _, s := range scores[:topN] {
		out = append(out, s.uuid)
	}
	a.logger.WithField("golden", len(out)).Info("golden cycles identified")
	return out
}

func (a *Assigner) findCycle(uuid string) (Cycle, bool) {
	for _, c := range a.cycles {
		if c.UUID == uuid && c.IsComplete {
			return c, true
		}
	}
	return Cycle{}, false
}

func (a *Assigner) doublesInRange(start, end time.Time) []float64 {
	doubles := []float64{}
	for _, rec := range a.rowsInRange(start, end) {
		if rec.ValueDouble != nil {
			doubles = append(doubles, *rec.ValueDouble)
		}
	}
	return doubles
}
