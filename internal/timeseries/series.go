// Package timeseries holds the shared data model for tagged telemetry rows
// and the per-signal series views every detector operates on.
//
// The input contract is a flat long-format table: one Record per sample with
// a signal UUID, a timestamp and at most one typed value per column. Frames
// slice that table into per-UUID SeriesViews, sorted by time with input order
// preserved for ties. Views own defensive copies, so concurrent use of
// separate views over shared source data is safe.
package timeseries

import (
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const seriesCacheSize = 128

// Frame wraps the raw record table and hands out per-UUID series views.
// Extracted views are cached in an LRU so detectors that repeatedly revisit
// the same actual/reference signals do not re-slice the table each call.
type Frame struct {
	records []Record
	cache   *lru.Cache
	logger  *logrus.Logger
}

// NewFrame copies records into a new frame. The caller's slice is never
// mutated. A nil logger falls back to the logrus standard logger.
func NewFrame(records []Record, logger *logrus.Logger) *Frame {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	copied := make([]Record, len(records))
	copy(copied, records)

	cache, _ := lru.New(seriesCacheSize)
	return &Frame{records: copied, cache: cache, logger: logger}
}

// Len returns the number of rows in the frame.
func (f *Frame) Len() int { return len(f.records) }

// Series extracts the sub-series for one signal UUID, sorted by Systime.
// Repeated lookups are served from the cache.
func (f *Frame) Series(uuid string) *SeriesView {
	if cached, ok := f.cache.Get(uuid); ok {
		return cached.(*SeriesView)
	}

	view := NewSeriesView(f.records, uuid)
	f.cache.Add(uuid, view)
	if view.Len() == 0 {
		f.logger.WithField("uuid", uuid).Warn("no rows found for signal")
	}
	return view
}

// SeriesView is the time-ordered sub-series for a single signal UUID. The
// view owns its rows; mutating the source table after construction does not
// affect it.
type SeriesView struct {
	uuid string
	rows []Record
}

// NewSeriesView filters records down to one UUID and stable-sorts by Systime
// so duplicate timestamps keep their input order.
func NewSeriesView(records []Record, uuid string) *SeriesView {
	rows := make([]Record, 0)
	for _, r := range records {
		if r.UUID == uuid {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Systime.Before(rows[j].Systime)
	})
	return &SeriesView{uuid: uuid, rows: rows}
}

// UUID returns the signal UUID this view was sliced for.
func (s *SeriesView) UUID() string { return s.uuid }

// Len returns the number of samples in the view.
func (s *SeriesView) Len() int { return len(s.rows) }

// Record returns the i-th sample.
func (s *SeriesView) Record(i int) Record { return s.rows[i] }

// Records returns a copy of all samples in the view.
func (s *SeriesView) Records() []Record {
	out := make([]Record, len(s.rows))
	copy(out, s.rows)
	return out
}

// Times returns the sample timestamps in order.
func (s *SeriesView) Times() []time.Time {
	out := make([]time.Time, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.Systime
	}
	return out
}

// Float64s returns the double values; missing values become NaN so downstream
// arithmetic propagates rather than panics.
func (s *SeriesView) Float64s() []float64 {
	out := make([]float64, len(s.rows))
	for i, r := range s.rows {
		if r.ValueDouble != nil {
			out[i] = *r.ValueDouble
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Integers returns the integer values; missing values become 0 with ok=false
// in the companion mask.
func (s *SeriesView) Integers() ([]int64, []bool) {
	out := make([]int64, len(s.rows))
	ok := make([]bool, len(s.rows))
	for i, r := range s.rows {
		if r.ValueInteger != nil {
			out[i] = *r.ValueInteger
			ok[i] = true
		}
	}
	return out, ok
}

// Bools returns the boolean values; missing values count as false, consistent
// with "no data means not running".
func (s *SeriesView) Bools() []bool {
	out := make([]bool, len(s.rows))
	for i, r := range s.rows {
		if r.ValueBool != nil {
			out[i] = *r.ValueBool
		}
	}
	return out
}

// Strings returns the string values; missing values become "".
func (s *SeriesView) Strings() []string {
	out := make([]string, len(s.rows))
	for i, r := range s.rows {
		if r.ValueString != nil {
			out[i] = *r.ValueString
		}
	}
	return out
}
