// Package align joins independently-sampled signals onto a common clock
// within a time tolerance and derives flow-constraint events (blocked,
// starved) from aligned boolean run states.
package align

import (
	"time"

	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// MatchMode selects how a partner sample is located for each anchor row.
type MatchMode int

const (
	// MatchNearest takes the partner sample closest in time, either side.
	MatchNearest MatchMode = iota
	// MatchBackward takes the most recent partner sample at or before the
	// anchor time.
	MatchBackward
)

// Tolerance bounds the time distance of an acceptable match. Before bounds
// look-back, After bounds look-forward; set both equal for a symmetric
// window.
type Tolerance struct {
	Before time.Duration
	After  time.Duration
}

// Symmetric returns a tolerance with the same bound on both sides.
func Symmetric(d time.Duration) Tolerance {
	return Tolerance{Before: d, After: d}
}

func (t Tolerance) max() time.Duration {
	if t.Before > t.After {
		return t.Before
	}
	return t.After
}

// AlignedRow is one anchor sample with its matched partner state. When no
// partner sample fell inside the tolerance the row is unmatched and Other is
// false ("no data means not running").
type AlignedRow struct {
	Time    time.Time
	Anchor  bool
	Other   bool
	Matched bool
}

// AlignedFrame is the synchronized result of one alignment call. Quality is
// the fraction of anchor rows that found a partner match; it is computed once
// over the whole frame.
type AlignedFrame struct {
	Rows    []AlignedRow
	Quality float64
}

// Align joins the partner series onto the anchor series clock. Matching first
// finds a candidate per mode within the widest tolerance bound, then rejects
// candidates violating the directional bound for their side; a nearer
// candidate on the wrong side is not replaced by a farther valid one, which
// keeps the join a pure nearest/backward match.
func Align(anchor, partner *timeseries.SeriesView, tol Tolerance, mode MatchMode) AlignedFrame {
	rows := make([]AlignedRow, 0, anchor.Len())
	if anchor.Len() == 0 {
		return AlignedFrame{Rows: rows}
	}

	anchorTimes := anchor.Times()
	anchorStates := anchor.Bools()
	partnerTimes := partner.Times()
	partnerStates := partner.Bools()

	matched := 0
	for i := range anchorTimes {
		row := AlignedRow{Time: anchorTimes[i], Anchor: anchorStates[i]}

		idx := matchIndex(partnerTimes, anchorTimes[i], tol.max(), mode)
		if idx >= 0 {
			diff := partnerTimes[idx].Sub(anchorTimes[i])
			ok := true
			if diff <= 0 && -diff > tol.Before {
				ok = false
			}
			if diff > 0 && diff > tol.After {
				ok = false
			}
			if ok {
				row.Other = partnerStates[idx]
				row.Matched = true
				matched++
			}
		}
		rows = append(rows, row)
	}

	quality := float64(matched) / float64(len(rows))
	return AlignedFrame{Rows: rows, Quality: quality}
}

// matchIndex returns the index of the partner sample matching t within
// maxTol, or -1. partnerTimes must be sorted ascending.
func matchIndex(partnerTimes []time.Time, t time.Time, maxTol time.Duration, mode MatchMode) int {
	if len(partnerTimes) == 0 {
		return -1
	}

	// First index with time > t.
	lo, hi := 0, len(partnerTimes)
	for lo < hi {
		mid := (lo + hi) / 2
		if partnerTimes[mid].After(t) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	beforeIdx := lo - 1 // last sample at or before t, -1 if none
	afterIdx := lo      // first sample after t, len if none

	switch mode {
	case MatchBackward:
		if beforeIdx >= 0 && t.Sub(partnerTimes[beforeIdx]) <= maxTol {
			return beforeIdx
		}
		return -1
	default:
		best := -1
		var bestDist time.Duration
		if beforeIdx >= 0 {
			best = beforeIdx
			bestDist = t.Sub(partnerTimes[beforeIdx])
		}
		if afterIdx < len(partnerTimes) {
			dist := partnerTimes[afterIdx].Sub(t)
			if best < 0 || dist < bestDist {
				best = afterIdx
				bestDist = dist
			}
		}
		if best >= 0 && bestDist <= maxTol {
			return best
		}
		return -1
	}
}
