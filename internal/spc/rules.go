package spc

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RuleID identifies one Western Electric rule.
type RuleID int

const (
	Rule1 RuleID = iota + 1 // one point beyond 3 sigma
	Rule2                   // nine consecutive points on one side of the mean
	Rule3                   // six consecutive points monotonic
	Rule4                   // fourteen consecutive points alternating
	Rule5                   // two of three consecutive points in the 2-3 sigma band
	Rule6                   // four of five consecutive points in the 1-2 sigma band
	Rule7                   // fifteen consecutive points within 1 sigma
	Rule8                   // eight consecutive points within 1 sigma
)

// AllRules lists every rule in evaluation order.
var AllRules = []RuleID{Rule1, Rule2, Rule3, Rule4, Rule5, Rule6, Rule7, Rule8}

func (r RuleID) String() string {
	switch r {
	case Rule1:
		return "rule_1"
	case Rule2:
		return "rule_2"
	case Rule3:
		return "rule_3"
	case Rule4:
		return "rule_4"
	case Rule5:
		return "rule_5"
	case Rule6:
		return "rule_6"
	case Rule7:
		return "rule_7"
	case Rule8:
		return "rule_8"
	}
	return "rule_unknown"
}

// Severity grades a violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severity returns the grade assigned to violations of this rule.
func (r RuleID) Severity() Severity {
	switch r {
	case Rule1:
		return SeverityCritical
	case Rule5:
		return SeverityHigh
	case Rule7, Rule8:
		return SeverityLow
	}
	return SeverityMedium
}

// Violation is one rule firing at one sample of the actual signal.
type Violation struct {
	Systime  time.Time
	Value    float64
	Rule     RuleID
	Severity Severity
	UUID     string
}

// EvaluateRules runs the selected rules (all of them when none are named)
// over the actual signal against the static limits. Window rules fire at
// the sample completing the window, never retroactively. NaN limits make
// every band comparison false.
func (m *Monitor) EvaluateRules(rules ...RuleID) []Violation {
	if len(rules) == 0 {
		rules = AllRules
	}

	view := m.frame.Series(m.actualUUID)
	times := view.Times()
	values := view.Float64s()
	limits := m.StaticLimits()
	mean := meanOf(values)

	violations := []Violation{}
	emit := func(rule RuleID, mask []bool) {
		for i, hit := range mask {
			if hit {
				violations = append(violations, Violation{
					Systime:  times[i],
					Value:    values[i],
					Rule:     rule,
					Severity: rule.Severity(),
					UUID:     m.eventUUID,
				})
			}
		}
	}

	for _, rule := range rules {
		switch rule {
		case Rule1:
			mask := make([]bool, len(values))
			for i, v := range values {
				mask[i] = v > limits.Sigma3Upper || v < limits.Sigma3Lower
			}
			emit(rule, mask)
		case Rule2:
			above := make([]bool, len(values))
			below := make([]bool, len(values))
			for i, v := range values {
				above[i] = v > mean
				below[i] = v < mean
			}
			emit(rule, orMasks(
				trailingAtLeast(above, 9, 9),
				trailingAtLeast(below, 9, 9),
			))
		case Rule3:
			up := make([]bool, len(values))
			down := make([]bool, len(values))
			for i := 1; i < len(values); i++ {
				up[i] = values[i]-values[i-1] > 0
				down[i] = values[i]-values[i-1] < 0
			}
			emit(rule, orMasks(
				trailingAtLeast(up, 6, 6),
				trailingAtLeast(down, 6, 6),
			))
		case Rule4:
			emit(rule, alternatingMask(values, 14))
		case Rule5:
			band := make([]bool, len(values))
			for i, v := range values {
				band[i] = (v > limits.Sigma2Upper && v < limits.Sigma3Upper) ||
					(v < limits.Sigma2Lower && v > limits.Sigma3Lower)
			}
			emit(rule, trailingAtLeast(band, 3, 2))
		case Rule6:
			band := make([]bool, len(values))
			for i, v := range values {
				band[i] = (v > limits.Sigma1Upper && v < limits.Sigma2Upper) ||
					(v < limits.Sigma1Lower && v > limits.Sigma2Lower)
			}
			emit(rule, trailingAtLeast(band, 5, 4))
		case Rule7:
			emit(rule, trailingAtLeast(within1Sigma(values, limits), 15, 15))
		case Rule8:
			emit(rule, trailingAtLeast(within1Sigma(values, limits), 8, 8))
		}
	}

	m.logger.WithFields(logrus.Fields{
		"actual_uuid": m.actualUUID,
		"violations":  len(violations),
	}).Info("rule evaluation finished")
	return violations
}

func within1Sigma(values []float64, limits ControlLimits) []bool {
	mask := make([]bool, len(values))
	for i, v := range values {
		mask[i] = v < limits.Sigma1Upper && v > limits.Sigma1Lower
	}
	return mask
}

// trailingAtLeast fires at every index whose trailing window of the given
// width holds at least need true entries. Indices before the first full
// window never fire.
func trailingAtLeast(mask []bool, window, need int) []bool {
	out := make([]bool, len(mask))
	count := 0
	for i := range mask {
		if mask[i] {
			count++
		}
		if i >= window && mask[i-window] {
			count--
		}
		if i >= window-1 && count >= need {
			out[i] = true
		}
	}
	return out
}

func orMasks(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] || b[i]
	}
	return out
}

// alternatingMask fires where the trailing window holds strictly
// alternating up/down deltas: window points means window-1 deltas, every
// adjacent delta pair changing sign.
func alternatingMask(values []float64, window int) []bool {
	out := make([]bool, len(values))
	run := 0 // length of the current alternating delta run
	prevSign := 0
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sign := 0
		if d > 0 {
			sign = 1
		} else if d < 0 {
			sign = -1
		}
		switch {
		case sign == 0:
			run = 0
		case prevSign == 0 || sign == prevSign:
			run = 1
		default:
			run++
		}
		prevSign = sign
		if run >= window-1 {
			out[i] = true
		}
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// InterpretedViolation is a violation enriched with operator guidance.
type InterpretedViolation struct {
	Violation
	Interpretation string
	Meaning        string
	Recommendation string
}

type ruleGuidance struct {
	interpretation string
	meaning        string
	recommendation string
}

var guidance = map[RuleID]ruleGuidance{
	Rule1: {
		"One or more points beyond 3-sigma control limits",
		"Indicates a special cause, an unusual event or significant process change",
		"Investigate immediately for assignable causes such as equipment failure, operator error, or material defects",
	},
	Rule2: {
		"Nine consecutive points on one side of the center line",
		"Process mean has shifted, a sustained change in process level",
		"Check for systematic changes in materials, methods, equipment settings, or environmental conditions",
	},
	Rule3: {
		"Six consecutive points steadily increasing or decreasing",
		"Indicates a trend, gradual systematic change in the process",
		"Look for tool wear, temperature drift, operator fatigue, or gradual equipment degradation",
	},
	Rule4: {
		"Fourteen consecutive points alternating up and down",
		"Indicates systematic oscillation, two alternating causes affecting the process",
		"Check for alternating operators, materials from two sources, or temperature cycling effects",
	},
	Rule5: {
		"Two out of three consecutive points beyond 2-sigma limits",
		"Process variation has increased or mean is shifting",
		"Monitor closely and prepare to investigate, this may be the start of a larger problem",
	},
	Rule6: {
		"Four out of five consecutive points beyond 1-sigma limits",
		"Process variation or mean has likely changed",
		"Check for changes in process inputs or measurement system accuracy",
	},
	Rule7: {
		"Fifteen consecutive points within 1-sigma of the center line",
		"Unusually low variation, possible stratification or measurement issues",
		"Verify measurement system accuracy and check whether data is averaged incorrectly",
	},
	Rule8: {
		"Eight consecutive points within 1-sigma of the center line",
		"Process variation may differ from what the limits assume",
		"Review process capability and consider recalculating the control limits",
	},
}

// InterpretViolations attaches operator guidance to each violation.
func InterpretViolations(violations []Violation) []InterpretedViolation {
	out := make([]InterpretedViolation, 0, len(violations))
	for _, v := range violations {
		g := guidance[v.Rule]
		out = append(out, InterpretedViolation{
			Violation:      v,
			Interpretation: g.interpretation,
			Meaning:        g.meaning,
			Recommendation: g.recommendation,
		})
	}
	return out
}
