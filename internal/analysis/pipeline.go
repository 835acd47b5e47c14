// Package analysis orchestrates the detectors over one telemetry window.
// It reads the signal roles from configuration, runs every analysis whose
// signals are configured, and folds the results into a single report.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/align"
	"github.com/jakobgabriel/ts-shape/internal/config"
	"github.com/jakobgabriel/ts-shape/internal/cycles"
	"github.com/jakobgabriel/ts-shape/internal/detect"
	"github.com/jakobgabriel/ts-shape/internal/loader"
	"github.com/jakobgabriel/ts-shape/internal/metrics"
	"github.com/jakobgabriel/ts-shape/internal/outlier"
	"github.com/jakobgabriel/ts-shape/internal/spc"
	"github.com/jakobgabriel/ts-shape/internal/state"
	"github.com/jakobgabriel/ts-shape/internal/timeseries"
)

// Report aggregates everything one pipeline run found. Sections whose
// signals are not configured stay at their zero values.
type Report struct {
	WindowStart time.Time
	WindowEnd   time.Time
	RecordCount int

	Cycles      []cycles.ValidatedCycle
	CycleReport cycles.ExtractionReport
	CycleStats  []cycles.CycleStat

	Violations []spc.InterpretedViolation
	Shifts     []spc.CusumShift

	SetpointChanges []detect.ChangeEvent
	Outliers        []outlier.Event
	FlowEvents      []align.FlowEvent

	MachineQuality *state.QualityMetrics
}

// Pipeline runs the configured analyses over a frame.
type Pipeline struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func NewPipeline(cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{cfg: cfg, metrics: m, logger: logger}
}

// SignalUUIDs lists the distinct signal uuids the configuration binds to
// analysis roles, in a stable order. This is the fetch set for a window.
func (p *Pipeline) SignalUUIDs() []string {
	s := p.cfg.Signals
	seen := map[string]bool{}
	uuids := []string{}
	for _, u := range []string{
		s.CycleStart, s.CycleEnd, s.Tolerance, s.Actual,
		s.RunState, s.Upstream, s.Downstream, s.Setpoint,
	} {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		uuids = append(uuids, u)
	}
	return uuids
}

// Run executes every analysis whose signals are configured. Malformed
// configuration (bad duration strings) fails the run; empty signal data
// only empties the corresponding report section.
func (p *Pipeline) Run(frame *timeseries.Frame, windowStart, windowEnd time.Time) (*Report, error) {
	report := &Report{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		RecordCount: frame.Len(),
	}

	if err := p.runCycles(frame, report); err != nil {
		return nil, err
	}
	if err := p.runSPC(frame, report); err != nil {
		return nil, err
	}
	if err := p.runSetpoints(frame, report); err != nil {
		return nil, err
	}
	if err := p.runOutliers(frame, report); err != nil {
		return nil, err
	}
	if err := p.runFlow(frame, report); err != nil {
		return nil, err
	}
	p.runMachineState(frame, report)

	p.logger.WithFields(logrus.Fields{
		"records":    report.RecordCount,
		"cycles":     len(report.Cycles),
		"violations": len(report.Violations),
		"outliers":   len(report.Outliers),
	}).Info("analysis window complete")
	return report, nil
}

func (p *Pipeline) runCycles(frame *timeseries.Frame, report *Report) error {
	if p.cfg.Signals.CycleStart == "" {
		return nil
	}
	defer p.observe("cycles")()

	extractor, err := cycles.NewExtractor(frame, p.cfg.Signals.CycleStart, p.cfg.Signals.CycleEnd, 0, p.logger)
	if err != nil {
		return fmt.Errorf("cycle extractor: %w", err)
	}
	extracted, extractionReport := extractor.PersistentCycles()

	validated, err := extractor.ValidateCycles(extracted,
		p.cfg.Analysis.MinCycleDuration, p.cfg.Analysis.MaxCycleDuration)
	if err != nil {
		return fmt.Errorf("cycle validation: %w", err)
	}
	report.Cycles = validated
	report.CycleReport = extractionReport

	if p.metrics != nil {
		p.metrics.Extractions.WithLabelValues("persistent", "true").
			Add(float64(extractionReport.CompleteCycles))
		p.metrics.Extractions.WithLabelValues("persistent", "false").
			Add(float64(extractionReport.IncompleteCycles))
	}

	if p.cfg.Signals.Actual != "" {
		assigner := cycles.NewAssigner(extracted, frame.Series(p.cfg.Signals.Actual).Records(), p.logger)
		report.CycleStats = assigner.CycleStatistics()
	}
	return nil
}

func (p *Pipeline) runSPC(frame *timeseries.Frame, report *Report) error {
	if p.cfg.Signals.Tolerance == "" || p.cfg.Signals.Actual == "" {
		return nil
	}
	defer p.observe("spc")()

	monitor, err := spc.NewMonitor(frame, p.cfg.Signals.Tolerance, p.cfg.Signals.Actual, "", p.logger)
	if err != nil {
		return fmt.Errorf("spc monitor: %w", err)
	}

	violations := monitor.EvaluateRules()
	report.Violations = spc.InterpretViolations(violations)
	report.Shifts = monitor.DetectShifts(nil, p.cfg.Analysis.CusumK, p.cfg.Analysis.CusumH)

	if p.metrics != nil {
		for _, v := range violations {
			p.metrics.Violations.WithLabelValues(v.Rule.String(), string(v.Severity)).Inc()
		}
		p.metrics.Detections.WithLabelValues("cusum").Add(float64(len(report.Shifts)))
	}
	return nil
}

func (p *Pipeline) runSetpoints(frame *timeseries.Frame, report *Report) error {
	if p.cfg.Signals.Setpoint == "" {
		return nil
	}
	defer p.observe("setpoints")()

	detector, err := detect.NewChangeDetector(frame, p.cfg.Signals.Setpoint, "", p.logger)
	if err != nil {
		return fmt.Errorf("change detector: %w", err)
	}
	changes, err := detector.DetectChanges(
		p.cfg.Analysis.StepMinDelta, &p.cfg.Analysis.RampMinRate,
		p.cfg.Analysis.StepMinHold, p.cfg.Analysis.RampMinDuration)
	if err != nil {
		return fmt.Errorf("setpoint changes: %w", err)
	}
	report.SetpointChanges = changes

	if p.metrics != nil {
		p.metrics.Detections.WithLabelValues("setpoint_change").Add(float64(len(changes)))
	}
	return nil
}

func (p *Pipeline) runOutliers(frame *timeseries.Frame, report *Report) error {
	if p.cfg.Signals.Actual == "" {
		return nil
	}
	defer p.observe("outliers")()

	detector, err := outlier.NewDetector(frame, p.cfg.Signals.Actual, "",
		p.cfg.Analysis.OutlierTimeThreshold, p.logger)
	if err != nil {
		return fmt.Errorf("outlier detector: %w", err)
	}
	report.Outliers = detector.ByZScore(3.0, true)

	if p.metrics != nil {
		p.metrics.Detections.WithLabelValues("outlier").Add(float64(len(report.Outliers)))
	}
	return nil
}

func (p *Pipeline) runFlow(frame *timeseries.Frame, report *Report) error {
	if p.cfg.Signals.Upstream == "" || p.cfg.Signals.Downstream == "" {
		return nil
	}
	defer p.observe("flow")()

	monitor := align.NewFlowMonitor(frame, "", p.logger)
	opts := align.FlowOptions{Tolerance: p.cfg.Analysis.AlignmentTolerance}

	blocked, err := monitor.BlockedEvents(p.cfg.Signals.Upstream, p.cfg.Signals.Downstream, opts)
	if err != nil {
		return fmt.Errorf("blocked events: %w", err)
	}
	starved, err := monitor.StarvedEvents(p.cfg.Signals.Upstream, p.cfg.Signals.Downstream, opts)
	if err != nil {
		return fmt.Errorf("starved events: %w", err)
	}
	report.FlowEvents = append(blocked, starved...)

	if p.metrics != nil {
		p.metrics.Detections.WithLabelValues("flow").Add(float64(len(report.FlowEvents)))
	}
	return nil
}

func (p *Pipeline) runMachineState(frame *timeseries.Frame, report *Report) {
	if p.cfg.Signals.RunState == "" {
		return
	}
	defer p.observe("machine_state")()

	detector := state.NewDetector(frame, p.cfg.Signals.RunState, "", p.logger)
	quality := detector.QualityReport()
	report.MachineQuality = &quality
}

// observe returns a closure recording the elapsed stage time, for use with
// defer.
func (p *Pipeline) observe(stage string) func() {
	if p.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.metrics.Duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// Runner pairs a pipeline with a repository so a window can be fetched and
// analyzed in one call. The scheduler and the CLI both drive analysis
// through it.
type Runner struct {
	repo     loader.SignalRepository
	pipeline *Pipeline
	logger   *logrus.Logger
}

func NewRunner(repo loader.SignalRepository, pipeline *Pipeline, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{repo: repo, pipeline: pipeline, logger: logger}
}

// AnalyzeWindow fetches the configured signals for [start, end) and runs
// the pipeline over them.
func (r *Runner) AnalyzeWindow(ctx context.Context, start, end time.Time) (*Report, error) {
	records, err := r.repo.FetchRange(ctx, r.pipeline.SignalUUIDs(), start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"start":   start,
		"end":     end,
		"records": len(records),
	}).Debug("window fetched")

	frame := timeseries.NewFrame(records, r.logger)
	return r.pipeline.Run(frame, start, end)
}
