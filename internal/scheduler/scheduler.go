// Package scheduler re-runs the analysis pipeline periodically over the
// trailing telemetry window.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/analysis"
)

type Scheduler struct {
	runner *analysis.Runner
	window time.Duration
	logger *logrus.Logger
	cron   *cron.Cron
}

// NewScheduler builds a scheduler that analyzes the trailing window each
// tick. A non-positive window defaults to 5 minutes.
func NewScheduler(runner *analysis.Runner, window time.Duration, logger *logrus.Logger) *Scheduler {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		runner: runner,
		window: window,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the analysis run every 5 minutes.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("*/5 * * * *", s.analyzeWindow)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// analyzeWindow runs the pipeline over the trailing window ending now.
func (s *Scheduler) analyzeWindow() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	end := time.Now()
	start := end.Add(-s.window)

	report, err := s.runner.AnalyzeWindow(ctx, start, end)
	if err != nil {
		s.logger.WithError(err).Error("scheduled analysis failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"records":    report.RecordCount,
		"cycles":     len(report.Cycles),
		"violations": len(report.Violations),
	}).Info("scheduled analysis complete")
}

// Stop the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
