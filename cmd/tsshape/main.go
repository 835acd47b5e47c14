package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jakobgabriel/ts-shape/internal/analysis"
	"github.com/jakobgabriel/ts-shape/internal/config"
	"github.com/jakobgabriel/ts-shape/internal/loader"
	"github.com/jakobgabriel/ts-shape/internal/metrics"
	"github.com/jakobgabriel/ts-shape/internal/scheduler"
)

// Command tsshape analyzes industrial telemetry stored in TimescaleDB.
//
// One-shot mode fetches the trailing window, runs every configured
// analysis (cycle extraction, SPC rules, CUSUM shifts, setpoint changes,
// outliers, flow events, machine-state quality) and logs a summary.
// Watch mode keeps the process alive, re-analyzing the window every five
// minutes and exposing Prometheus metrics.
//
// Usage:
//
//	tsshape [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-window duration
//	      trailing analysis window (default 1h)
//	-watch
//	      keep running and re-analyze periodically
//	-metrics-port int
//	      Prometheus listen port in watch mode (default 2112)
func main() {
	flags := parseFlags()

	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	configureLogger(logger, appConfig.Logging)

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		appConfig.Database.Host,
		appConfig.Database.Port,
		appConfig.Database.User,
		appConfig.Database.Password,
		appConfig.Database.Name,
		appConfig.Database.SSLMode,
	)

	repo, err := loader.NewTimescaleRepo(connStr,
		appConfig.Database.MaxConnections, appConfig.Database.QueriesPerSecond)
	if err != nil {
		logger.Fatalf("Failed to create repository: %v", err)
	}
	defer repo.Close()

	m, err := metrics.New()
	if err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}

	pipeline := analysis.NewPipeline(appConfig, m, logger)
	runner := analysis.NewRunner(repo, pipeline, logger)

	if !flags.Watch {
		runOnce(runner, flags.Window, logger)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(runner, flags.Window, logger)
	errChan := make(chan error, 1)

	go func() {
		if err := sched.Start(); err != nil {
			errChan <- fmt.Errorf("scheduler error: %w", err)
		}
	}()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", flags.MetricsPort)
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := http.ListenAndServe(addr, nil); err != nil {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	go handleShutdown(ctx, cancel, sched, logger)

	select {
	case err := <-errChan:
		logger.Fatalf("Service error: %v", err)
	case <-ctx.Done():
	}
}

type Flags struct {
	ConfigPath  string
	Window      time.Duration
	Watch       bool
	MetricsPort int
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Path to config file")
	flag.DurationVar(&flags.Window, "window", time.Hour, "Trailing analysis window")
	flag.BoolVar(&flags.Watch, "watch", false, "Keep running and re-analyze periodically")
	flag.IntVar(&flags.MetricsPort, "metrics-port", 2112, "Prometheus listen port in watch mode")

	flag.Parse()

	return flags
}

func configureLogger(logger *logrus.Logger, cfg config.LoggingConfig) {
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
}

func runOnce(runner *analysis.Runner, window time.Duration, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	end := time.Now()
	report, err := runner.AnalyzeWindow(ctx, end.Add(-window), end)
	if err != nil {
		logger.Fatalf("Analysis failed: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"records":          report.RecordCount,
		"cycles":           len(report.Cycles),
		"cycle_success":    report.CycleReport.SuccessRate(),
		"violations":       len(report.Violations),
		"shifts":           len(report.Shifts),
		"setpoint_changes": len(report.SetpointChanges),
		"outliers":         len(report.Outliers),
		"flow_events":      len(report.FlowEvents),
	}).Info("Analysis complete")
}

// Handle graceful shutdown
func handleShutdown(ctx context.Context, cancel context.CancelFunc, sched *scheduler.Scheduler, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Println("Context canceled, initiating shutdown")
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating shutdown", sig)
	}

	logger.Println("Stopping scheduler...")
	sched.Stop()
	logger.Println("Scheduler stopped")
	cancel()
}
