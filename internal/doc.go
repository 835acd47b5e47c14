// Package tsshape implements event detection and cycle extraction for
// industrial time-series telemetry.
//
// # Architecture
//
// The library is structured into several key packages:
//   - timeseries: Shared record model, per-signal series views, statistics
//   - cycles: Cycle extraction, validation, overlap handling, assignment
//   - detect: Setpoint changes, startup detection, response analysis
//   - spc: Control limits, Western Electric rules, CUSUM shift detection
//   - state: Run/idle intervals, transitions, machine quality metrics
//   - outlier: Z-score, IQR and MAD outlier events
//   - align: Timestamp alignment and material-flow events
//   - analysis: Pipeline orchestrating the detectors over one window
//   - loader: TimescaleDB storage for telemetry records
//   - scheduler: Periodic re-analysis of the trailing window
//
// Key Features
//
//   - Cycle Extraction:
//     Six boundary strategies over start/end signals, all funnelled into
//     one forward-merge pairing with an explicit extraction report.
//
//   - Process Monitoring:
//     SPC rule evaluation against tolerance-derived control limits,
//     CUSUM mean-shift detection, and outlier events on actual values.
//
//   - Machine State:
//     Run/idle interval grouping, transition events and data-quality
//     metrics from a boolean run signal.
//
// Example Usage
//
//	extractor, err := cycles.NewExtractor(frame, "press:cycle_active", "", 0, logger)
//	if err != nil {
//	    return err
//	}
//	extracted, report := extractor.PersistentCycles()
//
// For more information about specific packages, see their respective
// documentation.
package tsshape
