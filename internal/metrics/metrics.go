// Package metrics exposes Prometheus instruments for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline instruments. Construct with New against the
// default registerer, or NewWithRegistry for an isolated registry in
// tests.
type Metrics struct {
	Extractions *prometheus.CounterVec
	Detections  *prometheus.CounterVec
	Violations  *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Extractions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsshape_cycles_extracted_total",
				Help: "Cycles extracted, labelled by boundary strategy and completeness",
			},
			[]string{"strategy", "complete"},
		),
		Detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsshape_events_detected_total",
				Help: "Events emitted by each detector",
			},
			[]string{"detector"},
		),
		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsshape_spc_violations_total",
				Help: "Control rule violations by rule and severity",
			},
			[]string{"rule", "severity"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tsshape_analysis_duration_seconds",
				Help:    "Wall time of each analysis stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}

	for _, c := range []prometheus.Collector{m.Extractions, m.Detections, m.Violations, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
