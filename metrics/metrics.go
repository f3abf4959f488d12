// Package metrics exposes Prometheus instrumentation for the harvester.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "harvester"

// Fetch outcomes.
const (
	FetchOK    = "ok"
	FetchRetry = "retry"
	FetchError = "error"
)

// Metrics holds all harvester collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FetchTotal       *prometheus.CounterVec
	FetchInFlight    prometheus.Gauge
	CandidatesTotal  *prometheus.CounterVec
	DeactivatedTotal *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
	SourceRunSeconds *prometheus.HistogramVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "fetch_total",
				Help:      "Page fetch attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		FetchInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "fetch_in_flight",
				Help:      "Fetches currently holding a concurrency slot",
			},
		),
		CandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "candidates_total",
				Help:      "Processed candidates by source and result",
			},
			[]string{"source", "result"},
		),
		DeactivatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "deactivated_total",
				Help:      "Listings deactivated by full-rescan sweeps",
			},
			[]string{"source"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_total",
				Help:      "Finished jobs by terminal status",
			},
			[]string{"status"},
		),
		SourceRunSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "source_run_seconds",
				Help:      "Duration of source runs",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
			},
			[]string{"source", "status"},
		),
	}
}

func (m *Metrics) Fetch(source, outcome string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(source, outcome).Inc()
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.FetchInFlight.Add(delta)
}

func (m *Metrics) Candidate(source, result string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Deactivated(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DeactivatedTotal.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SourceRun(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceRunSeconds.WithLabelValues(source, status).Observe(d.Seconds())
}
