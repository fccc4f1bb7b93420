// Package metrics records solver and pipeline activity with Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attempt scopes.
const (
	ScopeWhole     = "whole"
	ScopePartition = "partition"
)

// Recorder collects solver metrics. A nil *Recorder records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	attempts    *prometheus.CounterVec
	attemptTime *prometheus.HistogramVec
	solves      *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// New registers the astrored collectors on a fresh registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrored",
				Subsystem: "solver",
				Name:      "attempts_total",
				Help:      "External solver invocations by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		attemptTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "astrored",
				Subsystem: "solver",
				Name:      "attempt_duration_seconds",
				Help:      "Wall time of one external solver invocation",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"scope"},
		),
		solves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrored",
				Subsystem: "solver",
				Name:      "solves_total",
				Help:      "Completed orbit solves by outcome",
			},
			[]string{"outcome"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrored",
				Subsystem: "pipeline",
				Name:      "jobs_total",
				Help:      "Pipeline jobs by final status",
			},
			[]string{"status"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "astrored",
				Subsystem: "pipeline",
				Name:      "queue_depth",
				Help:      "Jobs waiting for a worker",
			},
		),
	}
}

// RecordAttempt records one solver invocation.
func (r *Recorder) RecordAttempt(scope, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(scope, outcome).Inc()
	r.attemptTime.WithLabelValues(scope).Observe(seconds)
}

// RecordSolve records the terminal outcome of a SolveOrbit call.
func (r *Recorder) RecordSolve(outcome string) {
	if r == nil {
		return
	}
	r.solves.WithLabelValues(outcome).Inc()
}

// RecordJob records a finished pipeline job.
func (r *Recorder) RecordJob(status string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the number of queued jobs.
func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
