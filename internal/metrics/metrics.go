// Package metrics holds the Prometheus collectors shared by the dispatcher,
// the sampling runner and the worker engine.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsPrefix = "nlbayes_"

// Outcome labels a finished job.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	submissions     prometheus.Counter
	queueErrors     prometheus.Counter
	batches         *prometheus.CounterVec
	reportErrors    prometheus.Counter
	jobOutcomes     *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	tasksInFlight   prometheus.Gauge
	convergenceStat *prometheus.GaugeVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "jobs_submitted_total",
			Help: "Number of jobs accepted by the dispatcher",
		}),
		queueErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "queue_errors_total",
			Help: "Number of submissions rejected because the broker was unavailable",
		}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "sample_batches_total",
			Help: "Number of sampling batches run, grouped by phase",
		}, []string{"phase"}),
		reportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "progress_report_errors_total",
			Help: "Number of progress snapshots that could not be persisted",
		}),
		jobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "jobs_finished_total",
			Help: "Number of jobs finished by workers, grouped by outcome",
		}, []string{"outcome"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "job_duration_seconds",
			Help:    "Wall-clock time from worker start to a terminal phase",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		tasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "tasks_in_flight",
			Help: "Number of tasks currently executed by this worker",
		}),
		convergenceStat: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricsPrefix + "convergence_stat",
			Help: "Latest finite Gelman-Rubin statistic reported, grouped by phase",
		}, []string{"phase"}),
	}
}

func (m *Metrics) RecordSubmission() {
	if m == nil {
		return
	}
	m.submissions.Inc()
}

func (m *Metrics) RecordQueueError() {
	if m == nil {
		return
	}
	m.queueErrors.Inc()
}

func (m *Metrics) RecordBatch(phase string, stat float64) {
	if m == nil {
		return
	}
	m.batches.With(prometheus.Labels{"phase": phase}).Inc()
	if !math.IsInf(stat, 0) && !math.IsNaN(stat) {
		m.convergenceStat.With(prometheus.Labels{"phase": phase}).Set(stat)
	}
}

func (m *Metrics) RecordReportError() {
	if m == nil {
		return
	}
	m.reportErrors.Inc()
}

func (m *Metrics) RecordJobFinished(outcome Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobOutcomes.With(prometheus.Labels{"outcome": string(outcome)}).Inc()
	m.jobDuration.Observe(duration.Seconds())
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksInFlight.Inc()
}

func (m *Metrics) TaskDone() {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
}
