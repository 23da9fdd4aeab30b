// Package jobmetrics instruments the periodic ledger jobs.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	affected    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the job collectors with registerer. It returns nil when
// registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	factory := promauto.With(registerer)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "branchledger_jobs_total",
			Help: "Job runs by job and status.",
		}, []string{"job", "status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "branchledger_jobs_failures_total",
			Help: "Failed job runs.",
		}, []string{"job"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "branchledger_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		affected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "branchledger_job_rows_affected_total",
			Help: "Rows changed by jobs, such as loans marked overdue or keys pruned.",
		}, []string{"job"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "branchledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
	}
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged, so handlers
// can write `defer func() { err = tracker.End(err) }()`.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(t.job).Inc()
		m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// Affected adds n to the rows changed by this run.
func (t *Tracker) Affected(n int) {
	if t == nil || t.metrics == nil || n <= 0 {
		return
	}
	t.metrics.affected.WithLabelValues(t.job).Add(float64(n))
}
