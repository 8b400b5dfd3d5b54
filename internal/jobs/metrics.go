// Package jobmetrics exposes Prometheus collectors for pushes and background jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentsites"

// Push outcomes reported by ObservePush.
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeEmpty    = "empty"
)

// Metrics holds job run counters and propagation fan-out collectors.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	targets    *prometheus.CounterVec
	fanout     *prometheus.HistogramVec
	pushes     *prometheus.CounterVec
	contention prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// Prometheus registerer when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	t.metrics.runs.WithLabelValues(t.job, statusLabel(err == nil)).Inc()
	if err != nil {
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveTarget counts one branch-site upsert outcome.
func (m *Metrics) ObserveTarget(entityType string, ok bool) {
	if m == nil {
		return
	}
	m.targets.WithLabelValues(entityType, statusLabel(ok)).Inc()
}

// ObserveFanout records how long a whole push took.
func (m *Metrics) ObserveFanout(entityType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fanout.WithLabelValues(entityType).Observe(elapsed.Seconds())
}

// ObservePush classifies a finished push by how many targets succeeded.
func (m *Metrics) ObservePush(entityType string, succeeded, total int) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(entityType, PushOutcome(succeeded, total)).Inc()
}

// ObserveLockContention counts pushes refused because the record was locked.
func (m *Metrics) ObserveLockContention() {
	if m == nil {
		return
	}
	m.contention.Inc()
}

// PushOutcome maps success counts to an outcome label.
func PushOutcome(succeeded, total int) string {
	switch {
	case total == 0:
		return OutcomeEmpty
	case succeeded == total:
		return OutcomeComplete
	case succeeded == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job executions by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failures_total",
			Help:      "Failed job executions by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagation",
			Name:      "targets_total",
			Help:      "Branch-site upserts attempted during pushes, by entity type and outcome.",
		}, []string{"entity_type", "status"}),
		fanout: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "propagation",
			Name:      "push_duration_seconds",
			Help:      "Time to push one record to every branch site.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"entity_type"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagation",
			Name:      "pushes_total",
			Help:      "Finished pushes by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		contention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "propagation",
			Name:      "lock_contention_total",
			Help:      "Pushes refused because another push held the record lock.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.targets, m.fanout, m.pushes, m.contention)
	return m
}
