// Package metrics holds the Prometheus collectors for update runs,
// promotions, rollbacks and plan validation.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semguard"

// Metrics is the set of semguard collectors.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	promotionsTotal *prometheus.CounterVec
	rollbacksTotal  *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
	planFilesTotal  *prometheus.CounterVec
	stagingSessions prometheus.Gauge
	statements      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is useful in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "runs_total",
			Help:      "Total number of update runs by outcome",
		}, []string{"repository", "outcome"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "run_duration_seconds",
			Help:      "Update run duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"repository"}),

		promotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "promotions_total",
			Help:      "Total number of promotions by status",
		}, []string{"repository", "status"}), // status: success, failed

		rollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "rollbacks_total",
			Help:      "Total number of rollbacks by status",
		}, []string{"repository", "status"}), // status: success, failed

		violationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "violations_total",
			Help:      "Total number of reported violations by stage and severity",
		}, []string{"stage", "severity"}), // stage: local, staged, plan

		planFilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "files_total",
			Help:      "Total number of plan files validated by result",
		}, []string{"result"}), // result: passed, failed, fixed, error

		stagingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "staging_sessions",
			Help:      "Number of staging repositories currently alive",
		}),

		statements: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "statements",
			Help:      "Last observed statement count by provenance",
		}, []string{"repository", "provenance"}), // provenance: explicit, inferred
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.promotionsTotal,
		m.rollbacksTotal,
		m.violationsTotal,
		m.planFilesTotal,
		m.stagingSessions,
		m.statements,
	}
}

// RecordRun records a finished update run.
func (m *Metrics) RecordRun(repository, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(repository, outcome).Inc()
	m.runDuration.WithLabelValues(repository).Observe(d.Seconds())
}

// RecordPromotion records a promotion attempt.
func (m *Metrics) RecordPromotion(repository string, ok bool) {
	if m == nil {
		return
	}
	m.promotionsTotal.WithLabelValues(repository, status(ok)).Inc()
}

// RecordRollback records a rollback attempt.
func (m *Metrics) RecordRollback(repository string, ok bool) {
	if m == nil {
		return
	}
	m.rollbacksTotal.WithLabelValues(repository, status(ok)).Inc()
}

// RecordViolations adds the blocking and advisory counts of one report.
func (m *Metrics) RecordViolations(stage string, blocking, advisory int) {
	if m == nil {
		return
	}
	m.violationsTotal.WithLabelValues(stage, "blocking").Add(float64(blocking))
	m.violationsTotal.WithLabelValues(stage, "advisory").Add(float64(advisory))
}

// RecordPlanFile records the result of validating one plan file.
func (m *Metrics) RecordPlanFile(result string) {
	if m == nil {
		return
	}
	m.planFilesTotal.WithLabelValues(result).Inc()
}

// StagingStarted and StagingFinished track live staging repositories.
func (m *Metrics) StagingStarted() {
	if m == nil {
		return
	}
	m.stagingSessions.Inc()
}

func (m *Metrics) StagingFinished() {
	if m == nil {
		return
	}
	m.stagingSessions.Dec()
}

// RecordCounts sets the statement gauges of repository.
func (m *Metrics) RecordCounts(repository string, explicit, inferred int) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(repository, "explicit").Set(float64(explicit))
	m.statements.WithLabelValues(repository, "inferred").Set(float64(inferred))
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
