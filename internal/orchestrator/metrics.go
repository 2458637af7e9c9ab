package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for gate execution.
type Metrics struct {
	GateRunsTotal     *prometheus.CounterVec
	GateTimeoutsTotal *prometheus.CounterVec
	GateDuration      *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
}

// NewMetrics creates gate metrics registered on reg.
// A nil reg yields unregistered collectors, which is what tests want.
//
// Metrics:
//   - reviewgate_gate_runs_total{tool,status}
//   - reviewgate_gate_timeouts_total{tool}
//   - reviewgate_gate_duration_seconds{tool}
//   - reviewgate_runs_total{policy,overall}
//   - reviewgate_run_duration_seconds
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GateRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewgate_gate_runs_total",
				Help: "Total number of gate results by tool and status",
			},
			[]string{"tool", "status"},
		),
		GateTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewgate_gate_timeouts_total",
				Help: "Total number of gates terminated by their timeout",
			},
			[]string{"tool"},
		),
		GateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewgate_gate_duration_seconds",
				Help:    "Wall-clock duration of executed gates",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"tool"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewgate_runs_total",
				Help: "Total number of orchestration runs by policy and overall status",
			},
			[]string{"policy", "overall"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reviewgate_run_duration_seconds",
				Help:    "Wall-clock duration of orchestration runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

// RecordGate records one gate result. Cached results are counted but not timed.
func (m *Metrics) RecordGate(result GateResult, cached bool) {
	if m == nil {
		return
	}
	m.GateRunsTotal.WithLabelValues(result.Tool, string(result.Status)).Inc()
	if cached {
		return
	}
	m.GateDuration.WithLabelValues(result.Tool).Observe(result.Duration.Seconds())
	if result.Status == StatusTimedOut {
		m.GateTimeoutsTotal.WithLabelValues(result.Tool).Inc()
	}
}

// RecordRun records one completed orchestration run.
func (m *Metrics) RecordRun(policy Policy, overall OverallStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(policy), string(overall)).Inc()
	m.RunDuration.Observe(d.Seconds())
}
