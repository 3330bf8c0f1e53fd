// Package metrics exposes Prometheus instrumentation for the
// assignment and SLA engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	AssignmentsTotal     *prometheus.CounterVec
	ManualFallbacksTotal prometheus.Counter
	SweepRunsTotal       *prometheus.CounterVec
	BreachesDetected     prometheus.Counter
	PenaltiesCreated     prometheus.Counter
	PenaltiesApplied     prometheus.Counter
	PendingComplaints    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		AssignmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldline_assignments_total",
			Help: "Complaint assignments by kind (auto, manual, reassign).",
		}, []string{"kind"}),
		ManualFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldline_manual_fallbacks_total",
			Help: "Assignments that required manual dispatch.",
		}),
		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldline_sweep_runs_total",
			Help: "Monitor sweep executions by sweep name.",
		}, []string{"sweep"}),
		BreachesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldline_sla_breaches_total",
			Help: "SLA deadlines detected as breached.",
		}),
		PenaltiesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldline_penalties_created_total",
			Help: "Penalty records created by breach sweeps.",
		}),
		PenaltiesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldline_penalties_applied_total",
			Help: "Penalties applied to complaints.",
		}),
		PendingComplaints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fieldline_pending_complaints",
			Help: "Complaints currently awaiting assignment.",
		}),
	}
}
