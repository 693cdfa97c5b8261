package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for mechanism runs. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Clock rounds completed, by outcome of the round
	ClockRounds *prometheus.CounterVec

	// Demand query latency by bidder granularity
	DemandQueryLatency *prometheus.HistogramVec

	// Solver latency by problem: demand, wdp, vcg, separation, ccg_lp
	SolveLatency *prometheus.HistogramVec

	// Solves that stopped at a limit with an incumbent
	ApproximateSolves *prometheus.CounterVec

	// Mechanism runs by result status and payment rule
	MechanismRuns *prometheus.CounterVec

	// Core constraints generated per CCG run
	CoreConstraints prometheus.Histogram
}

// New creates a Metrics instance registered with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ClockRounds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sats_cca_clock_rounds_total",
			Help: "Clock rounds completed by outcome",
		}, []string{"outcome"}), // outcome: "raised", "cleared", "stalled"

		DemandQueryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sats_demand_query_duration_seconds",
			Help:    "Duration of a single demand query",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"granularity"}),

		SolveLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sats_solve_duration_seconds",
			Help:    "Duration of MIP and LP solves by problem",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"problem"}),

		ApproximateSolves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sats_approximate_solves_total",
			Help: "Solves that returned an incumbent with a non-zero gap",
		}, []string{"problem"}),

		MechanismRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sats_mechanism_runs_total",
			Help: "Mechanism runs by result status and payment rule",
		}, []string{"status", "rule"}),

		CoreConstraints: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sats_ccg_core_constraints",
			Help:    "Number of core constraints generated per CCG payment computation",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
	}
}

// IncrementClockRound records a finished clock round.
func (m *Metrics) IncrementClockRound(outcome string) {
	if m != nil {
		m.ClockRounds.WithLabelValues(outcome).Inc()
	}
}

// ObserveDemandQuery records the duration of one demand query.
func (m *Metrics) ObserveDemandQuery(granularity string, d time.Duration) {
	if m != nil {
		m.DemandQueryLatency.WithLabelValues(granularity).Observe(d.Seconds())
	}
}

// ObserveSolve records a solve and whether it was approximate.
func (m *Metrics) ObserveSolve(problem string, d time.Duration, approximate bool) {
	if m != nil {
		m.SolveLatency.WithLabelValues(problem).Observe(d.Seconds())
		if approximate {
			m.ApproximateSolves.WithLabelValues(problem).Inc()
		}
	}
}

// IncrementMechanismRun records a finished mechanism run.
func (m *Metrics) IncrementMechanismRun(status, rule string) {
	if m != nil {
		m.MechanismRuns.WithLabelValues(status, rule).Inc()
	}
}

// ObserveCoreConstraints records how many core constraints a CCG run added.
func (m *Metrics) ObserveCoreConstraints(n int) {
	if m != nil {
		m.CoreConstraints.Observe(float64(n))
	}
}
