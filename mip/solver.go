package mip

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Status is the outcome of a solve.
type Status int

const (
	// Optimal means the incumbent is proven optimal within RelativeGap.
	Optimal Status = iota
	// Feasible means a limit stopped the search with an incumbent.
	Feasible
	Infeasible
	Unbounded
	// NoSolution means a limit stopped the search before any incumbent.
	NoSolution
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Feasible:
		return "feasible"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case NoSolution:
		return "no_solution"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Params bound a solve. Zero values mean no limit, except for the tolerances
// which fall back to their defaults.
type Params struct {
	TimeLimit      time.Duration
	NodeLimit      int
	RelativeGap    float64
	IntegralityTol float64
}

const (
	DefaultRelativeGap    = 1e-6
	DefaultIntegralityTol = 1e-6
)

// DefaultParams returns unlimited params with default tolerances.
func DefaultParams() Params {
	return Params{
		RelativeGap:    DefaultRelativeGap,
		IntegralityTol: DefaultIntegralityTol,
	}
}

func (p Params) withDefaults() Params {
	if p.RelativeGap <= 0 {
		p.RelativeGap = DefaultRelativeGap
	}
	if p.IntegralityTol <= 0 {
		p.IntegralityTol = DefaultIntegralityTol
	}
	return p
}

// Solution is what a Solver found.
type Solution struct {
	Status    Status
	Values    []float64
	Objective float64
	// Bound is the best proven bound on the objective.
	Bound float64
	// Gap is |Objective-Bound| relative to |Objective|.
	Gap   float64
	Nodes int
}

// HasIncumbent reports whether Values holds a feasible assignment.
func (s *Solution) HasIncumbent() bool {
	return s.Status == Optimal || s.Status == Feasible
}

// ReportedGap is zero for optimal solutions and Gap otherwise, with an
// unknown or infinite gap capped at 1.
func (s *Solution) ReportedGap() float64 {
	if s.Status == Optimal {
		return 0
	}
	if math.IsInf(s.Gap, 0) || math.IsNaN(s.Gap) || s.Gap > 1 {
		return 1
	}
	return s.Gap
}

// Value returns the value of v in the incumbent.
func (s *Solution) Value(v Var) float64 {
	return s.Values[v]
}

// Int returns the value of v rounded to the nearest integer.
func (s *Solution) Int(v Var) int {
	return int(math.Round(s.Values[v]))
}

// Solver solves a Model.
type Solver interface {
	Solve(ctx context.Context, m *Model, p Params) (*Solution, error)
}

func relativeGap(objective, bound float64) float64 {
	if math.IsInf(bound, 0) {
		return math.Inf(1)
	}
	return math.Abs(objective-bound) / math.Max(math.Abs(objective), 1e-10)
}
