package mip

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// BranchAndBound is a depth-first branch-and-bound solver over gonum's
// simplex. It branches on the most fractional integer variable.
type BranchAndBound struct {
	logger *zap.Logger
}

// Option configures a BranchAndBound.
type Option func(*BranchAndBound)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(b *BranchAndBound) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBranchAndBound creates the reference solver.
func NewBranchAndBound(opts ...Option) *BranchAndBound {
	b := &BranchAndBound{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type bbNode struct {
	lb, ub []float64
	// bound is the parent's relaxation objective in minimization form.
	bound float64
}

// Solve implements Solver.
func (b *BranchAndBound) Solve(ctx context.Context, m *Model, p Params) (*Solution, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	sign := 1.0
	if m.maximize {
		sign = -1.0
	}

	start := time.Now()
	var deadline time.Time
	if p.TimeLimit > 0 {
		deadline = start.Add(p.TimeLimit)
	}

	n := len(m.vars)
	rootLB := make([]float64, n)
	rootUB := make([]float64, n)
	for j, v := range m.vars {
		rootLB[j], rootUB[j] = v.lb, v.ub
		if v.typ != Continuous {
			rootLB[j] = math.Ceil(v.lb - p.IntegralityTol)
			rootUB[j] = math.Floor(v.ub + p.IntegralityTol)
		}
	}

	var (
		incumbent    []float64
		incumbentObj = math.Inf(1)
		nodes        int
		limitHit     bool
		numerical    bool
	)
	stack := []bbNode{{lb: rootLB, ub: rootUB, bound: math.Inf(-1)}}

	pruned := func(bound float64) bool {
		if incumbent == nil {
			return false
		}
		tol := math.Max(feasibleTol, p.RelativeGap*math.Abs(incumbentObj))
		return bound >= incumbentObj-tol
	}

	for len(stack) > 0 {
		if ctx.Err() != nil ||
			(!deadline.IsZero() && time.Now().After(deadline)) ||
			(p.NodeLimit > 0 && nodes >= p.NodeLimit) {
			limitHit = true
			break
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if pruned(node.bound) {
			continue
		}

		res, err := solveRelaxation(m, node.lb, node.ub, sign)
		nodes++
		if err != nil {
			if nodes == 1 || !errors.Is(err, errNumerical) {
				return nil, err
			}
			// The subtree stays unexplored; optimality can no longer be proven.
			b.logger.Warn("dropping node after LP failure", zap.String("model", m.name), zap.Error(err))
			numerical = true
			continue
		}

		switch res.status {
		case lpInfeasible:
			continue
		case lpUnbounded:
			return &Solution{Status: Unbounded, Nodes: nodes, Objective: sign * math.Inf(-1)}, nil
		}
		if pruned(res.objective) {
			continue
		}

		branchVar, frac := -1, 0.0
		for j, v := range m.vars {
			if v.typ == Continuous {
				continue
			}
			f := res.x[j] - math.Floor(res.x[j])
			dist := math.Min(f, 1-f)
			if dist > p.IntegralityTol && dist > frac {
				branchVar, frac = j, dist
			}
		}

		if branchVar < 0 {
			incumbent = res.x
			incumbentObj = res.objective
			for j, v := range m.vars {
				if v.typ != Continuous {
					incumbent[j] = math.Round(incumbent[j])
				}
			}
			continue
		}

		val := res.x[branchVar]
		down := bbNode{lb: clone(node.lb), ub: clone(node.ub), bound: res.objective}
		down.ub[branchVar] = math.Floor(val)
		up := bbNode{lb: clone(node.lb), ub: clone(node.ub), bound: res.objective}
		up.lb[branchVar] = math.Ceil(val)

		// The child nearer to the fractional value is explored first.
		if val-math.Floor(val) >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	sol := &Solution{Nodes: nodes}
	if incumbent == nil {
		if limitHit || numerical {
			sol.Status = NoSolution
			sol.Objective = math.NaN()
			sol.Bound = math.NaN()
			sol.Gap = math.Inf(1)
		} else {
			sol.Status = Infeasible
		}
		b.logger.Debug("solve finished without incumbent",
			zap.String("model", m.name),
			zap.Stringer("status", sol.Status),
			zap.Int("nodes", nodes),
			zap.Duration("elapsed", time.Since(start)))
		return sol, nil
	}

	bound := incumbentObj
	if limitHit || numerical {
		for _, open := range stack {
			bound = math.Min(bound, open.bound)
		}
		if numerical {
			bound = math.Inf(-1)
		}
	}

	sol.Values = incumbent
	sol.Objective = sign * incumbentObj
	sol.Bound = sign * bound
	sol.Gap = relativeGap(incumbentObj, bound)
	if sol.Gap <= p.RelativeGap {
		sol.Status = Optimal
		sol.Gap = 0
	} else {
		sol.Status = Feasible
	}

	b.logger.Debug("solve finished",
		zap.String("model", m.name),
		zap.Stringer("status", sol.Status),
		zap.Float64("objective", sol.Objective),
		zap.Float64("gap", sol.Gap),
		zap.Int("nodes", nodes),
		zap.Duration("elapsed", time.Since(start)))
	return sol, nil
}

func clone(s []float64) []float64 {
	c := make([]float64, len(s))
	copy(c, s)
	return c
}
