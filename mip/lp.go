package mip

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	zeroTol     = 1e-12
	feasibleTol = 1e-9
)

// errNumerical marks simplex failures that are neither infeasibility nor
// unboundedness.
var errNumerical = errors.New("mip: numerical failure in LP relaxation")

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
)

type lpResult struct {
	status lpStatus
	// x is indexed like the model's variables.
	x []float64
	// objective is in minimization form and includes the constant.
	objective float64
}

// solveRelaxation solves the LP relaxation of m with the given bounds,
// minimizing sign*objective.
//
// Each free variable is shifted to y = x - lb >= 0, rows become
// G y + s = h with one slack per row, so the standard form matrix [G | I]
// always has full row rank.
func solveRelaxation(m *Model, lb, ub []float64, sign float64) (lpResult, error) {
	n := len(m.vars)
	x := make([]float64, n)

	col := make([]int, n)
	free := make([]int, 0, n)
	for j := 0; j < n; j++ {
		if ub[j] < lb[j]-feasibleTol {
			return lpResult{status: lpInfeasible}, nil
		}
		if ub[j]-lb[j] <= zeroTol {
			col[j] = -1
			x[j] = lb[j]
			continue
		}
		col[j] = len(free)
		free = append(free, j)
		x[j] = lb[j]
	}
	k := len(free)

	var rows [][]float64
	var rhs []float64
	addRow := func(g []float64, h float64) error {
		nonZero := false
		for _, v := range g {
			if math.Abs(v) > zeroTol {
				nonZero = true
				break
			}
		}
		if !nonZero {
			if h < -feasibleTol {
				return errInfeasibleRow
			}
			return nil
		}
		rows = append(rows, g)
		rhs = append(rhs, h)
		return nil
	}

	for _, c := range m.constraints {
		g := make([]float64, k)
		h := c.RHS - c.Expr.Constant
		for _, t := range c.Expr.Terms {
			h -= t.Coef * lb[t.Var]
			if idx := col[t.Var]; idx >= 0 {
				g[idx] += t.Coef
			}
		}
		var err error
		switch c.Sense {
		case LessEqual:
			err = addRow(g, h)
		case GreaterEqual:
			err = addRow(negate(g), -h)
		case Equal:
			if err = addRow(g, h); err == nil {
				err = addRow(negate(g), -h)
			}
		}
		if errors.Is(err, errInfeasibleRow) {
			return lpResult{status: lpInfeasible}, nil
		}
	}
	for _, j := range free {
		if math.IsInf(ub[j], 1) {
			continue
		}
		g := make([]float64, k)
		g[col[j]] = 1
		rows = append(rows, g)
		rhs = append(rhs, ub[j]-lb[j])
	}

	cost := make([]float64, k)
	constant := sign * m.objective.Constant
	for _, t := range m.objective.Terms {
		constant += sign * t.Coef * lb[t.Var]
		if idx := col[t.Var]; idx >= 0 {
			cost[idx] += sign * t.Coef
		}
	}

	// Columns without any row entry are set to zero, or make the LP unbounded.
	keep := make([]int, 0, k)
	for idx := 0; idx < k; idx++ {
		used := false
		for _, g := range rows {
			if math.Abs(g[idx]) > zeroTol {
				used = true
				break
			}
		}
		if used {
			keep = append(keep, idx)
			continue
		}
		if cost[idx] < -zeroTol {
			return lpResult{status: lpUnbounded}, nil
		}
	}

	mRows := len(rows)
	if mRows == 0 {
		return lpResult{status: lpOptimal, x: x, objective: constant}, nil
	}

	nCols := len(keep) + mRows
	A := mat.NewDense(mRows, nCols, nil)
	c := make([]float64, nCols)
	for i, g := range rows {
		for p, idx := range keep {
			A.Set(i, p, g[idx])
		}
		A.Set(i, len(keep)+i, 1)
	}
	for p, idx := range keep {
		c[p] = cost[idx]
	}

	optF, optX, err := lp.Simplex(c, A, rhs, 0, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return lpResult{status: lpInfeasible}, nil
	case errors.Is(err, lp.ErrUnbounded):
		return lpResult{status: lpUnbounded}, nil
	case err != nil:
		return lpResult{}, fmt.Errorf("%w: %v", errNumerical, err)
	}

	for p, idx := range keep {
		j := free[idx]
		v := optX[p]
		if v < 0 {
			v = 0
		}
		x[j] = lb[j] + v
	}
	return lpResult{status: lpOptimal, x: x, objective: optF + constant}, nil
}

var errInfeasibleRow = errors.New("infeasible empty row")

func negate(g []float64) []float64 {
	out := make([]float64, len(g))
	for i, v := range g {
		out[i] = -v
	}
	return out
}
