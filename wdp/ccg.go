package wdp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/mip"
)

// coreConstraint requires the winners outside a blocking coalition to pay
// at least RHS between them.
type coreConstraint struct {
	Payers []string
	RHS    float64
}

func (c coreConstraint) key() string {
	return strings.Join(c.Payers, ",") + fmt.Sprintf("|%.6f", c.RHS)
}

// CCG computes core-selecting payments closest to VCG by constraint
// generation: find the most blocking coalition at the current payments, add
// its core constraint, minimize revenue over all constraints found so far and
// break ties by the largest deviation from VCG.
func (e *Engine) CCG(ctx context.Context, bids []*core.Bid, supply core.Supply, alloc *core.Allocation, vcg core.Payment) (core.Payment, float64, error) {
	bids, _, err := e.prepare(bids, supply)
	if err != nil {
		return nil, 0, err
	}
	payments, _, gap, err := e.ccg(ctx, bids, supply, alloc, vcg)
	return payments, gap, err
}

func (e *Engine) ccg(ctx context.Context, bids []*core.Bid, supply core.Supply, alloc *core.Allocation, vcg core.Payment) (core.Payment, int, float64, error) {
	winners := winnerIDs(alloc)
	if len(winners) == 0 {
		return core.Payment{}, 0, 0, nil
	}

	current := make(map[string]float64, len(winners))
	for _, id := range winners {
		current[id] = vcg[id].InexactFloat64()
	}
	var constraints []coreConstraint
	seen := make(map[string]bool)
	gap := 0.0

	for iter := 0; iter < e.maxCoreIterations; iter++ {
		c, z, sepGap, err := e.separate(ctx, bids, supply, alloc, current)
		if err != nil {
			return nil, 0, 0, err
		}
		gap = math.Max(gap, sepGap)

		revenue := 0.0
		for _, p := range current {
			revenue += p
		}
		if z <= revenue+coreTolerance*math.Max(1, math.Abs(revenue)) {
			e.logger.Debug("payments are in the core", zap.Int("iterations", iter))
			break
		}
		if len(c.Payers) == 0 {
			// The coalition contains every winner, so no payment can repair
			// it; only happens when the allocation is not efficient.
			e.logger.Warn("blocking coalition without payers", zap.Float64("blocking_value", z))
			break
		}
		if seen[c.key()] {
			e.logger.Warn("core constraint repeated", zap.Strings("payers", c.Payers))
			break
		}
		seen[c.key()] = true
		constraints = append(constraints, c)

		next, lpGap, err := e.minimizeRevenue(ctx, alloc, vcg, winners, constraints)
		if err != nil {
			return nil, 0, 0, err
		}
		gap = math.Max(gap, lpGap)
		if next == nil {
			e.logger.Warn("core payments infeasible, keeping last payments", zap.Int("constraints", len(constraints)))
			break
		}
		current = next
	}

	e.metrics.ObserveCoreConstraints(len(constraints))

	payments := make(core.Payment, len(winners))
	for _, id := range winners {
		payments[id] = clampPayment(core.FromFloat(current[id]), vcg[id], alloc.Winners[id].Value)
	}
	return payments, len(constraints), gap, nil
}

// separate finds the coalition that blocks the current payments most. Each
// winner's values are reduced by its surplus b_j - p_j, so the optimum z is
// the best the seller can do by trading with a coalition instead.
func (e *Engine) separate(ctx context.Context, bids []*core.Bid, supply core.Supply, alloc *core.Allocation, current map[string]float64) (coreConstraint, float64, float64, error) {
	surplus := make(map[string]float64, len(current))
	for id, p := range current {
		surplus[id] = alloc.Winners[id].Value.InexactFloat64() - p
	}
	value := func(bidderID string, v core.AtomicValue) float64 {
		return v.Value.InexactFloat64() - surplus[bidderID]
	}

	w := buildModel("separation", bids, supply, nil, value)
	sol, err := e.solve(ctx, "separation", w.model)
	if err != nil {
		return coreConstraint{}, 0, 0, err
	}
	coalition := decode(bids, w, sol)

	// RHS = W(C) - sum of the bids of winners inside C.
	rhs := coalition.TotalValue
	z := coalition.TotalValue.InexactFloat64()
	var payers []string
	for _, id := range winnerIDs(alloc) {
		if _, in := coalition.Winners[id]; in {
			rhs = rhs.Sub(alloc.Winners[id].Value)
			z -= surplus[id]
			continue
		}
		payers = append(payers, id)
	}
	return coreConstraint{Payers: payers, RHS: rhs.InexactFloat64()}, z, reportedGap(sol), nil
}

// minimizeRevenue solves the two-stage payment LP: minimum revenue subject
// to the core constraints and VCG <= p <= bid, then the point of that face
// nearest VCG in L-infinity. It returns nil payments when the first stage
// is infeasible.
func (e *Engine) minimizeRevenue(ctx context.Context, alloc *core.Allocation, vcg core.Payment, winners []string, constraints []coreConstraint) (map[string]float64, float64, error) {
	m := mip.NewModel("ccg_lp")
	vars := make(map[string]mip.Var, len(winners))
	total := mip.NewExpr(0)
	maxSpread := 0.0
	for _, id := range winners {
		lo := vcg[id].InexactFloat64()
		hi := alloc.Winners[id].Value.InexactFloat64()
		vars[id] = m.AddVar("p_"+id, mip.Continuous, lo, hi)
		total.AddTerm(vars[id], 1)
		maxSpread = math.Max(maxSpread, hi-lo)
	}
	for i, c := range constraints {
		expr := mip.NewExpr(0)
		for _, id := range c.Payers {
			expr.AddTerm(vars[id], 1)
		}
		m.AddConstraint(fmt.Sprintf("core_%d", i), expr, mip.GreaterEqual, c.RHS)
	}
	m.SetObjective(total, false)

	first, err := e.solve(ctx, "ccg_lp", m)
	if errors.Is(err, core.ErrInfeasibleModel) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	revenue := first.Objective

	second := m.Clone()
	t := second.AddVar("deviation", mip.Continuous, 0, maxSpread)
	second.AddConstraint("revenue", total, mip.LessEqual, revenue+coreTolerance*math.Max(1, math.Abs(revenue)))
	for _, id := range winners {
		dev := mip.NewExpr(0).AddTerm(vars[id], 1).AddTerm(t, -1)
		second.AddConstraint("deviation_"+id, dev, mip.LessEqual, vcg[id].InexactFloat64())
	}
	second.SetObjective(mip.Sum(t), false)

	sol, err := e.solve(ctx, "ccg_lp", second)
	if err != nil {
		// The first stage point is still a valid minimum revenue payment.
		e.logger.Debug("deviation stage failed", zap.Error(err))
		sol = first
	}

	next := make(map[string]float64, len(winners))
	for _, id := range winners {
		next[id] = sol.Value(vars[id])
	}
	return next, reportedGap(sol), nil
}
