// Package wdp solves winner determination over XOR bids and computes VCG
// and core-selecting (CCG) payments.
package wdp

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/metrics"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/world"
)

const (
	DefaultMaxCoreIterations = 100
	// coreTolerance is the slack below which a coalition does not block.
	coreTolerance = 1e-6
)

// Engine runs winner determination and payment rules with one solver.
type Engine struct {
	solver            mip.Solver
	params            mip.Params
	reserves          core.Prices
	maxCoreIterations int
	logger            *zap.Logger
	metrics           *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithParams sets the limits passed to every solve.
func WithParams(p mip.Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithReservePrices drops atomic values that do not cover the linear
// reserve price of their bundle.
func WithReservePrices(p core.Prices) Option {
	return func(e *Engine) { e.reserves = p }
}

// WithMaxCoreIterations bounds the constraint generation loop of CCG.
func WithMaxCoreIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCoreIterations = n
		}
	}
}

// New creates an engine over solver.
func New(solver mip.Solver, opts ...Option) *Engine {
	e := &Engine{
		solver:            solver,
		params:            mip.DefaultParams(),
		maxCoreIterations: DefaultMaxCoreIterations,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is a solved winner determination problem.
type Outcome struct {
	Allocation *core.Allocation
	// Gap is the relative optimality gap, zero when solved exactly.
	Gap float64
}

// Approximate reports whether the solve stopped at a limit.
func (o *Outcome) Approximate() bool { return o.Gap > 0 }

// Result bundles allocation and payments.
type Result struct {
	Allocation      *core.Allocation
	Payments        core.Payment
	VCGPayments     core.Payment
	Gap             float64
	CoreConstraints int
	RejectedValues  []int64
}

// Approximate reports whether any solve behind the result stopped at a limit.
func (r *Result) Approximate() bool { return r.Gap > 0 }

// Run allocates and charges the winners under rule.
func (e *Engine) Run(ctx context.Context, bids []*core.Bid, supply core.Supply, rule core.PaymentRule) (*Result, error) {
	bids, rejected, err := e.prepare(bids, supply)
	if err != nil {
		return nil, err
	}

	out, err := e.allocate(ctx, bids, supply, nil)
	if err != nil {
		return nil, err
	}
	res := &Result{Allocation: out.Allocation, Gap: out.Gap, RejectedValues: rejected}

	vcg, gap, err := e.vcg(ctx, bids, supply, out.Allocation)
	if err != nil {
		return nil, err
	}
	res.VCGPayments = vcg
	res.Gap = math.Max(res.Gap, gap)

	switch rule {
	case core.PaymentVCG:
		res.Payments = vcg
	case core.PaymentCCG:
		payments, constraints, gap, err := e.ccg(ctx, bids, supply, out.Allocation, vcg)
		if err != nil {
			return nil, err
		}
		res.Payments = payments
		res.CoreConstraints = constraints
		res.Gap = math.Max(res.Gap, gap)
	default:
		return nil, fmt.Errorf("%w: payment rule %q", core.ErrInvalidInput, rule)
	}

	e.logger.Info("winner determination done",
		zap.String("rule", string(rule)),
		zap.Int("winners", len(res.Allocation.Winners)),
		zap.String("total_value", res.Allocation.TotalValue.String()),
		zap.String("revenue", res.Payments.Total().String()),
		zap.Float64("gap", res.Gap))
	return res, nil
}

// Allocate solves winner determination only.
func (e *Engine) Allocate(ctx context.Context, bids []*core.Bid, supply core.Supply) (*Outcome, error) {
	bids, _, err := e.prepare(bids, supply)
	if err != nil {
		return nil, err
	}
	return e.allocate(ctx, bids, supply, nil)
}

// prepare validates bids and applies reserve prices.
func (e *Engine) prepare(bids []*core.Bid, supply core.Supply) ([]*core.Bid, []int64, error) {
	seen := make(map[string]bool, len(bids))
	worldID := ""
	for _, bid := range bids {
		if seen[bid.BidderID] {
			return nil, nil, fmt.Errorf("%w: two bids for bidder %s", core.ErrInvalidInput, bid.BidderID)
		}
		seen[bid.BidderID] = true
		if worldID == "" {
			worldID = bid.WorldID
		} else if bid.WorldID != worldID {
			return nil, nil, fmt.Errorf("%w: bids from worlds %s and %s", core.ErrIncompatibleWorld, worldID, bid.WorldID)
		}
		for _, v := range bid.Values {
			if err := world.CheckBundle(supply, v.Bundle); err != nil {
				return nil, nil, fmt.Errorf("bidder %s, atomic value %d: %w", bid.BidderID, v.ID, err)
			}
			if v.Value.IsNegative() {
				return nil, nil, fmt.Errorf("%w: bidder %s, atomic value %d is negative", core.ErrInvalidInput, bid.BidderID, v.ID)
			}
		}
	}

	eligible, rejected := core.EnforceReservePrices(bids, e.reserves)
	if len(rejected) > 0 {
		e.logger.Info("atomic values below reserve dropped", zap.Int("count", len(rejected)))
	}
	return eligible, rejected, nil
}

// valueFunc returns the objective coefficient of an atomic value.
type valueFunc func(bidderID string, v core.AtomicValue) float64

type wdpModel struct {
	model *mip.Model
	// choice[i][k] selects bids[i].Values[k].
	choice [][]mip.Var
}

// buildModel adds one binary per atomic value, at most one per bidder and
// capacity per item. Bidders in exclude take no part.
func buildModel(name string, bids []*core.Bid, supply core.Supply, exclude map[string]bool, value valueFunc) *wdpModel {
	m := mip.NewModel(name)
	w := &wdpModel{model: m, choice: make([][]mip.Var, len(bids))}
	capacity := make(map[core.ItemID]*mip.Expr, len(supply))
	for _, id := range supply.Items() {
		capacity[id] = mip.NewExpr(0)
	}
	objective := mip.NewExpr(0)

	for i, bid := range bids {
		if exclude[bid.BidderID] {
			continue
		}
		xor := mip.NewExpr(0)
		w.choice[i] = make([]mip.Var, len(bid.Values))
		for k, v := range bid.Values {
			x := m.AddBinary(fmt.Sprintf("x_%s_%d", bid.BidderID, v.ID))
			w.choice[i][k] = x
			xor.AddTerm(x, 1)
			objective.AddTerm(x, value(bid.BidderID, v))
			for _, id := range v.Bundle.Items() {
				capacity[id].AddTerm(x, float64(v.Bundle.Quantity(id)))
			}
		}
		m.AddConstraint("xor_"+bid.BidderID, xor, mip.LessEqual, 1)
	}
	for _, id := range supply.Items() {
		m.AddConstraint("capacity_"+string(id), capacity[id], mip.LessEqual, float64(supply[id]))
	}
	m.SetObjective(objective, true)
	return w
}

func trueValue(_ string, v core.AtomicValue) float64 {
	return v.Value.InexactFloat64()
}

// solve runs the solver and converts statuses into errors.
func (e *Engine) solve(ctx context.Context, problem string, m *mip.Model) (*mip.Solution, error) {
	start := time.Now()
	sol, err := e.solver.Solve(ctx, m, e.params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", problem, err)
	}
	e.metrics.ObserveSolve(problem, time.Since(start), sol.Status == mip.Feasible)
	switch sol.Status {
	case mip.Optimal, mip.Feasible:
		return sol, nil
	case mip.NoSolution:
		return nil, fmt.Errorf("%s: %w", problem, core.ErrSolverTimeout)
	default:
		return nil, fmt.Errorf("%s: solver reported %s: %w", problem, sol.Status, core.ErrInfeasibleModel)
	}
}

// allocate solves winner determination without the excluded bidders.
func (e *Engine) allocate(ctx context.Context, bids []*core.Bid, supply core.Supply, exclude map[string]bool) (*Outcome, error) {
	problem := "wdp"
	if len(exclude) > 0 {
		problem = "vcg"
	}
	active := 0
	for _, bid := range bids {
		if !exclude[bid.BidderID] && len(bid.Values) > 0 {
			active++
		}
	}
	if active == 0 {
		return &Outcome{Allocation: core.NewAllocation()}, nil
	}
	w := buildModel(problem, bids, supply, exclude, trueValue)
	sol, err := e.solve(ctx, problem, w.model)
	if err != nil {
		return nil, err
	}
	alloc := decode(bids, w, sol)
	if !fits(alloc, supply) {
		return nil, fmt.Errorf("%s: solution exceeds supply: %w", problem, core.ErrInfeasibleModel)
	}
	return &Outcome{Allocation: alloc, Gap: reportedGap(sol)}, nil
}

// reportedGap caps an unknown gap at 1 so results stay serializable.
func reportedGap(sol *mip.Solution) float64 {
	return sol.ReportedGap()
}

func decode(bids []*core.Bid, w *wdpModel, sol *mip.Solution) *core.Allocation {
	alloc := core.NewAllocation()
	for i, bid := range bids {
		for k, x := range w.choice[i] {
			if sol.Int(x) != 1 {
				continue
			}
			v := bid.Values[k]
			alloc.Assign(core.BidderAllocation{
				BidderID:      bid.BidderID,
				Bundle:        v.Bundle,
				Value:         v.Value,
				AtomicValueID: v.ID,
			})
		}
	}
	return alloc
}

func fits(alloc *core.Allocation, supply core.Supply) bool {
	for id, q := range alloc.Allocated() {
		if q > supply[id] {
			return false
		}
	}
	return true
}

func winnerIDs(alloc *core.Allocation) []string {
	ids := alloc.WinnerIDs()
	sort.Strings(ids)
	return ids
}

func clampPayment(p, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(core.RoundMoney(p), lo), hi)
}
