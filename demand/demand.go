// Package demand answers demand queries: which bundles maximize a bidder's
// value minus price at given linear prices.
package demand

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/metrics"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/world"
)

var (
	// ErrModelMismatch is returned when a bidder's MIP disagrees with its
	// CalculateValue by more than the requested tolerance.
	ErrModelMismatch = errors.New("demand: value model disagrees with bidder valuation")
	// ErrNoValueModel is returned for bidders that cannot build a MIP.
	ErrNoValueModel = errors.New("demand: bidder has no value model")
)

// DefaultEpsilon is the tolerance used when a Request leaves it unset.
const DefaultEpsilon = 1e-4

// Request parametrizes a demand query.
type Request struct {
	// PoolSize is the number of bundles to return, best first. Defaults to 1.
	PoolSize int
	// Epsilon is the tolerance for utilities and for the model check.
	Epsilon float64
	// ProfitableOnly drops bundles whose utility is not above Epsilon.
	ProfitableOnly bool
	Params         mip.Params
}

func (r Request) withDefaults() Request {
	if r.PoolSize <= 0 {
		r.PoolSize = 1
	}
	if r.Epsilon <= 0 {
		r.Epsilon = DefaultEpsilon
	}
	return r
}

// Response is one demanded bundle.
type Response struct {
	Bundle  core.Bundle
	Value   decimal.Decimal
	Price   decimal.Decimal
	Utility decimal.Decimal
	// Gap is the reported optimality gap of the solve that found the bundle:
	// zero when it was optimal, at most 1.
	Gap float64
}

// Querier answers demand queries. Implementations must not modify prices.
type Querier interface {
	Demand(ctx context.Context, b world.Bidder, prices core.Prices, req Request) ([]Response, error)
}

// MIPQuerier builds the bidder's value model, subtracts the linear price
// and solves. Further pool entries are found by cutting off every bundle
// already returned and solving again.
type MIPQuerier struct {
	solver  mip.Solver
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a MIPQuerier.
type Option func(*MIPQuerier)

func WithLogger(l *zap.Logger) Option {
	return func(q *MIPQuerier) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *MIPQuerier) { q.metrics = m }
}

// NewMIPQuerier creates a querier over solver.
func NewMIPQuerier(solver mip.Solver, opts ...Option) *MIPQuerier {
	q := &MIPQuerier{solver: solver, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Demand implements Querier. The empty bundle is never returned.
func (q *MIPQuerier) Demand(ctx context.Context, b world.Bidder, prices core.Prices, req Request) ([]Response, error) {
	modeler, ok := b.(world.ValueModeler)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoValueModel, b.ID())
	}
	req = req.withDefaults()
	start := time.Now()
	defer func() {
		q.metrics.ObserveDemandQuery(b.Granularity().String(), time.Since(start))
	}()

	m := mip.NewModel("demand_" + b.ID())
	vm, err := modeler.BuildValueModel(m)
	if err != nil {
		return nil, fmt.Errorf("bidder %s: building value model: %w", b.ID(), err)
	}

	supply := b.World().Supply(b.Granularity())
	items := supply.Items()
	objective := vm.Value.Clone()
	nonEmpty := mip.NewExpr(0)
	for _, id := range items {
		v, ok := vm.Quantities[id]
		if !ok {
			return nil, fmt.Errorf("bidder %s: value model lacks item %s", b.ID(), id)
		}
		objective.AddTerm(v, -prices.Get(id).InexactFloat64())
		nonEmpty.AddTerm(v, 1)
	}
	m.SetObjective(objective, true)
	m.AddConstraint("non_empty", nonEmpty, mip.GreaterEqual, 1)

	responses := make([]Response, 0, req.PoolSize)
	for len(responses) < req.PoolSize {
		solveStart := time.Now()
		sol, err := q.solver.Solve(ctx, m, req.Params)
		if err != nil {
			return nil, fmt.Errorf("bidder %s: demand solve: %w", b.ID(), err)
		}
		q.metrics.ObserveSolve("demand", time.Since(solveStart), sol.Status == mip.Feasible)

		if !sol.HasIncumbent() {
			if sol.Status == mip.NoSolution && len(responses) == 0 {
				return nil, fmt.Errorf("bidder %s: %w", b.ID(), core.ErrSolverTimeout)
			}
			// Infeasible: every non-empty bundle was already returned.
			break
		}

		quantities := make(map[core.ItemID]int, len(items))
		for _, id := range items {
			quantities[id] = sol.Int(vm.Quantities[id])
		}
		bundle, err := core.BundleFromQuantities(quantities)
		if err != nil {
			return nil, err
		}

		value, err := b.CalculateValue(bundle)
		if err != nil {
			return nil, fmt.Errorf("bidder %s: valuing demanded bundle %s: %w", b.ID(), bundle, err)
		}
		price := prices.BundlePrice(bundle)
		utility := value.Sub(price)
		if diff := math.Abs(utility.InexactFloat64() - sol.Objective); diff > req.Epsilon*math.Max(1, math.Abs(sol.Objective)) {
			return nil, fmt.Errorf("%w: bidder %s, bundle %s: utility %s, model objective %.6f",
				ErrModelMismatch, b.ID(), bundle, utility.StringFixed(6), sol.Objective)
		}

		if req.ProfitableOnly && utility.InexactFloat64() <= req.Epsilon {
			break
		}

		responses = append(responses, Response{
			Bundle:  bundle,
			Value:   value,
			Price:   price,
			Utility: utility,
			Gap:     sol.ReportedGap(),
		})

		if len(responses) < req.PoolSize {
			excludeBundle(m, vm, items, supply, quantities, len(responses))
		}
	}

	q.logger.Debug("demand query answered",
		zap.String("bidder", b.ID()),
		zap.Int("bundles", len(responses)),
		zap.Duration("elapsed", time.Since(start)))
	return responses, nil
}

// excludeBundle adds a no-good cut: at least one quantity must differ from
// quantities. For every item an indicator forces the quantity below or
// above its current value.
func excludeBundle(m *mip.Model, vm *world.ValueModel, items []core.ItemID, supply core.Supply,
	quantities map[core.ItemID]int, cut int) {
	differs := mip.NewExpr(0)
	for _, id := range items {
		v := vm.Quantities[id]
		qStar := float64(quantities[id])
		upper := float64(supply[id])

		if qStar > 0 {
			down := m.AddBinary(fmt.Sprintf("cut%d_down_%s", cut, id))
			// down = 1 implies q <= q* - 1.
			m.AddConstraint(fmt.Sprintf("cut%d_down_%s", cut, id),
				mip.NewExpr(0).AddTerm(v, 1).AddTerm(down, upper-qStar+1), mip.LessEqual, upper)
			differs.AddTerm(down, 1)
		}
		if qStar < upper {
			up := m.AddBinary(fmt.Sprintf("cut%d_up_%s", cut, id))
			// up = 1 implies q >= q* + 1.
			m.AddConstraint(fmt.Sprintf("cut%d_up_%s", cut, id),
				mip.NewExpr(0).AddTerm(v, 1).AddTerm(up, -(qStar+1)), mip.GreaterEqual, 0)
			differs.AddTerm(up, 1)
		}
	}
	m.AddConstraint(fmt.Sprintf("cut%d", cut), differs, mip.GreaterEqual, 1)
}
