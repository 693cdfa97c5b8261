// Package mechanism runs a complete combinatorial clock auction: clock
// phase, supplementary round, winner determination and payments.
package mechanism

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/cca"
	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/demand"
	"github.com/spectrumauctions/sats/metrics"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/wdp"
	"github.com/spectrumauctions/sats/world"
)

// Config selects the payment rule and the limits of every phase.
type Config struct {
	Rule              core.PaymentRule
	Auction           cca.Config
	Params            mip.Params
	ReservePrices     core.Prices
	MaxCoreIterations int
}

// Mechanism wires a solver into the clock auction and winner determination.
type Mechanism struct {
	solver     mip.Solver
	cfg        Config
	querier    demand.Querier
	ccaOptions []cca.Option
	logger     *zap.Logger
	metrics    *metrics.Metrics
	newRunID   func() string
}

type Option func(*Mechanism)

func WithLogger(l *zap.Logger) Option {
	return func(m *Mechanism) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mechanism) { m.metrics = mt }
}

// WithQuerier replaces the MIP demand querier built from the solver.
func WithQuerier(q demand.Querier) Option {
	return func(m *Mechanism) { m.querier = q }
}

// WithAuctionOptions passes options such as price updaters and
// supplementary rounds to the clock auction driver.
func WithAuctionOptions(opts ...cca.Option) Option {
	return func(m *Mechanism) { m.ccaOptions = append(m.ccaOptions, opts...) }
}

// WithRunIDs overrides how run ids are generated.
func WithRunIDs(f func() string) Option {
	return func(m *Mechanism) { m.newRunID = f }
}

// New creates a mechanism. An empty rule means CCG.
func New(solver mip.Solver, cfg Config, opts ...Option) *Mechanism {
	if cfg.Rule == "" {
		cfg.Rule = core.PaymentCCG
	}
	m := &Mechanism{
		solver:   solver,
		cfg:      cfg,
		logger:   zap.NewNop(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.querier == nil {
		m.querier = demand.NewMIPQuerier(solver, demand.WithLogger(m.logger), demand.WithMetrics(m.metrics))
	}
	return m
}

// Run auctions the supply of the bidders' world. The clock auction result is
// nil when the auction itself failed.
func (m *Mechanism) Run(ctx context.Context, bidders []world.Bidder) (*core.MechanismResult, *cca.Result) {
	runID := m.newRunID()
	logger := m.logger.With(zap.String("run_id", runID))

	if len(bidders) == 0 {
		return m.fail(runID, fmt.Errorf("%w: no bidders", core.ErrInvalidInput)), nil
	}
	w := bidders[0].World()

	opts := append([]cca.Option{cca.WithLogger(logger), cca.WithMetrics(m.metrics)}, m.ccaOptions...)
	auctionCfg := m.cfg.Auction
	auctionCfg.Params = m.cfg.Params
	driver, err := cca.NewDriver(w, bidders, m.querier, auctionCfg, opts...)
	if err != nil {
		return m.fail(runID, err), nil
	}
	auction, err := driver.Run(ctx)
	if err != nil {
		return m.fail(runID, fmt.Errorf("clock auction: %w", err)), nil
	}
	logger.Info("clock auction finished",
		zap.Int("rounds", auction.Rounds),
		zap.Bool("converged", auction.Converged),
		zap.Int("excess_supply", auction.ExcessSupply()),
		zap.Float64("demand_gap", auction.DemandGap))

	return m.settle(ctx, runID, auction.BidList(), auction.Supply, auction.DemandGap), auction
}

// RunBids determines winners and payments for bids collected elsewhere.
func (m *Mechanism) RunBids(ctx context.Context, bids []*core.Bid, supply core.Supply) *core.MechanismResult {
	return m.settle(ctx, m.newRunID(), bids, supply, 0)
}

// settle runs winner determination and payments. demandGap is the largest
// gap of the demand queries that produced the bids; the result is
// approximate when it or any winner determination gap is positive.
func (m *Mechanism) settle(ctx context.Context, runID string, bids []*core.Bid, supply core.Supply, demandGap float64) *core.MechanismResult {
	logger := m.logger.With(zap.String("run_id", runID))
	engine := wdp.New(m.solver,
		wdp.WithParams(m.cfg.Params),
		wdp.WithReservePrices(m.cfg.ReservePrices),
		wdp.WithMaxCoreIterations(m.cfg.MaxCoreIterations),
		wdp.WithLogger(logger),
		wdp.WithMetrics(m.metrics))

	res, err := engine.Run(ctx, bids, supply, m.cfg.Rule)
	if err != nil {
		return m.fail(runID, err)
	}

	gap := math.Max(res.Gap, demandGap)
	status := core.StatusExact
	if gap > 0 {
		status = core.StatusApproximate
	}
	out := &core.MechanismResult{
		RunID:        runID,
		Status:       status,
		Rule:         m.cfg.Rule,
		Allocation:   res.Allocation,
		Payments:     res.Payments,
		VCGPayments:  res.VCGPayments,
		Revenue:      res.Payments.Total(),
		Gap:          gap,
		BidSetDigest: core.ComputeBidSetDigest(bids),
	}
	m.metrics.IncrementMechanismRun(string(status), string(m.cfg.Rule))
	logger.Info("mechanism finished",
		zap.String("status", string(status)),
		zap.String("revenue", out.Revenue.String()),
		zap.String("bid_set_digest", out.BidSetDigest))
	return out
}

func (m *Mechanism) fail(runID string, err error) *core.MechanismResult {
	level := m.logger.Error
	if errors.Is(err, context.Canceled) {
		level = m.logger.Warn
	}
	level("mechanism failed", zap.String("run_id", runID), zap.Error(err))
	m.metrics.IncrementMechanismRun(string(core.StatusFailed), string(m.cfg.Rule))
	return core.FailedResult(runID, m.cfg.Rule, err)
}
