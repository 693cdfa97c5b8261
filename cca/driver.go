// Package cca runs the combinatorial clock auction: ascending linear prices
// discover demand, bids are collected along the way and completed by
// supplementary rounds.
package cca

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/demand"
	"github.com/spectrumauctions/sats/language"
	"github.com/spectrumauctions/sats/metrics"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/world"
)

// State of a Driver.
type State int

const (
	StateInit State = iota
	StateClockRound
	StateSupplementary
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateClockRound:
		return "CLOCK_ROUND"
	case StateSupplementary:
		return "SUPPLEMENTARY"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	DefaultMaxRounds = 100
	DefaultWorkers   = 4
)

// Config of a clock auction.
type Config struct {
	StartingPrice decimal.Decimal
	// StartingPrices override StartingPrice per item.
	StartingPrices core.Prices
	MaxRounds      int
	// Workers bounds concurrent demand queries within a round.
	Workers int
	Epsilon float64
	Params  mip.Params
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Epsilon <= 0 {
		c.Epsilon = demand.DefaultEpsilon
	}
	return c
}

// Result of a finished clock auction.
type Result struct {
	Prices core.Prices
	Supply core.Supply
	// Demand is the aggregate demand at the final clock prices.
	Demand map[core.ItemID]int
	// Gap is supply minus demand per item.
	Gap map[core.ItemID]int
	// Bids holds the de-duplicated bids per bidder.
	Bids         map[string]*core.Bid
	PriceHistory []core.Prices
	Rounds       int
	Converged    bool
	// DemandGap is the largest optimality gap of any demand query answer,
	// capped at 1. Zero when every demand solve was optimal.
	DemandGap float64
}

// BidList returns the bids ordered by bidder id.
func (r *Result) BidList() []*core.Bid {
	ids := make([]string, 0, len(r.Bids))
	for id := range r.Bids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	bids := make([]*core.Bid, 0, len(ids))
	for _, id := range ids {
		bids = append(bids, r.Bids[id])
	}
	return bids
}

// ExcessSupply sums the gap over all items.
func (r *Result) ExcessSupply() int {
	total := 0
	for _, g := range r.Gap {
		total += g
	}
	return total
}

// Driver runs one clock auction over a fixed set of bidders.
type Driver struct {
	world         world.World
	bidders       []world.Bidder
	querier       demand.Querier
	updater       PriceUpdater
	supplementary []SupplementaryRound
	ids           *language.Factory
	rand          core.RandSource
	cfg           Config
	granularity   core.Granularity
	logger        *zap.Logger
	metrics       *metrics.Metrics

	mu    sync.Mutex
	state State
}

// Option configures a Driver.
type Option func(*Driver)

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithPriceUpdater replaces the default RelativePriceUpdater.
func WithPriceUpdater(u PriceUpdater) Option {
	return func(d *Driver) { d.updater = u }
}

// WithSupplementaryRounds replaces the default single profit-maximizing
// round. No rounds disables the supplementary phase.
func WithSupplementaryRounds(rounds ...SupplementaryRound) Option {
	return func(d *Driver) { d.supplementary = rounds }
}

// WithIDFactory shares an atomic value id counter with other components.
func WithIDFactory(f *language.Factory) Option {
	return func(d *Driver) { d.ids = f }
}

// WithRandSource sets the source that orders equally valued supplementary
// bids. The default draws from crypto/rand.
func WithRandSource(r core.RandSource) Option {
	return func(d *Driver) {
		if r != nil {
			d.rand = r
		}
	}
}

// NewDriver checks that all bidders live in w and share one granularity.
func NewDriver(w world.World, bidders []world.Bidder, querier demand.Querier, cfg Config, opts ...Option) (*Driver, error) {
	if len(bidders) == 0 {
		return nil, fmt.Errorf("%w: clock auction without bidders", core.ErrInvalidInput)
	}
	if err := world.SameWorld(w, bidders); err != nil {
		return nil, err
	}
	gran := bidders[0].Granularity()
	seen := make(map[string]bool, len(bidders))
	for _, b := range bidders {
		if b.Granularity() != gran {
			return nil, fmt.Errorf("%w: bidders mix %s and %s granularity", core.ErrInvalidInput, gran, b.Granularity())
		}
		if seen[b.ID()] {
			return nil, fmt.Errorf("%w: duplicate bidder %s", core.ErrInvalidInput, b.ID())
		}
		seen[b.ID()] = true
	}

	d := &Driver{
		world:         w,
		bidders:       bidders,
		querier:       querier,
		updater:       NewRelativePriceUpdater(),
		supplementary: []SupplementaryRound{ProfitMaximizingRound{PoolSize: 10}},
		ids:           language.NewFactory(),
		rand:          core.CryptoRandSource{},
		cfg:           cfg.withDefaults(),
		granularity:   gran,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current state. Safe to call while Run is in progress.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// bidSet keeps the highest atomic value per bundle in first-seen order.
type bidSet struct {
	bid   *core.Bid
	index map[string]int
}

func newBidSet(bidderID, worldID string) *bidSet {
	return &bidSet{bid: core.NewBid(bidderID, worldID), index: make(map[string]int)}
}

// add returns true if v was new or strictly better than the stored value.
func (s *bidSet) add(v core.AtomicValue) bool {
	key := v.Bundle.Key()
	if i, ok := s.index[key]; ok {
		if v.Value.GreaterThan(s.bid.Values[i].Value) {
			s.bid.Values[i] = v
			return true
		}
		return false
	}
	s.index[key] = len(s.bid.Values)
	s.bid.Add(v)
	return true
}

// Run executes INIT, the clock rounds, the supplementary rounds and returns
// the DONE state. A Driver runs once.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if d.State() != StateInit {
		return nil, fmt.Errorf("cca: driver already ran (state %s)", d.State())
	}

	supply := d.world.Supply(d.granularity)
	prices := core.NewPrices(supply, d.cfg.StartingPrice)
	for id, p := range d.cfg.StartingPrices {
		if _, ok := supply[id]; ok {
			prices[id] = p
		}
	}
	bids := make([]*bidSet, len(d.bidders))
	for i, b := range d.bidders {
		bids[i] = newBidSet(b.ID(), d.world.ID())
	}
	clockBundles := make([][]core.Bundle, len(d.bidders))
	querier := &gapRecorder{Querier: d.querier}

	res := &Result{
		Supply:       supply,
		PriceHistory: []core.Prices{prices.Clone()},
	}

	d.setState(StateClockRound)
	var aggregate map[core.ItemID]int
	for round := 1; ; round++ {
		snapshot := prices.Clone()
		demanded, err := d.clockRound(ctx, querier, snapshot)
		if err != nil {
			return nil, fmt.Errorf("clock round %d: %w", round, err)
		}
		res.Rounds = round

		aggregate = make(map[core.ItemID]int, len(supply))
		for i, b := range demanded {
			clockBundles[i] = append(clockBundles[i], b)
			if b.IsEmpty() {
				continue
			}
			bids[i].add(core.AtomicValue{ID: d.ids.NextID(), Bundle: b, Value: snapshot.BundlePrice(b)})
			for id, q := range b.Quantities() {
				aggregate[id] += q
			}
		}

		over := 0
		for _, id := range supply.Items() {
			if aggregate[id] > supply[id] {
				over++
			}
		}
		d.logger.Info("clock round finished",
			zap.Int("round", round),
			zap.Int("overdemanded", over),
			zap.String("prices_hash", core.ComputePricesHash(snapshot, "")))

		if over == 0 {
			res.Converged = true
			d.metrics.IncrementClockRound("cleared")
			break
		}
		if round >= d.cfg.MaxRounds {
			d.metrics.IncrementClockRound("limit")
			d.logger.Warn("clock auction hit round limit", zap.Int("rounds", round))
			break
		}

		next, err := d.updater.UpdatePrices(snapshot.Clone(), aggregate, supply)
		if err != nil {
			return nil, fmt.Errorf("clock round %d: price update: %w", round, err)
		}
		raised := false
		committed := make(core.Prices, len(supply))
		for _, id := range supply.Items() {
			p := decimal.Max(next.Get(id), prices.Get(id))
			if aggregate[id] > supply[id] && p.GreaterThan(prices.Get(id)) {
				raised = true
			}
			committed[id] = p
		}
		if !raised {
			d.metrics.IncrementClockRound("stalled")
			d.logger.Warn("price update raised no over-demanded price, stopping", zap.Int("round", round))
			break
		}
		prices = committed
		d.metrics.IncrementClockRound("raised")
		res.PriceHistory = append(res.PriceHistory, prices.Clone())
	}

	d.setState(StateSupplementary)
	if err := d.supplementaryRounds(ctx, querier, prices.Clone(), clockBundles, bids); err != nil {
		return nil, err
	}

	res.Prices = prices
	res.Demand = aggregate
	res.Gap = make(map[core.ItemID]int, len(supply))
	for id, s := range supply {
		res.Gap[id] = s - aggregate[id]
	}
	res.Bids = make(map[string]*core.Bid, len(bids))
	for _, s := range bids {
		res.Bids[s.bid.BidderID] = s.bid
	}
	res.DemandGap = querier.Gap()
	if res.DemandGap > 0 {
		d.logger.Warn("demand queries stopped at a solver limit", zap.Float64("demand_gap", res.DemandGap))
	}

	d.setState(StateDone)
	d.logger.Info("clock auction done",
		zap.Int("rounds", res.Rounds),
		zap.Bool("converged", res.Converged),
		zap.Int("excess_supply", res.ExcessSupply()))
	return res, nil
}

// clockRound queries every bidder at the snapshot prices and waits for all
// answers. Slot i holds bidder i's demanded bundle.
func (d *Driver) clockRound(ctx context.Context, querier demand.Querier, snapshot core.Prices) ([]core.Bundle, error) {
	demanded := make([]core.Bundle, len(d.bidders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, b := range d.bidders {
		g.Go(func() error {
			resp, err := querier.Demand(gctx, b, snapshot, demand.Request{
				PoolSize:       1,
				Epsilon:        d.cfg.Epsilon,
				ProfitableOnly: true,
				Params:         d.cfg.Params,
			})
			if err != nil {
				return err
			}
			if len(resp) > 0 {
				demanded[i] = resp[0].Bundle
			} else {
				demanded[i] = core.EmptyBundle
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return demanded, nil
}

func (d *Driver) supplementaryRounds(ctx context.Context, querier demand.Querier, prices core.Prices, clockBundles [][]core.Bundle, bids []*bidSet) error {
	for _, round := range d.supplementary {
		results := make([][]core.AtomicValue, len(d.bidders))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.cfg.Workers)
		for i, b := range d.bidders {
			g.Go(func() error {
				values, err := round.Bids(gctx, b, SupplementaryInput{
					Prices:       prices,
					ClockBundles: clockBundles[i],
					Querier:      querier,
					Request:      demand.Request{Epsilon: d.cfg.Epsilon, Params: d.cfg.Params},
				})
				if err != nil {
					return fmt.Errorf("supplementary round %s: %w", round.Name(), err)
				}
				results[i] = values
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		added := 0
		for i, values := range results {
			for _, v := range core.RankAtomicValues(values, d.rand).Values {
				v.ID = d.ids.NextID()
				if bids[i].add(v) {
					added++
				}
			}
		}
		d.logger.Info("supplementary round finished", zap.String("round", round.Name()), zap.Int("new_bids", added))
	}
	return nil
}

// gapRecorder passes demand queries on and keeps the largest gap seen.
type gapRecorder struct {
	demand.Querier

	mu  sync.Mutex
	gap float64
}

func (r *gapRecorder) Demand(ctx context.Context, b world.Bidder, prices core.Prices, req demand.Request) ([]demand.Response, error) {
	resp, err := r.Querier.Demand(ctx, b, prices, req)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range resp {
		g := x.Gap
		if math.IsNaN(g) || g > 1 {
			g = 1
		}
		r.gap = math.Max(r.gap, g)
	}
	return resp, err
}

func (r *gapRecorder) Gap() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gap
}
