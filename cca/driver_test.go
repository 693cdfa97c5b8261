package cca

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/demand"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/world"
)

// mockQuerier answers demand queries through DemandFunc.
type mockQuerier struct {
	DemandFunc func(b world.Bidder, prices core.Prices, req demand.Request) ([]demand.Response, error)
	calls      atomic.Int64
}

func (m *mockQuerier) Demand(_ context.Context, b world.Bidder, prices core.Prices, req demand.Request) ([]demand.Response, error) {
	m.calls.Add(1)
	return m.DemandFunc(b, prices, req)
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func twoXORBidders(t *testing.T) (world.World, []world.Bidder) {
	t.Helper()
	w := world.NewGoodsWorld(2)
	values := []core.AtomicValue{
		{ID: 1, Bundle: core.BundleOf("g1", "g2"), Value: dec(10)},
		{ID: 2, Bundle: core.BundleOf("g1"), Value: dec(6)},
		{ID: 3, Bundle: core.BundleOf("g2"), Value: dec(6)},
	}
	b1, err := world.NewXORBidder("b1", w, core.GoodGranularity, values)
	assert.NoError(t, err)
	b2, err := world.NewXORBidder("b2", w, core.GoodGranularity, values)
	assert.NoError(t, err)
	return w, []world.Bidder{b1, b2}
}

func alwaysDemand(bundle core.Bundle) *mockQuerier {
	return &mockQuerier{
		DemandFunc: func(_ world.Bidder, prices core.Prices, _ demand.Request) ([]demand.Response, error) {
			return []demand.Response{{Bundle: bundle, Price: prices.BundlePrice(bundle)}}, nil
		},
	}
}

func TestDriver_RoundLimit(t *testing.T) {
	w, bidders := twoXORBidders(t)
	q := alwaysDemand(core.BundleOf("g1", "g2"))

	d, err := NewDriver(w, bidders, q, Config{MaxRounds: 5}, WithSupplementaryRounds())
	assert.NoError(t, err)

	res, err := d.Run(context.Background())
	assert.NoError(t, err)

	check.False(t, res.Converged)
	check.Equal(t, 5, res.Rounds)
	check.Equal(t, int64(10), q.calls.Load())
	check.Equal(t, 5, len(res.PriceHistory))
	for i := 1; i < len(res.PriceHistory); i++ {
		for id, p := range res.PriceHistory[i-1] {
			check.True(t, res.PriceHistory[i].Get(id).GreaterThanOrEqual(p))
		}
	}
	check.Equal(t, -1, res.Gap["g1"])
	check.Equal(t, StateDone, d.State())
}

func TestDriver_DedupesClockBidsKeepingMaximum(t *testing.T) {
	w, bidders := twoXORBidders(t)
	q := alwaysDemand(core.BundleOf("g1", "g2"))

	d, err := NewDriver(w, bidders, q, Config{MaxRounds: 3}, WithSupplementaryRounds())
	assert.NoError(t, err)
	res, err := d.Run(context.Background())
	assert.NoError(t, err)

	bid := res.Bids["b1"]
	assert.Equal(t, 1, len(bid.Values))
	// Prices 0 -> 1 -> 1.1 per good, the last clock price of the pair is 2.2.
	check.True(t, dec(2.2).Equal(bid.Values[0].Value))
	check.Equal(t, w.ID(), bid.WorldID)
}

func TestDriver_StalledUpdaterTerminates(t *testing.T) {
	w, bidders := twoXORBidders(t)
	stalled := PriceUpdaterFunc(func(p core.Prices, _ map[core.ItemID]int, _ core.Supply) (core.Prices, error) {
		return p, nil
	})

	d, err := NewDriver(w, bidders, alwaysDemand(core.BundleOf("g1")), Config{},
		WithPriceUpdater(stalled), WithSupplementaryRounds())
	assert.NoError(t, err)
	res, err := d.Run(context.Background())
	assert.NoError(t, err)

	check.False(t, res.Converged)
	check.Equal(t, 1, res.Rounds)
}

func TestDriver_DecreasingUpdaterIsClamped(t *testing.T) {
	w, bidders := twoXORBidders(t)
	var calls int
	weird := PriceUpdaterFunc(func(p core.Prices, _ map[core.ItemID]int, _ core.Supply) (core.Prices, error) {
		calls++
		p["g1"] = p.Get("g1").Add(dec(1))
		p["g2"] = dec(-5)
		return p, nil
	})

	d, err := NewDriver(w, bidders, alwaysDemand(core.BundleOf("g1")), Config{StartingPrice: dec(2), MaxRounds: 4},
		WithPriceUpdater(weird), WithSupplementaryRounds())
	assert.NoError(t, err)
	res, err := d.Run(context.Background())
	assert.NoError(t, err)

	check.Equal(t, 3, calls)
	check.True(t, dec(2).Equal(res.Prices.Get("g2")))
	check.True(t, dec(5).Equal(res.Prices.Get("g1")))
}

func TestDriver_QueryErrorAborts(t *testing.T) {
	w, bidders := twoXORBidders(t)
	boom := errors.New("solver crashed")
	q := &mockQuerier{DemandFunc: func(world.Bidder, core.Prices, demand.Request) ([]demand.Response, error) {
		return nil, boom
	}}

	d, err := NewDriver(w, bidders, q, Config{})
	assert.NoError(t, err)
	_, err = d.Run(context.Background())
	check.True(t, errors.Is(err, boom))
}

func TestDriver_RunsOnce(t *testing.T) {
	w, bidders := twoXORBidders(t)
	d, err := NewDriver(w, bidders, alwaysDemand(core.BundleOf("g1")), Config{MaxRounds: 1}, WithSupplementaryRounds())
	assert.NoError(t, err)
	check.Equal(t, StateInit, d.State())

	_, err = d.Run(context.Background())
	assert.NoError(t, err)
	_, err = d.Run(context.Background())
	check.Error(t, err)
}

func TestNewDriver_Validation(t *testing.T) {
	w, bidders := twoXORBidders(t)

	_, err := NewDriver(world.NewGoodsWorld(2), bidders, nil, Config{})
	check.True(t, errors.Is(err, core.ErrIncompatibleWorld))

	_, err = NewDriver(w, nil, nil, Config{})
	check.True(t, errors.Is(err, core.ErrInvalidInput))

	_, err = NewDriver(w, []world.Bidder{bidders[0], bidders[0]}, nil, Config{})
	check.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestDriver_EndToEnd(t *testing.T) {
	w, bidders := twoXORBidders(t)
	q := demand.NewMIPQuerier(mip.NewBranchAndBound())

	d, err := NewDriver(w, bidders, q, Config{StartingPrice: decimal.Zero, MaxRounds: 200})
	assert.NoError(t, err)
	res, err := d.Run(context.Background())
	assert.NoError(t, err)

	check.True(t, res.Converged)
	for id, s := range res.Supply {
		check.True(t, res.Demand[id] <= s)
		check.True(t, res.Gap[id] >= 0)
	}
	for i := 1; i < len(res.PriceHistory); i++ {
		for id, p := range res.PriceHistory[i-1] {
			check.True(t, res.PriceHistory[i].Get(id).GreaterThanOrEqual(p))
		}
	}

	// The supplementary round bids every bundle at its true value.
	for _, bid := range res.BidList() {
		v, ok := bid.ValueOf(core.BundleOf("g1", "g2"))
		check.True(t, ok)
		check.True(t, dec(10).Equal(v))
		v, ok = bid.ValueOf(core.BundleOf("g1"))
		check.True(t, ok)
		check.True(t, dec(6).Equal(v))
	}
}

func TestDriver_DemandGap(t *testing.T) {
	for _, tc := range []struct {
		name string
		gap  float64
		want float64
	}{
		{"optimal", 0, 0},
		{"limit", 0.25, 0.25},
		{"unknown bound", math.Inf(1), 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, bidders := twoXORBidders(t)
			q := &mockQuerier{DemandFunc: func(b world.Bidder, prices core.Prices, _ demand.Request) ([]demand.Response, error) {
				bundle := core.BundleOf("g1")
				if b.ID() == "b2" {
					bundle = core.BundleOf("g2")
				}
				return []demand.Response{{Bundle: bundle, Price: prices.BundlePrice(bundle), Gap: tc.gap}}, nil
			}}
			d, err := NewDriver(w, bidders, q, Config{MaxRounds: 3}, WithSupplementaryRounds())
			assert.NoError(t, err)

			res, err := d.Run(context.Background())
			assert.NoError(t, err)
			check.True(t, res.Converged)
			check.Equal(t, tc.want, res.DemandGap)
		})
	}
}

func TestDriver_SupplementaryRanking(t *testing.T) {
	pool := []demand.Response{
		{Bundle: core.BundleOf("g1"), Value: dec(6)},
		{Bundle: core.BundleOf("g1", "g2"), Value: dec(10)},
		{Bundle: core.BundleOf("g2"), Value: dec(6)},
		{Bundle: core.BundleOf("g1"), Value: dec(5)},
	}
	run := func(seed uint64) *core.Bid {
		w, bidders := twoXORBidders(t)
		q := &mockQuerier{DemandFunc: func(_ world.Bidder, _ core.Prices, req demand.Request) ([]demand.Response, error) {
			if req.PoolSize == 1 {
				return nil, nil
			}
			return pool, nil
		}}
		d, err := NewDriver(w, bidders, q, Config{MaxRounds: 1},
			WithSupplementaryRounds(ProfitMaximizingRound{PoolSize: 4}),
			WithRandSource(core.NewSeededRandSource(seed)))
		assert.NoError(t, err)
		res, err := d.Run(context.Background())
		assert.NoError(t, err)
		return res.Bids["b1"]
	}

	first, second := run(7), run(7)
	assert.Equal(t, 3, len(first.Values))
	check.True(t, core.BundleOf("g1", "g2").Equal(first.Values[0].Bundle))
	for i := range first.Values {
		check.True(t, first.Values[i].Bundle.Equal(second.Values[i].Bundle))
		check.True(t, first.Values[i].Value.Equal(second.Values[i].Value))
	}
	v, ok := first.ValueOf(core.BundleOf("g1"))
	check.True(t, ok)
	check.True(t, dec(6).Equal(v))
	check.True(t, first.Values[1].ID < first.Values[2].ID)
}
