package language

import (
	"errors"
	"slices"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/bundle"
	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/pwl"
	"github.com/spectrumauctions/sats/world"
)

func additiveBidder(t *testing.T, n int) world.Bidder {
	t.Helper()
	w := world.NewGoodsWorld(n)
	base := make(map[core.ItemID]decimal.Decimal)
	for _, g := range w.Goods() {
		base[g.ID] = decimal.NewFromInt(1)
	}
	b, err := world.NewSynergyBidder("b1", w, base, pwl.MustNew(pwl.Point{X: 0, Y: 0}, pwl.Point{X: float64(n), Y: 0}))
	assert.NoError(t, err)
	return b
}

func TestLanguage_SizeOrders(t *testing.T) {
	b := additiveBidder(t, 4)
	f := NewFactory()

	inc, err := f.New(b, SizeIncreasing)
	assert.NoError(t, err)
	dec, err := f.New(b, SizeDecreasing)
	assert.NoError(t, err)

	up := slices.Collect(inc.Bundles())
	down := slices.Collect(dec.Bundles())
	check.Equal(t, 15, len(up))
	check.Equal(t, 1, up[0].Size())
	check.Equal(t, 4, down[0].Size())
	for i := range up {
		check.True(t, up[i].Equal(down[len(down)-1-i]))
	}
}

func TestLanguage_ValuesCarryFactoryIDs(t *testing.T) {
	b := additiveBidder(t, 3)
	f := NewFactory()

	l1, err := f.New(b, SizeIncreasing)
	assert.NoError(t, err)
	l2, err := f.New(b, SizeDecreasing)
	assert.NoError(t, err)

	bid1, err := Collect(l1, 2)
	assert.NoError(t, err)
	bid2, err := Collect(l2, 2)
	assert.NoError(t, err)

	check.Equal(t, int64(1), bid1.Values[0].ID)
	check.Equal(t, int64(2), bid1.Values[1].ID)
	check.Equal(t, int64(3), bid2.Values[0].ID)
	check.True(t, decimal.NewFromInt(3).Equal(bid2.Values[0].Value))
	check.Equal(t, b.World().ID(), bid1.WorldID)

	other := NewFactory()
	l3, err := other.New(b, SizeIncreasing)
	assert.NoError(t, err)
	bid3, err := Collect(l3, 1)
	assert.NoError(t, err)
	check.Equal(t, int64(1), bid3.Values[0].ID)
}

func TestLanguage_RandomUnique(t *testing.T) {
	b := additiveBidder(t, 8)
	f := NewFactory()

	l, err := f.New(b, RandomUnique, WithSeed(11))
	assert.NoError(t, err)
	bid, err := Collect(l, 40)
	assert.NoError(t, err)
	check.Equal(t, 40, len(bid.Values))

	seen := make(map[string]bool)
	for _, v := range bid.Values {
		check.False(t, seen[v.Bundle.Key()])
		seen[v.Bundle.Key()] = true
	}

	again, err := f.New(b, RandomUnique, WithSeed(11))
	assert.NoError(t, err)
	first := slices.Collect(l.Bundles())
	second := slices.Collect(again.Bundles())
	check.Equal(t, len(first), len(second))
	for i := range first {
		check.True(t, first[i].Equal(second[i]))
	}
}

func TestLanguage_Generic(t *testing.T) {
	w, err := world.NewGenericWorld(map[core.ItemID]int{"A": 2, "B": 1})
	assert.NoError(t, err)
	b, err := world.NewGenericBidder("g", w, map[core.ItemID]*pwl.Function{
		"A": pwl.MustNew(pwl.Point{X: 0, Y: 0}, pwl.Point{X: 2, Y: 10}),
	})
	assert.NoError(t, err)
	f := NewFactory()

	l, err := f.New(b, SizeIncreasing)
	assert.NoError(t, err)
	bid, err := Collect(l, 0)
	assert.NoError(t, err)
	check.Equal(t, 5, len(bid.Values))
	check.Equal(t, 1, bid.Values[0].Bundle.Size())
	check.Equal(t, 3, bid.Values[4].Bundle.Size())
	check.True(t, decimal.NewFromInt(10).Equal(bid.Values[4].Value))

	r, err := f.New(b, RandomUnique, WithSeed(2))
	assert.NoError(t, err)
	seen := make(map[string]bool)
	for v, err := range r.Values() {
		assert.NoError(t, err)
		check.False(t, seen[v.Bundle.Key()])
		seen[v.Bundle.Key()] = true
	}
	check.Equal(t, 5, len(seen))
}

func TestFactory_RejectsUnsupported(t *testing.T) {
	b := additiveBidder(t, 2)
	_, err := NewFactory().New(b, Type(42))
	check.True(t, errors.Is(err, core.ErrUnsupportedBiddingLanguage))

	_, err = ParseType("alphabetical")
	check.True(t, errors.Is(err, core.ErrUnsupportedBiddingLanguage))

	typ, err := ParseType("size_decreasing")
	check.NoError(t, err)
	check.Equal(t, SizeDecreasing, typ)
}

type genericOnEmptyWorld struct{ world.Bidder }

func (genericOnEmptyWorld) Granularity() core.Granularity { return core.GenericGranularity }

func TestFactory_RejectsGenericWithoutDefinitions(t *testing.T) {
	b := genericOnEmptyWorld{Bidder: additiveBidder(t, 2)}
	_, err := NewFactory().New(b, SizeIncreasing)
	check.True(t, errors.Is(err, core.ErrUnsupportedBiddingLanguage))
}

func TestFactory_CollectAll(t *testing.T) {
	w := world.NewGoodsWorld(3)
	base := map[core.ItemID]decimal.Decimal{"g1": decimal.NewFromInt(1), "g2": decimal.NewFromInt(2), "g3": decimal.NewFromInt(3)}
	flat := pwl.MustNew(pwl.Point{X: 0, Y: 0}, pwl.Point{X: 3, Y: 0})
	var bidders []world.Bidder
	for _, id := range []string{"b1", "b2"} {
		b, err := world.NewSynergyBidder(id, w, base, flat)
		assert.NoError(t, err)
		bidders = append(bidders, b)
	}

	bids, err := NewFactory().CollectAll(bidders, SizeDecreasing, 2, bundle.RandomConfig{})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, "b1", bids[0].BidderID)
	check.Equal(t, 2, len(bids[1].Values))
	check.True(t, decimal.NewFromInt(6).Equal(bids[0].Values[0].Value))
	check.Equal(t, int64(3), bids[1].Values[0].ID)

	random, err := NewFactory().CollectAll(bidders, RandomUnique, 0, bundle.RandomConfig{Seed: 9})
	assert.NoError(t, err)
	check.Equal(t, 7, len(random[0].Values))
	check.Equal(t, 7, len(random[1].Values))
}
