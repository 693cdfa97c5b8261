package cca

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/demand"
	"github.com/spectrumauctions/sats/mip"
)

func TestLastBidsTrueValueRound(t *testing.T) {
	_, bidders := twoXORBidders(t)
	in := SupplementaryInput{ClockBundles: []core.Bundle{
		core.BundleOf("g1", "g2"),
		core.BundleOf("g1"),
		core.EmptyBundle,
		core.BundleOf("g1"),
	}}

	values, err := LastBidsTrueValueRound{Rounds: 3}.Bids(context.Background(), bidders[0], in)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(values))
	check.True(t, core.BundleOf("g1").Equal(values[0].Bundle))
	check.True(t, dec(6).Equal(values[0].Value))

	all, err := LastBidsTrueValueRound{Rounds: 10}.Bids(context.Background(), bidders[0], in)
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))
}

func TestProfitMaximizingRound(t *testing.T) {
	_, bidders := twoXORBidders(t)
	in := SupplementaryInput{
		Prices:  core.Prices{"g1": dec(7), "g2": dec(7)},
		Querier: demand.NewMIPQuerier(mip.NewBranchAndBound()),
	}

	values, err := ProfitMaximizingRound{PoolSize: 2}.Bids(context.Background(), bidders[0], in)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(values))
	for _, v := range values {
		check.True(t, dec(6).Equal(v.Value))
	}
}

func TestDriver_SupplementaryMergesBids(t *testing.T) {
	w, bidders := twoXORBidders(t)
	d, err := NewDriver(w, bidders, alwaysDemand(core.BundleOf("g1")), Config{MaxRounds: 2},
		WithSupplementaryRounds(LastBidsTrueValueRound{Rounds: 1}))
	assert.NoError(t, err)

	res, err := d.Run(context.Background())
	assert.NoError(t, err)
	bid := res.Bids["b2"]
	assert.Equal(t, 1, len(bid.Values))
	check.True(t, dec(6).Equal(bid.Values[0].Value))
}
