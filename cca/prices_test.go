package cca

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
)

func TestRelativePriceUpdater(t *testing.T) {
	u := NewRelativePriceUpdater()
	supply := core.Supply{"a": 1, "b": 2, "c": 1}
	prices := core.Prices{"a": dec(10), "b": dec(10), "c": decimal.Zero}

	got, err := u.UpdatePrices(prices, map[core.ItemID]int{"a": 2, "b": 2, "c": 3}, supply)
	assert.NoError(t, err)

	check.True(t, dec(11).Equal(got.Get("a")))
	check.True(t, dec(10).Equal(got.Get("b")))
	check.True(t, dec(1).Equal(got.Get("c")))
}

func TestDoublingPriceUpdater(t *testing.T) {
	u := NewDoublingPriceUpdater(dec(3))
	supply := core.Supply{"a": 1}
	over := map[core.ItemID]int{"a": 2}

	p := core.Prices{"a": dec(1)}
	steps := []float64{4, 8, 16}
	for _, want := range steps {
		var err error
		p, err = u.UpdatePrices(p, over, supply)
		assert.NoError(t, err)
		check.True(t, dec(want).Equal(p.Get("a")))
	}

	_, err := NewDoublingPriceUpdater(decimal.Zero).UpdatePrices(core.Prices{}, over, supply)
	check.Error(t, err)
}

func TestDemandDependentPriceUpdater(t *testing.T) {
	u := NewDemandDependentPriceUpdater()
	supply := core.Supply{"a": 2, "b": 2, "c": 2}
	prices := core.Prices{"a": dec(10), "b": dec(10), "c": decimal.Zero}

	got, err := u.UpdatePrices(prices, map[core.ItemID]int{"a": 6, "b": 3, "c": 4}, supply)
	assert.NoError(t, err)

	// a: excess 2 -> 10 + 0.1*2*10
	check.True(t, dec(12).Equal(got.Get("a")))
	// b: excess 0.5 -> 10 + 0.1*0.5*10
	check.True(t, dec(10.5).Equal(got.Get("b")))
	// c: zero price scales by base 1 -> 0.1
	check.True(t, dec(0.1).Equal(got.Get("c")))
}

func TestUpdatersAreMonotone(t *testing.T) {
	supply := core.Supply{"a": 1, "b": 1}
	demand := map[core.ItemID]int{"a": 3, "b": 0}
	for _, u := range []PriceUpdater{NewRelativePriceUpdater(), NewDoublingPriceUpdater(dec(1)), NewDemandDependentPriceUpdater()} {
		p := core.Prices{"a": dec(0.5), "b": dec(0.5)}
		for i := 0; i < 5; i++ {
			before := p.Clone()
			next, err := u.UpdatePrices(p.Clone(), demand, supply)
			assert.NoError(t, err)
			check.True(t, next.Get("a").GreaterThan(before.Get("a")))
			check.True(t, next.Get("b").Equal(before.Get("b")))
			p = next
		}
	}
}

func TestRelativePriceUpdater_TinyPrices(t *testing.T) {
	u := NewRelativePriceUpdater()
	supply := core.Supply{"a": 1}
	over := map[core.ItemID]int{"a": 2}

	p := core.Prices{"a": dec(0.0001)}
	for i := 0; i < 5; i++ {
		before := p.Get("a")
		next, err := u.UpdatePrices(p.Clone(), over, supply)
		assert.NoError(t, err)
		check.True(t, next.Get("a").GreaterThan(before))
		p = next
	}
	// 0.0001 -> 0.0002 -> 0.0003 -> 0.0004 -> 0.0005 -> 0.0006
	check.True(t, dec(0.0006).Equal(p.Get("a")))
}
