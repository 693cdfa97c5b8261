package cca

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
)

// PriceUpdater computes the next clock prices. Implementations receive a
// copy of the current prices and may return it modified.
type PriceUpdater interface {
	UpdatePrices(prices core.Prices, demand map[core.ItemID]int, supply core.Supply) (core.Prices, error)
}

// PriceUpdaterFunc adapts a function to PriceUpdater.
type PriceUpdaterFunc func(prices core.Prices, demand map[core.ItemID]int, supply core.Supply) (core.Prices, error)

func (f PriceUpdaterFunc) UpdatePrices(prices core.Prices, demand map[core.ItemID]int, supply core.Supply) (core.Prices, error) {
	return f(prices, demand, supply)
}

func overDemanded(id core.ItemID, demand map[core.ItemID]int, supply core.Supply) bool {
	return demand[id] > supply[id]
}

// RelativePriceUpdater raises every over-demanded price by Increment
// (a fraction of the current price). Zero prices are set to ConstantOnZero.
// Raised prices round up at MonetaryPrecision so tiny prices still move.
type RelativePriceUpdater struct {
	Increment      decimal.Decimal
	ConstantOnZero decimal.Decimal
}

// NewRelativePriceUpdater returns the default policy: +10%, 1 on zero prices.
func NewRelativePriceUpdater() *RelativePriceUpdater {
	return &RelativePriceUpdater{
		Increment:      decimal.NewFromFloat(0.1),
		ConstantOnZero: decimal.NewFromInt(1),
	}
}

func (u *RelativePriceUpdater) UpdatePrices(prices core.Prices, demand map[core.ItemID]int, supply core.Supply) (core.Prices, error) {
	if !u.Increment.IsPositive() || !u.ConstantOnZero.IsPositive() {
		return nil, fmt.Errorf("%w: relative price update needs positive increment and constant", core.ErrInvalidInput)
	}
	factor := decimal.NewFromInt(1).Add(u.Increment)
	for _, id := range supply.Items() {
		if !overDemanded(id, demand, supply) {
			continue
		}
		p := prices.Get(id)
		if p.IsZero() {
			prices[id] = u.ConstantOnZero
			continue
		}
		prices[id] = p.Mul(factor).RoundCeil(core.MonetaryPrecision)
	}
	return prices, nil
}

// DoublingPriceUpdater adds InitialIncrement the first time an item is
// over-demanded and doubles its price on every later over-demand.
type DoublingPriceUpdater struct {
	InitialIncrement decimal.Decimal
	raised           map[core.ItemID]bool
}

func NewDoublingPriceUpdater(initial decimal.Decimal) *DoublingPriceUpdater {
	return &DoublingPriceUpdater{InitialIncrement: initial, raised: make(map[core.ItemID]bool)}
}

func (u *DoublingPriceUpdater) UpdatePrices(prices core.Prices, demand map[core.ItemID]int, supply core.Supply) (core.Prices, error) {
	if !u.InitialIncrement.IsPositive() {
		return nil, fmt.Errorf("%w: doubling price update needs a positive initial increment", core.ErrInvalidInput)
	}
	if u.raised == nil {
		u.raised = make(map[core.ItemID]bool)
	}
	for _, id := range supply.Items() {
		if !overDemanded(id, demand, supply) {
			continue
		}
		p := prices.Get(id)
		if !u.raised[id] || p.IsZero() {
			prices[id] = p.Add(u.InitialIncrement)
			u.raised[id] = true
			continue
		}
		prices[id] = p.Mul(decimal.NewFromInt(2))
	}
	return prices, nil
}

// DemandDependentPriceUpdater raises a price by Rate times the relative
// excess demand (d-s)/s, scaled by the current price, or by Base while the
// price is below Base. Every raise is at least MinIncrement.
type DemandDependentPriceUpdater struct {
	Rate         decimal.Decimal
	Base         decimal.Decimal
	MinIncrement decimal.Decimal
}

func NewDemandDependentPriceUpdater() *DemandDependentPriceUpdater {
	return &DemandDependentPriceUpdater{
		Rate:         decimal.NewFromFloat(0.1),
		Base:         decimal.NewFromInt(1),
		MinIncrement: decimal.NewFromFloat(0.01),
	}
}

func (u *DemandDependentPriceUpdater) UpdatePrices(prices core.Prices, demand map[core.ItemID]int, supply core.Supply) (core.Prices, error) {
	if !u.Rate.IsPositive() || !u.MinIncrement.IsPositive() {
		return nil, fmt.Errorf("%w: demand-dependent price update needs positive rate and minimum increment", core.ErrInvalidInput)
	}
	for _, id := range supply.Items() {
		if !overDemanded(id, demand, supply) {
			continue
		}
		s := supply[id]
		excess := decimal.NewFromInt(int64(demand[id] - s))
		if s > 0 {
			excess = excess.Div(decimal.NewFromInt(int64(s)))
		}
		p := prices.Get(id)
		scale := decimal.Max(p, u.Base)
		step := decimal.Max(u.MinIncrement, core.RoundMoney(u.Rate.Mul(excess).Mul(scale)))
		prices[id] = p.Add(step)
	}
	return prices, nil
}
