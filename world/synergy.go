package world

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/pwl"
)

// SynergyBidder values a bundle of goods as the sum of per-good base values
// plus a piecewise-linear synergy bonus on the number of goods.
type SynergyBidder struct {
	id      string
	world   World
	base    map[core.ItemID]decimal.Decimal
	synergy *pwl.Function
}

// NewSynergyBidder requires a base value for every good it names and a
// synergy function defined on [0, number of goods].
func NewSynergyBidder(id string, w World, base map[core.ItemID]decimal.Decimal, synergy *pwl.Function) (*SynergyBidder, error) {
	supply := w.Supply(core.GoodGranularity)
	for gid, v := range base {
		if _, ok := supply[gid]; !ok {
			return nil, fmt.Errorf("bidder %s: %w: good %s", id, core.ErrIncompatibleWorld, gid)
		}
		if v.IsNegative() {
			return nil, fmt.Errorf("%w: bidder %s: negative base value for %s", core.ErrInvalidInput, id, gid)
		}
	}
	lo, hi := synergy.Domain()
	if lo > 0 || hi < float64(len(supply)) {
		return nil, fmt.Errorf("%w: bidder %s: synergy domain [%v, %v] does not cover [0, %d]",
			core.ErrInvalidInput, id, lo, hi, len(supply))
	}
	c := make(map[core.ItemID]decimal.Decimal, len(base))
	for gid, v := range base {
		c[gid] = v
	}
	return &SynergyBidder{id: id, world: w, base: c, synergy: synergy}, nil
}

func (b *SynergyBidder) ID() string                    { return b.id }
func (b *SynergyBidder) World() World                  { return b.world }
func (b *SynergyBidder) Granularity() core.Granularity { return core.GoodGranularity }

func (b *SynergyBidder) CalculateValue(bundle core.Bundle) (decimal.Decimal, error) {
	if err := CheckBundle(b.world.Supply(core.GoodGranularity), bundle); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, gid := range bundle.Items() {
		total = total.Add(b.base[gid])
	}
	bonus, err := b.synergy.EvaluateDecimal(float64(bundle.Size()))
	if err != nil {
		return decimal.Zero, err
	}
	return total.Add(bonus), nil
}

// BuildValueModel adds a binary per good, the bundle size and the encoded
// synergy curve.
func (b *SynergyBidder) BuildValueModel(m *mip.Model) (*ValueModel, error) {
	supply := b.world.Supply(core.GoodGranularity)
	vm := &ValueModel{
		Quantities: make(map[core.ItemID]mip.Var, len(supply)),
		Value:      mip.NewExpr(0),
	}

	size := m.AddVar(b.id+"_size", mip.Integer, 0, float64(len(supply)))
	sizeExpr := mip.NewExpr(0).AddTerm(size, -1)
	for _, gid := range supply.Items() {
		x := m.AddBinary(fmt.Sprintf("%s_q_%s", b.id, gid))
		vm.Quantities[gid] = x
		sizeExpr.AddTerm(x, 1)
		vm.Value.AddTerm(x, b.base[gid].InexactFloat64())
	}
	m.AddConstraint(b.id+"_size", sizeExpr, mip.Equal, 0)

	lo, hi := b.synergy.Range()
	bonus := m.AddVar(b.id+"_synergy", mip.Continuous, lo, hi)
	pwl.Encode(m, b.synergy, size, bonus, b.id+"_syn")
	vm.Value.AddTerm(bonus, 1)
	return vm, nil
}
