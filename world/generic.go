package world

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/mip"
	"github.com/spectrumauctions/sats/pwl"
)

// GenericBidder values quantities of generic definitions: the value of a
// bundle is the sum over definitions of a piecewise-linear curve of the
// quantity held.
type GenericBidder struct {
	id     string
	world  World
	curves map[core.ItemID]*pwl.Function
}

// NewGenericBidder requires every curve to cover [0, availability] of its
// definition. Definitions without a curve are worth nothing.
func NewGenericBidder(id string, w World, curves map[core.ItemID]*pwl.Function) (*GenericBidder, error) {
	supply := w.Supply(core.GenericGranularity)
	if len(supply) == 0 {
		return nil, fmt.Errorf("%w: bidder %s: world %s has no generic definitions",
			core.ErrIncompatibleWorld, id, w.ID())
	}
	c := make(map[core.ItemID]*pwl.Function, len(curves))
	for d, f := range curves {
		avail, ok := supply[d]
		if !ok {
			return nil, fmt.Errorf("bidder %s: %w: definition %s", id, core.ErrIncompatibleWorld, d)
		}
		lo, hi := f.Domain()
		if lo > 0 || hi < float64(avail) {
			return nil, fmt.Errorf("%w: bidder %s: curve for %s does not cover [0, %d]",
				core.ErrInvalidInput, id, d, avail)
		}
		c[d] = f
	}
	return &GenericBidder{id: id, world: w, curves: c}, nil
}

func (b *GenericBidder) ID() string                    { return b.id }
func (b *GenericBidder) World() World                  { return b.world }
func (b *GenericBidder) Granularity() core.Granularity { return core.GenericGranularity }

func (b *GenericBidder) CalculateValue(bundle core.Bundle) (decimal.Decimal, error) {
	if err := CheckBundle(b.world.Supply(core.GenericGranularity), bundle); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for d, f := range b.curves {
		v, err := f.EvaluateDecimal(float64(bundle.Quantity(d)))
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// BuildValueModel adds an integer quantity per definition and encodes its curve.
func (b *GenericBidder) BuildValueModel(m *mip.Model) (*ValueModel, error) {
	supply := b.world.Supply(core.GenericGranularity)
	vm := &ValueModel{
		Quantities: make(map[core.ItemID]mip.Var, len(supply)),
		Value:      mip.NewExpr(0),
	}
	for _, d := range supply.Items() {
		q := m.AddVar(fmt.Sprintf("%s_q_%s", b.id, d), mip.Integer, 0, float64(supply[d]))
		vm.Quantities[d] = q

		f, ok := b.curves[d]
		if !ok {
			continue
		}
		lo, hi := f.Range()
		out := m.AddVar(fmt.Sprintf("%s_v_%s", b.id, d), mip.Continuous, lo, hi)
		pwl.Encode(m, f, q, out, fmt.Sprintf("%s_%s", b.id, d))
		vm.Value.AddTerm(out, 1)
	}
	return vm, nil
}
