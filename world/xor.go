package world

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/mip"
)

// XORBidder values bundles through an explicit list of atomic values with
// free disposal: a bundle is worth the best atomic value it contains.
type XORBidder struct {
	id     string
	world  World
	gran   core.Granularity
	values []core.AtomicValue
}

// NewXORBidder validates every atomic bundle against the world's supply.
func NewXORBidder(id string, w World, g core.Granularity, values []core.AtomicValue) (*XORBidder, error) {
	supply := w.Supply(g)
	for _, v := range values {
		if err := CheckBundle(supply, v.Bundle); err != nil {
			return nil, fmt.Errorf("bidder %s: atomic value %d: %w", id, v.ID, err)
		}
		if v.Value.IsNegative() {
			return nil, fmt.Errorf("%w: bidder %s: negative value on atomic value %d", core.ErrInvalidInput, id, v.ID)
		}
	}
	c := make([]core.AtomicValue, len(values))
	copy(c, values)
	return &XORBidder{id: id, world: w, gran: g, values: c}, nil
}

func (b *XORBidder) ID() string                    { return b.id }
func (b *XORBidder) World() World                  { return b.world }
func (b *XORBidder) Granularity() core.Granularity { return b.gran }

// AtomicValues returns a copy of the bidder's atomic values.
func (b *XORBidder) AtomicValues() []core.AtomicValue {
	c := make([]core.AtomicValue, len(b.values))
	copy(c, b.values)
	return c
}

func (b *XORBidder) CalculateValue(bundle core.Bundle) (decimal.Decimal, error) {
	if err := CheckBundle(b.world.Supply(b.gran), bundle); err != nil {
		return decimal.Zero, err
	}
	best := decimal.Zero
	for _, v := range b.values {
		if bundle.Contains(v.Bundle) && v.Value.GreaterThan(best) {
			best = v.Value
		}
	}
	return best, nil
}

// BuildValueModel adds one binary per atomic value, at most one of which
// is chosen; quantities equal those of the chosen bundle.
func (b *XORBidder) BuildValueModel(m *mip.Model) (*ValueModel, error) {
	supply := b.world.Supply(b.gran)
	vm := &ValueModel{
		Quantities: make(map[core.ItemID]mip.Var, len(supply)),
		Value:      mip.NewExpr(0),
	}

	link := make(map[core.ItemID]*mip.Expr, len(supply))
	for _, id := range supply.Items() {
		q := m.AddVar(fmt.Sprintf("%s_q_%s", b.id, id), mip.Integer, 0, float64(supply[id]))
		vm.Quantities[id] = q
		link[id] = mip.NewExpr(0).AddTerm(q, 1)
	}

	choose := mip.NewExpr(0)
	for _, v := range b.values {
		x := m.AddBinary(fmt.Sprintf("%s_x_%d", b.id, v.ID))
		choose.AddTerm(x, 1)
		vm.Value.AddTerm(x, v.Value.InexactFloat64())
		for _, id := range v.Bundle.Items() {
			link[id].AddTerm(x, -float64(v.Bundle.Quantity(id)))
		}
	}
	m.AddConstraint(b.id+"_xor", choose, mip.LessEqual, 1)
	for _, id := range supply.Items() {
		m.AddConstraint(fmt.Sprintf("%s_link_%s", b.id, id), link[id], mip.Equal, 0)
	}
	return vm, nil
}
