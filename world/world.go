// Package world defines the read-only universe of goods and the bidders the
// engine queries, plus in-memory reference implementations of both.
package world

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/mip"
)

// World is an enumerable universe of goods grouped into generic definitions.
type World interface {
	ID() string
	Goods() []core.Good
	GenericDefinitions() []core.GenericDefinition
	// Supply returns the availability of every item at the granularity.
	Supply(g core.Granularity) core.Supply
}

// Bidder values bundles of one World.
type Bidder interface {
	ID() string
	World() World
	// Granularity is the kind of bundle CalculateValue accepts.
	Granularity() core.Granularity
	CalculateValue(b core.Bundle) (decimal.Decimal, error)
}

// ValueModel is a bidder's valuation expressed inside a MIP.
type ValueModel struct {
	// Quantities holds one integer-valued variable per item of the bidder's
	// granularity.
	Quantities map[core.ItemID]mip.Var
	// Value equals the bidder's value of the bundle given by Quantities.
	Value *mip.Expr
}

// ValueModeler is a Bidder that can state its valuation as MIP constraints.
type ValueModeler interface {
	Bidder
	BuildValueModel(m *mip.Model) (*ValueModel, error)
}

// SimpleWorld is an in-memory World.
type SimpleWorld struct {
	id    string
	goods []core.Good
	defs  []core.GenericDefinition
}

// NewSimpleWorld validates goods and definitions. Every good referenced by
// a definition must exist and belong to that definition only.
func NewSimpleWorld(goods []core.Good, defs []core.GenericDefinition) (*SimpleWorld, error) {
	byID := make(map[core.ItemID]core.Good, len(goods))
	for _, g := range goods {
		if g.ID == "" {
			return nil, fmt.Errorf("%w: good without id", core.ErrInvalidInput)
		}
		if _, dup := byID[g.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate good %s", core.ErrInvalidInput, g.ID)
		}
		byID[g.ID] = g
	}

	owner := make(map[core.ItemID]core.ItemID)
	for _, d := range defs {
		if _, clash := byID[d.ID]; clash {
			return nil, fmt.Errorf("%w: definition %s shares an id with a good", core.ErrInvalidInput, d.ID)
		}
		for _, gid := range d.Goods {
			g, ok := byID[gid]
			if !ok {
				return nil, fmt.Errorf("%w: definition %s references unknown good %s", core.ErrInvalidInput, d.ID, gid)
			}
			if prev, taken := owner[gid]; taken {
				return nil, fmt.Errorf("%w: good %s in definitions %s and %s", core.ErrInvalidInput, gid, prev, d.ID)
			}
			if g.DefinitionID != "" && g.DefinitionID != d.ID {
				return nil, fmt.Errorf("%w: good %s claims definition %s", core.ErrInvalidInput, gid, g.DefinitionID)
			}
			owner[gid] = d.ID
		}
	}

	w := &SimpleWorld{
		id:    uuid.NewString(),
		goods: make([]core.Good, len(goods)),
		defs:  make([]core.GenericDefinition, len(defs)),
	}
	for i, g := range goods {
		g.DefinitionID = owner[g.ID]
		w.goods[i] = g
	}
	copy(w.defs, defs)
	return w, nil
}

// NewGoodsWorld creates n goods named g1..gn without definitions.
func NewGoodsWorld(n int) *SimpleWorld {
	goods := make([]core.Good, n)
	for i := range goods {
		id := core.ItemID(fmt.Sprintf("g%d", i+1))
		goods[i] = core.Good{ID: id, Name: string(id)}
	}
	w, _ := NewSimpleWorld(goods, nil)
	return w
}

// NewGenericWorld creates one definition per entry of licenses, each with
// that many goods named <definition>-<k>.
func NewGenericWorld(licenses map[core.ItemID]int) (*SimpleWorld, error) {
	ids := make([]core.ItemID, 0, len(licenses))
	for id := range licenses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var goods []core.Good
	defs := make([]core.GenericDefinition, 0, len(ids))
	for _, d := range ids {
		def := core.GenericDefinition{ID: d, Name: string(d)}
		for k := 1; k <= licenses[d]; k++ {
			gid := core.ItemID(fmt.Sprintf("%s-%d", d, k))
			goods = append(goods, core.Good{ID: gid, Name: string(gid), DefinitionID: d})
			def.Goods = append(def.Goods, gid)
		}
		defs = append(defs, def)
	}
	return NewSimpleWorld(goods, defs)
}

// WithID returns a copy of the world carrying the given id. Used when
// reloading exported worlds.
func (w *SimpleWorld) WithID(id string) *SimpleWorld {
	c := *w
	c.id = id
	return &c
}

func (w *SimpleWorld) ID() string { return w.id }

func (w *SimpleWorld) Goods() []core.Good {
	c := make([]core.Good, len(w.goods))
	copy(c, w.goods)
	return c
}

func (w *SimpleWorld) GenericDefinitions() []core.GenericDefinition {
	c := make([]core.GenericDefinition, len(w.defs))
	copy(c, w.defs)
	return c
}

func (w *SimpleWorld) Supply(g core.Granularity) core.Supply {
	if g == core.GenericGranularity {
		s := make(core.Supply, len(w.defs))
		for _, d := range w.defs {
			s[d.ID] = d.NumberOfLicenses()
		}
		return s
	}
	s := make(core.Supply, len(w.goods))
	for _, good := range w.goods {
		s[good.ID] = 1
	}
	return s
}

// CheckBundle returns core.ErrIncompatibleWorld if b names items outside the
// supply, or core.ErrInvalidInput if it exceeds an availability.
func CheckBundle(supply core.Supply, b core.Bundle) error {
	for _, id := range b.Items() {
		avail, ok := supply[id]
		if !ok {
			return fmt.Errorf("%w: item %s", core.ErrIncompatibleWorld, id)
		}
		if q := b.Quantity(id); q > avail {
			return fmt.Errorf("%w: %d units of %s, %d available", core.ErrInvalidInput, q, id, avail)
		}
	}
	return nil
}

// SameWorld returns core.ErrIncompatibleWorld unless all bidders share w.
func SameWorld[B Bidder](w World, bidders []B) error {
	for _, b := range bidders {
		if b.World().ID() != w.ID() {
			return fmt.Errorf("%w: bidder %s belongs to world %s, not %s",
				core.ErrIncompatibleWorld, b.ID(), b.World().ID(), w.ID())
		}
	}
	return nil
}
