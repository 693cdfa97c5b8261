package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ItemID identifies a Good or a GenericDefinition within a World.
type ItemID string

// Granularity tells whether bundles are expressed over individual goods (XOR)
// or over quantities of generic definitions (XOR-Q).
type Granularity int

const (
	GoodGranularity Granularity = iota
	GenericGranularity
)

func (g Granularity) String() string {
	switch g {
	case GoodGranularity:
		return "good"
	case GenericGranularity:
		return "generic"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// ParseGranularity is the inverse of Granularity.String.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "good", "":
		return GoodGranularity, nil
	case "generic":
		return GenericGranularity, nil
	default:
		return 0, fmt.Errorf("unknown granularity %q", s)
	}
}

// Good is an indivisible license.
type Good struct {
	ID           ItemID `json:"id"`
	Name         string `json:"name,omitempty"`
	DefinitionID ItemID `json:"definition_id,omitempty"`
}

// GenericDefinition is a class of interchangeable goods, e.g. a band of
// licenses in one region.
type GenericDefinition struct {
	ID    ItemID   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Goods []ItemID `json:"goods"`
}

// NumberOfLicenses is the availability of the definition.
func (d GenericDefinition) NumberOfLicenses() int {
	return len(d.Goods)
}

// Supply maps every item of a granularity to its availability.
type Supply map[ItemID]int

// Items returns the item ids in sorted order.
func (s Supply) Items() []ItemID {
	items := make([]ItemID, 0, len(s))
	for id := range s {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// Admits reports whether every quantity of b fits the supply.
func (s Supply) Admits(b Bundle) bool {
	for id, q := range b.quantities {
		if q > s[id] {
			return false
		}
	}
	return true
}

// AtomicValue is an immutable (bundle, value) pair of an XOR or XOR-Q bid.
type AtomicValue struct {
	ID     int64           `json:"id"`
	Bundle Bundle          `json:"bundle"`
	Value  decimal.Decimal `json:"value"`
}

// Bid is the set of atomic values submitted by one bidder. At most one of its
// atomic values can be accepted.
type Bid struct {
	BidderID string        `json:"bidder_id"`
	WorldID  string        `json:"world_id"`
	Values   []AtomicValue `json:"values"`
}

// NewBid creates an empty bid for a bidder of the given world.
func NewBid(bidderID, worldID string) *Bid {
	return &Bid{
		BidderID: bidderID,
		WorldID:  worldID,
		Values:   make([]AtomicValue, 0),
	}
}

// Add appends an atomic value.
func (b *Bid) Add(v AtomicValue) {
	b.Values = append(b.Values, v)
}

// ValueOf returns the highest value the bid places on exactly bundle.
func (b *Bid) ValueOf(bundle Bundle) (decimal.Decimal, bool) {
	key := bundle.Key()
	best, found := decimal.Zero, false
	for _, v := range b.Values {
		if v.Bundle.Key() != key {
			continue
		}
		if !found || v.Value.GreaterThan(best) {
			best, found = v.Value, true
		}
	}
	return best, found
}

// Prices maps items to non-negative unit prices. Missing items are priced at zero.
type Prices map[ItemID]decimal.Decimal

// NewPrices sets every item of the supply to the same starting price.
func NewPrices(supply Supply, start decimal.Decimal) Prices {
	p := make(Prices, len(supply))
	for id := range supply {
		p[id] = start
	}
	return p
}

// Get returns the price of an item.
func (p Prices) Get(id ItemID) decimal.Decimal {
	if v, ok := p[id]; ok {
		return v
	}
	return decimal.Zero
}

// BundlePrice is the linear price of b: the sum of unit price times quantity.
func (p Prices) BundlePrice(b Bundle) decimal.Decimal {
	total := decimal.Zero
	for id, q := range b.quantities {
		total = total.Add(p.Get(id).Mul(decimal.NewFromInt(int64(q))))
	}
	return total
}

// Clone returns an independent copy.
func (p Prices) Clone() Prices {
	c := make(Prices, len(p))
	for id, v := range p {
		c[id] = v
	}
	return c
}

// BidderAllocation is the bundle assigned to one winner and the atomic value
// that won it.
type BidderAllocation struct {
	BidderID      string          `json:"bidder_id"`
	Bundle        Bundle          `json:"bundle"`
	Value         decimal.Decimal `json:"value"`
	AtomicValueID int64           `json:"atomic_value_id"`
}

// Allocation maps winners to their bundles.
type Allocation struct {
	Winners    map[string]BidderAllocation `json:"winners"`
	TotalValue decimal.Decimal             `json:"total_value"`
}

// NewAllocation returns an empty allocation.
func NewAllocation() *Allocation {
	return &Allocation{
		Winners:    make(map[string]BidderAllocation),
		TotalValue: decimal.Zero,
	}
}

// Assign records a winner and adds her value to the total.
func (a *Allocation) Assign(w BidderAllocation) {
	if prev, ok := a.Winners[w.BidderID]; ok {
		a.TotalValue = a.TotalValue.Sub(prev.Value)
	}
	a.Winners[w.BidderID] = w
	a.TotalValue = a.TotalValue.Add(w.Value)
}

// WinnerIDs returns the winning bidders in sorted order.
func (a *Allocation) WinnerIDs() []string {
	ids := make([]string, 0, len(a.Winners))
	for id := range a.Winners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Allocated sums the quantity of every item over all winners.
func (a *Allocation) Allocated() map[ItemID]int {
	total := make(map[ItemID]int)
	for _, w := range a.Winners {
		for id, q := range w.Bundle.quantities {
			total[id] += q
		}
	}
	return total
}

// Payment maps winners to what they pay.
type Payment map[string]decimal.Decimal

// Total sums all payments.
func (p Payment) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range p {
		total = total.Add(v)
	}
	return total
}
