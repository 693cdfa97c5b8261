package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Bundle is an immutable multiset of items. For good-granularity bundles
// every quantity is one.
type Bundle struct {
	quantities map[ItemID]int
	key        string
}

// EmptyBundle is the bundle holding nothing.
var EmptyBundle = Bundle{quantities: map[ItemID]int{}}

// BundleOf builds a bundle that holds each id once. Repeated ids count twice.
func BundleOf(ids ...ItemID) Bundle {
	q := make(map[ItemID]int, len(ids))
	for _, id := range ids {
		q[id]++
	}
	return newBundle(q)
}

// BundleFromQuantities builds a bundle from an item-to-quantity map.
// Non-positive quantities are dropped.
func BundleFromQuantities(quantities map[ItemID]int) (Bundle, error) {
	q := make(map[ItemID]int, len(quantities))
	for id, n := range quantities {
		if n < 0 {
			return Bundle{}, fmt.Errorf("negative quantity %d for item %s", n, id)
		}
		if n > 0 {
			q[id] = n
		}
	}
	return newBundle(q), nil
}

func newBundle(q map[ItemID]int) Bundle {
	b := Bundle{quantities: q}
	b.key = b.buildKey()
	return b
}

func (b Bundle) buildKey() string {
	items := b.Items()
	var sb strings.Builder
	for i, id := range items {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(id))
		if q := b.quantities[id]; q != 1 {
			sb.WriteByte('x')
			sb.WriteString(strconv.Itoa(q))
		}
	}
	return sb.String()
}

// Key is a canonical string for the bundle, usable as a map key.
func (b Bundle) Key() string {
	return b.key
}

func (b Bundle) String() string {
	return "{" + b.key + "}"
}

// Items returns the distinct items in sorted order.
func (b Bundle) Items() []ItemID {
	items := make([]ItemID, 0, len(b.quantities))
	for id := range b.quantities {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// Quantity returns how many units of id the bundle holds.
func (b Bundle) Quantity(id ItemID) int {
	return b.quantities[id]
}

// Quantities returns a copy of the quantity map.
func (b Bundle) Quantities() map[ItemID]int {
	c := make(map[ItemID]int, len(b.quantities))
	for id, q := range b.quantities {
		c[id] = q
	}
	return c
}

// Size is the total number of units.
func (b Bundle) Size() int {
	n := 0
	for _, q := range b.quantities {
		n += q
	}
	return n
}

// IsEmpty reports whether the bundle holds nothing.
func (b Bundle) IsEmpty() bool {
	return len(b.quantities) == 0
}

// Equal compares bundles by content.
func (b Bundle) Equal(o Bundle) bool {
	return b.key == o.key
}

// Contains reports whether o is a sub-multiset of b.
func (b Bundle) Contains(o Bundle) bool {
	for id, q := range o.quantities {
		if b.quantities[id] < q {
			return false
		}
	}
	return true
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	if b.quantities == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.quantities)
}

func (b *Bundle) UnmarshalJSON(data []byte) error {
	var q map[ItemID]int
	if err := json.Unmarshal(data, &q); err != nil {
		return err
	}
	nb, err := BundleFromQuantities(q)
	if err != nil {
		return err
	}
	*b = nb
	return nil
}
