// Package language turns a bidder into a bidding language: a lazy,
// restartable sequence of atomic (bundle, value) pairs.
package language

import (
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/spectrumauctions/sats/bundle"
	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/world"
)

// Type selects the enumeration order.
type Type int

const (
	SizeIncreasing Type = iota
	SizeDecreasing
	RandomUnique
)

func (t Type) String() string {
	switch t {
	case SizeIncreasing:
		return "size_increasing"
	case SizeDecreasing:
		return "size_decreasing"
	case RandomUnique:
		return "random_unique"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for _, t := range []Type{SizeIncreasing, SizeDecreasing, RandomUnique} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", core.ErrUnsupportedBiddingLanguage, s)
}

// Factory creates languages and owns the atomic value id counter shared by
// all of them.
type Factory struct {
	lastID atomic.Int64
}

// NewFactory returns a factory whose first atomic value id is 1.
func NewFactory() *Factory {
	return &Factory{}
}

// NextID reserves the next atomic value id.
func (f *Factory) NextID() int64 {
	return f.lastID.Add(1)
}

type options struct {
	random bundle.RandomConfig
}

// Option configures a Language.
type Option func(*options)

// WithSeed sets the seed of random orders.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.random.Seed = seed }
}

// WithRandomConfig replaces the whole random-order configuration.
func WithRandomConfig(cfg bundle.RandomConfig) Option {
	return func(o *options) { o.random = cfg }
}

// Language enumerates a bidder's atomic values in one order.
type Language struct {
	factory *Factory
	bidder  world.Bidder
	typ     Type
	gran    core.Granularity
	items   []core.ItemID
	caps    []int
	// goods and owner map random draws over goods to definitions.
	goods  []core.ItemID
	owner  map[core.ItemID]core.ItemID
	random bundle.RandomConfig
}

// New selects a language for the bidder. Combinations the bidder's world
// cannot serve are rejected here with core.ErrUnsupportedBiddingLanguage.
func (f *Factory) New(b world.Bidder, t Type, opts ...Option) (*Language, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	switch t {
	case SizeIncreasing, SizeDecreasing, RandomUnique:
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedBiddingLanguage, t)
	}

	l := &Language{
		factory: f,
		bidder:  b,
		typ:     t,
		gran:    b.Granularity(),
		random:  o.random,
	}
	supply := b.World().Supply(l.gran)
	l.items = supply.Items()
	l.caps = make([]int, len(l.items))
	for i, id := range l.items {
		l.caps[i] = supply[id]
	}

	if l.gran == core.GenericGranularity {
		if len(l.items) == 0 {
			return nil, fmt.Errorf("%w: generic %s for bidder %s in a world without definitions",
				core.ErrUnsupportedBiddingLanguage, t, b.ID())
		}
		if t == RandomUnique {
			l.owner = make(map[core.ItemID]core.ItemID)
			for _, g := range b.World().Goods() {
				if g.DefinitionID == "" {
					continue
				}
				l.goods = append(l.goods, g.ID)
				l.owner[g.ID] = g.DefinitionID
			}
			if len(l.goods) == 0 {
				return nil, fmt.Errorf("%w: random order over definitions without goods",
					core.ErrUnsupportedBiddingLanguage)
			}
		}
	}
	return l, nil
}

func (l *Language) Type() Type                    { return l.typ }
func (l *Language) Granularity() core.Granularity { return l.gran }
func (l *Language) Bidder() world.Bidder          { return l.bidder }

// Bundles yields the bundles in the language's order without valuing them.
func (l *Language) Bundles() iter.Seq[core.Bundle] {
	return func(yield func(core.Bundle) bool) {
		if l.gran == core.GenericGranularity {
			l.genericBundles(yield)
			return
		}
		codec, err := bundle.NewCodec(len(l.items))
		if err != nil {
			return
		}
		var seq iter.Seq[[]int]
		switch l.typ {
		case SizeIncreasing:
			seq = codec.Increasing()
		case SizeDecreasing:
			seq = codec.Decreasing()
		default:
			seq = codec.RandomUnique(l.random)
		}
		for idx := range seq {
			ids := make([]core.ItemID, len(idx))
			for i, k := range idx {
				ids[i] = l.items[k]
			}
			if !yield(core.BundleOf(ids...)) {
				return
			}
		}
	}
}

func (l *Language) genericBundles(yield func(core.Bundle) bool) {
	if l.typ != RandomUnique {
		for q := range bundle.Quantities(l.caps, l.typ == SizeDecreasing) {
			quantities := make(map[core.ItemID]int, len(q))
			for i, n := range q {
				quantities[l.items[i]] = n
			}
			b, _ := core.BundleFromQuantities(quantities)
			if !yield(b) {
				return
			}
		}
		return
	}

	// Random subsets of goods, folded onto their definitions. Different
	// subsets can fold onto the same quantities, so repeats are skipped.
	codec, err := bundle.NewCodec(len(l.goods))
	if err != nil {
		return
	}
	seen := make(map[string]bool)
	for idx := range codec.RandomUnique(l.random) {
		quantities := make(map[core.ItemID]int)
		for _, k := range idx {
			quantities[l.owner[l.goods[k]]]++
		}
		b, _ := core.BundleFromQuantities(quantities)
		if seen[b.Key()] {
			continue
		}
		seen[b.Key()] = true
		if !yield(b) {
			return
		}
	}
}

// Values yields atomic values with fresh ids from the factory. Iteration
// stops after the first valuation error.
func (l *Language) Values() iter.Seq2[core.AtomicValue, error] {
	return func(yield func(core.AtomicValue, error) bool) {
		for b := range l.Bundles() {
			v, err := l.bidder.CalculateValue(b)
			if err != nil {
				yield(core.AtomicValue{}, fmt.Errorf("bidder %s, bundle %s: %w", l.bidder.ID(), b, err))
				return
			}
			av := core.AtomicValue{ID: l.factory.NextID(), Bundle: b, Value: v}
			if !yield(av, nil) {
				return
			}
		}
	}
}

// Collect gathers up to limit atomic values into a bid. limit <= 0 collects all.
func Collect(l *Language, limit int) (*core.Bid, error) {
	bid := core.NewBid(l.bidder.ID(), l.bidder.World().ID())
	for v, err := range l.Values() {
		if err != nil {
			return nil, err
		}
		bid.Add(v)
		if limit > 0 && len(bid.Values) >= limit {
			break
		}
	}
	return bid, nil
}

// CollectAll builds one bid per bidder from languages of type t, each with
// at most limit values. Random orders use random.Seed plus the bidder's
// position, so bidders draw different bundles.
func (f *Factory) CollectAll(bidders []world.Bidder, t Type, limit int, random bundle.RandomConfig) ([]*core.Bid, error) {
	bids := make([]*core.Bid, 0, len(bidders))
	for i, b := range bidders {
		cfg := random
		cfg.Seed += uint64(i)
		l, err := f.New(b, t, WithRandomConfig(cfg))
		if err != nil {
			return nil, err
		}
		bid, err := Collect(l, limit)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, nil
}
