// Package export writes bid sets and mechanism results to files: JSON bid
// files, CATS text, deterministic CBOR and signed COSE envelopes.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
)

// BidFile is the JSON bid file layout. Bundles list an item once per unit.
type BidFile struct {
	WorldID     string              `json:"world_id" cbor:"world_id"`
	Granularity string              `json:"granularity" cbor:"granularity"`
	Supply      map[core.ItemID]int `json:"supply" cbor:"supply"`
	Bidders     []BidderRecord      `json:"bidders" cbor:"bidders"`
}

type BidderRecord struct {
	BidderID string        `json:"bidder_id" cbor:"bidder_id"`
	Bids     []ValueRecord `json:"bids" cbor:"bids"`
}

type ValueRecord struct {
	ID     int64         `json:"id" cbor:"id"`
	Bundle []core.ItemID `json:"bundle" cbor:"bundle"`
	Value  json.Number   `json:"value" cbor:"value"`
}

// NewBidFile converts bids into their file representation. Bidders are
// sorted by id; atomic values keep their order.
func NewBidFile(worldID string, g core.Granularity, supply core.Supply, bids []*core.Bid) *BidFile {
	f := &BidFile{
		WorldID:     worldID,
		Granularity: g.String(),
		Supply:      make(map[core.ItemID]int, len(supply)),
		Bidders:     make([]BidderRecord, 0, len(bids)),
	}
	for id, n := range supply {
		f.Supply[id] = n
	}
	for _, bid := range bids {
		rec := BidderRecord{BidderID: bid.BidderID, Bids: make([]ValueRecord, 0, len(bid.Values))}
		for _, v := range bid.Values {
			rec.Bids = append(rec.Bids, ValueRecord{
				ID:     v.ID,
				Bundle: unitList(v.Bundle),
				Value:  json.Number(core.RoundMoney(v.Value).String()),
			})
		}
		f.Bidders = append(f.Bidders, rec)
	}
	sort.Slice(f.Bidders, func(i, j int) bool { return f.Bidders[i].BidderID < f.Bidders[j].BidderID })
	return f
}

func unitList(b core.Bundle) []core.ItemID {
	out := make([]core.ItemID, 0, b.Size())
	for _, id := range b.Items() {
		for range b.Quantity(id) {
			out = append(out, id)
		}
	}
	return out
}

// Bids converts the file back into bids.
func (f *BidFile) Bids() ([]*core.Bid, error) {
	bids := make([]*core.Bid, 0, len(f.Bidders))
	for _, rec := range f.Bidders {
		bid := core.NewBid(rec.BidderID, f.WorldID)
		for _, v := range rec.Bids {
			value, err := decimal.NewFromString(v.Value.String())
			if err != nil {
				return nil, fmt.Errorf("%w: bidder %s, value %d: %v", core.ErrInvalidInput, rec.BidderID, v.ID, err)
			}
			bid.Add(core.AtomicValue{ID: v.ID, Bundle: core.BundleOf(v.Bundle...), Value: value})
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

// SupplyMap returns the supply of the file.
func (f *BidFile) SupplyMap() core.Supply {
	s := make(core.Supply, len(f.Supply))
	for id, n := range f.Supply {
		s[id] = n
	}
	return s
}

// WriteJSON writes bids as an indented JSON bid file.
func WriteJSON(w io.Writer, worldID string, g core.Granularity, supply core.Supply, bids []*core.Bid) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewBidFile(worldID, g, supply, bids)); err != nil {
		return fmt.Errorf("encode bid file: %w", err)
	}
	return nil
}

// ReadJSON parses a JSON bid file.
func ReadJSON(r io.Reader) (*BidFile, error) {
	var f BidFile
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode bid file: %v", core.ErrInvalidInput, err)
	}
	if _, err := core.ParseGranularity(f.Granularity); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if len(f.Supply) == 0 {
		return nil, fmt.Errorf("%w: bid file has no supply", core.ErrInvalidInput)
	}
	return &f, nil
}
