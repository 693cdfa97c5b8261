package export

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/spectrumauctions/sats/core"
)

var detMode = mustDetMode()

func mustDetMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %v", err))
	}
	return em
}

// ResultRecord is the serialized form of a mechanism result. Money is
// written as decimal strings. PaymentHash commits to the payments, salted
// with the run id.
type ResultRecord struct {
	RunID        string         `json:"run_id" cbor:"run_id"`
	Status       string         `json:"status" cbor:"status"`
	Cause        string         `json:"cause,omitempty" cbor:"cause,omitempty"`
	Rule         string         `json:"rule" cbor:"rule"`
	TotalValue   string         `json:"total_value" cbor:"total_value"`
	Revenue      string         `json:"revenue" cbor:"revenue"`
	Gap          float64        `json:"gap" cbor:"gap"`
	BidSetDigest string         `json:"bid_set_digest,omitempty" cbor:"bid_set_digest,omitempty"`
	PaymentHash  string         `json:"payment_hash" cbor:"payment_hash"`
	Winners      []WinnerRecord `json:"winners" cbor:"winners"`
}

type WinnerRecord struct {
	BidderID      string        `json:"bidder_id" cbor:"bidder_id"`
	AtomicValueID int64         `json:"atomic_value_id" cbor:"atomic_value_id"`
	Bundle        []core.ItemID `json:"bundle" cbor:"bundle"`
	Value         string        `json:"value" cbor:"value"`
	Payment       string        `json:"payment" cbor:"payment"`
	VCGPayment    string        `json:"vcg_payment" cbor:"vcg_payment"`
}

// NewResultRecord flattens a result with winners sorted by bidder id.
func NewResultRecord(res *core.MechanismResult) ResultRecord {
	rec := ResultRecord{
		RunID:        res.RunID,
		Status:       string(res.Status),
		Cause:        res.Cause,
		Rule:         string(res.Rule),
		TotalValue:   "0",
		Revenue:      core.RoundMoney(res.Revenue).String(),
		Gap:          res.Gap,
		BidSetDigest: res.BidSetDigest,
		PaymentHash:  core.ComputePaymentHash(res.Payments, res.RunID),
		Winners:      []WinnerRecord{},
	}
	if res.Allocation == nil {
		return rec
	}
	rec.TotalValue = core.RoundMoney(res.Allocation.TotalValue).String()
	for id, w := range res.Allocation.Winners {
		rec.Winners = append(rec.Winners, WinnerRecord{
			BidderID:      id,
			AtomicValueID: w.AtomicValueID,
			Bundle:        unitList(w.Bundle),
			Value:         core.RoundMoney(w.Value).String(),
			Payment:       core.RoundMoney(res.Payments[id]).String(),
			VCGPayment:    core.RoundMoney(res.VCGPayments[id]).String(),
		})
	}
	sort.Slice(rec.Winners, func(i, j int) bool { return rec.Winners[i].BidderID < rec.Winners[j].BidderID })
	return rec
}

// MarshalResult encodes a result as deterministic CBOR: equal results give
// equal bytes.
func MarshalResult(res *core.MechanismResult) ([]byte, error) {
	b, err := detMode.Marshal(NewResultRecord(res))
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

// UnmarshalResult decodes bytes written by MarshalResult.
func UnmarshalResult(data []byte) (*ResultRecord, error) {
	var rec ResultRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &rec, nil
}

// MarshalBidFile encodes a bid file as deterministic CBOR.
func MarshalBidFile(f *BidFile) ([]byte, error) {
	b, err := detMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode bid file: %w", err)
	}
	return b, nil
}
