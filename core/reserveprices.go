package core

import (
	"github.com/shopspring/decimal"
)

// MonetaryPrecision is the number of decimal places values and prices are
// compared at.
const MonetaryPrecision int32 = 4

// RoundMoney rounds d to MonetaryPrecision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MonetaryPrecision)
}

// FromFloat converts a solver float to a rounded decimal.
func FromFloat(f float64) decimal.Decimal {
	return RoundMoney(decimal.NewFromFloat(f))
}

// ValueMeetsReserve returns true if value meets or exceeds the reserve.
// Both are rounded to MonetaryPrecision first.
func ValueMeetsReserve(value, reserve decimal.Decimal) bool {
	return RoundMoney(value).GreaterThanOrEqual(RoundMoney(reserve))
}

// EnforceReservePrices drops every atomic value that does not cover the
// linear reserve price of its bundle. Bids left without atomic values are
// dropped too. Returns the eligible bids and the ids of rejected atomic values.
// A nil reserve map lets everything pass.
func EnforceReservePrices(bids []*Bid, reserves Prices) (eligible []*Bid, rejectedIDs []int64) {
	eligible = make([]*Bid, 0, len(bids))
	rejectedIDs = make([]int64, 0)

	for _, bid := range bids {
		if len(reserves) == 0 {
			eligible = append(eligible, bid)
			continue
		}

		kept := NewBid(bid.BidderID, bid.WorldID)
		for _, v := range bid.Values {
			if ValueMeetsReserve(v.Value, reserves.BundlePrice(v.Bundle)) {
				kept.Add(v)
			} else {
				rejectedIDs = append(rejectedIDs, v.ID)
			}
		}
		if len(kept.Values) > 0 {
			eligible = append(eligible, kept)
		}
	}

	return eligible, rejectedIDs
}
