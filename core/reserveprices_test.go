package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestValueMeetsReserve(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		reserve  float64
		expected bool
	}{
		{"value above reserve", 3.0, 2.5, true},
		{"value at reserve", 2.5, 2.5, true},
		{"value below reserve", 2.0, 2.5, false},
		{"zero reserve", 0.0, 0.0, true},
		{"negative value with zero reserve", -1.0, 0.0, false},
		{"precision edge case - passes", 2.499999999, 2.5, true},
		{"precision edge case - fails", 2.4999, 2.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValueMeetsReserve(decimal.NewFromFloat(tt.value), decimal.NewFromFloat(tt.reserve))
			check.Equal(t, tt.expected, got)
		})
	}
}

func TestEnforceReservePrices(t *testing.T) {
	b1 := NewBid("bidder_1", "w")
	b1.Add(av(1, 10, "a", "b"))
	b1.Add(av(2, 3, "a"))
	b2 := NewBid("bidder_2", "w")
	b2.Add(av(3, 1, "b"))

	reserves := Prices{"a": decimal.NewFromInt(4), "b": decimal.NewFromInt(2)}

	eligible, rejected := EnforceReservePrices([]*Bid{b1, b2}, reserves)

	check.Equal(t, 1, len(eligible))
	check.Equal(t, "bidder_1", eligible[0].BidderID)
	check.Equal(t, 1, len(eligible[0].Values))
	check.Equal(t, int64(1), eligible[0].Values[0].ID)
	check.Equal(t, []int64{2, 3}, rejected)

	all, none := EnforceReservePrices([]*Bid{b1, b2}, nil)
	check.Equal(t, 2, len(all))
	check.Equal(t, 0, len(none))
}
