package core

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ComputeAtomicValueHash hashes one atomic value.
//
// Formula: SHA256(id + "|" + bundle_key + "|" + value with 6 decimals + "|" + nonce)
func ComputeAtomicValueHash(v AtomicValue, nonce string) string {
	data := fmt.Sprintf("%d|%s|%s|%s", v.ID, v.Bundle.Key(), v.Value.StringFixed(6), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeBidSetDigest hashes a set of bids independently of their order.
// Bids are sorted by bidder and atomic values by id before hashing.
//
// Formula: SHA256(bidder1 + ":" + h(v1) + "," + h(v2) + "|" + bidder2 + ...)
// where h is ComputeAtomicValueHash with an empty nonce.
func ComputeBidSetDigest(bids []*Bid) string {
	sorted := make([]*Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BidderID < sorted[j].BidderID })

	var sb strings.Builder
	for i, bid := range sorted {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(bid.BidderID)
		sb.WriteByte(':')

		values := make([]AtomicValue, len(bid.Values))
		copy(values, bid.Values)
		sort.SliceStable(values, func(a, b int) bool { return values[a].ID < values[b].ID })
		for k, v := range values {
			if k > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(ComputeAtomicValueHash(v, ""))
		}
	}
	hash := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", hash)
}

// ComputePricesHash hashes a price vector.
//
// Formula: SHA256(nonce + "|" + sorted_item_price_pairs)
// where sorted_item_price_pairs = "item1:price1|item2:price2|..." (sorted by item id)
func ComputePricesHash(prices Prices, nonce string) string {
	data := nonce

	items := make([]ItemID, 0, len(prices))
	for id := range prices {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })

	for _, id := range items {
		data += fmt.Sprintf("|%s:%s", id, prices[id].StringFixed(6))
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputePaymentHash hashes a payment rule outcome, sorted by bidder.
func ComputePaymentHash(payments Payment, nonce string) string {
	bidders := make([]string, 0, len(payments))
	for b := range payments {
		bidders = append(bidders, b)
	}
	sort.Strings(bidders)

	data := nonce
	for _, b := range bidders {
		data += fmt.Sprintf("|%s:%s", b, payments[b].StringFixed(6))
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
