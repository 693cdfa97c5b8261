package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spectrumauctions/sats/core"
)

// WriteCATS writes bids in the CATS text format. CATS bids are OR bids, so
// every bidder with more than one atomic value gets a dummy good shared by
// all of its bids. Only unit bundles can be expressed.
func WriteCATS(w io.Writer, supply core.Supply, bids []*core.Bid) error {
	items := supply.Items()
	index := make(map[core.ItemID]int, len(items))
	for i, id := range items {
		index[id] = i
	}

	total, dummies := 0, 0
	for _, bid := range bids {
		total += len(bid.Values)
		if len(bid.Values) > 1 {
			dummies++
		}
		for _, v := range bid.Values {
			for _, id := range v.Bundle.Items() {
				if _, ok := index[id]; !ok {
					return fmt.Errorf("%w: item %s", core.ErrIncompatibleWorld, id)
				}
				if v.Bundle.Quantity(id) > 1 {
					return fmt.Errorf("%w: CATS cannot express %d units of %s", core.ErrUnsupportedBiddingLanguage, v.Bundle.Quantity(id), id)
				}
			}
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%% CATS bid file\n")
	fmt.Fprintf(bw, "goods %d\nbids %d\ndummy %d\n\n", len(items), total, dummies)

	n, dummy := 0, len(items)
	for _, bid := range bids {
		fmt.Fprintf(bw, "%% bidder %s\n", bid.BidderID)
		for _, v := range bid.Values {
			fields := []string{fmt.Sprint(n), core.RoundMoney(v.Value).String()}
			for _, id := range v.Bundle.Items() {
				fields = append(fields, fmt.Sprint(index[id]))
			}
			if len(bid.Values) > 1 {
				fields = append(fields, fmt.Sprint(dummy))
			}
			fields = append(fields, "#")
			fmt.Fprintln(bw, strings.Join(fields, "\t"))
			n++
		}
		if len(bid.Values) > 1 {
			dummy++
		}
	}
	return bw.Flush()
}
