package cca

import (
	"context"
	"fmt"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/demand"
	"github.com/spectrumauctions/sats/world"
)

// SupplementaryInput is what a supplementary round sees of the finished
// clock phase for one bidder.
type SupplementaryInput struct {
	Prices core.Prices
	// ClockBundles holds the bidder's demanded bundle per clock round, empty
	// when she demanded nothing.
	ClockBundles []core.Bundle
	Querier      demand.Querier
	Request      demand.Request
}

// SupplementaryRound produces additional bids for one bidder after the
// clock phase. Returned atomic values get their ids from the driver.
type SupplementaryRound interface {
	Name() string
	Bids(ctx context.Context, b world.Bidder, in SupplementaryInput) ([]core.AtomicValue, error)
}

// ProfitMaximizingRound bids true values on the PoolSize bundles of highest
// utility at the final clock prices.
type ProfitMaximizingRound struct {
	PoolSize int
}

func (r ProfitMaximizingRound) Name() string { return "profit_maximizing" }

func (r ProfitMaximizingRound) Bids(ctx context.Context, b world.Bidder, in SupplementaryInput) ([]core.AtomicValue, error) {
	req := in.Request
	req.PoolSize = r.PoolSize
	req.ProfitableOnly = false
	responses, err := in.Querier.Demand(ctx, b, in.Prices, req)
	if err != nil {
		return nil, err
	}
	values := make([]core.AtomicValue, 0, len(responses))
	for _, resp := range responses {
		values = append(values, core.AtomicValue{Bundle: resp.Bundle, Value: resp.Value})
	}
	return values, nil
}

// LastBidsTrueValueRound re-bids the bundles demanded in the last Rounds
// clock rounds at their true value.
type LastBidsTrueValueRound struct {
	Rounds int
}

func (r LastBidsTrueValueRound) Name() string { return "last_bids_true_value" }

func (r LastBidsTrueValueRound) Bids(_ context.Context, b world.Bidder, in SupplementaryInput) ([]core.AtomicValue, error) {
	from := max(0, len(in.ClockBundles)-r.Rounds)
	seen := make(map[string]bool)
	var values []core.AtomicValue
	for _, bundle := range in.ClockBundles[from:] {
		if bundle.IsEmpty() || seen[bundle.Key()] {
			continue
		}
		seen[bundle.Key()] = true
		v, err := b.CalculateValue(bundle)
		if err != nil {
			return nil, fmt.Errorf("bidder %s: %w", b.ID(), err)
		}
		values = append(values, core.AtomicValue{Bundle: bundle, Value: v})
	}
	return values, nil
}
