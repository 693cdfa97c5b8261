package wdp

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/core"
)

// VCG charges every winner the externality it imposes on the others:
// W(N\i) - (W(N) - b_i).
func (e *Engine) VCG(ctx context.Context, bids []*core.Bid, supply core.Supply, alloc *core.Allocation) (core.Payment, float64, error) {
	bids, _, err := e.prepare(bids, supply)
	if err != nil {
		return nil, 0, err
	}
	return e.vcg(ctx, bids, supply, alloc)
}

func (e *Engine) vcg(ctx context.Context, bids []*core.Bid, supply core.Supply, alloc *core.Allocation) (core.Payment, float64, error) {
	payments := make(core.Payment, len(alloc.Winners))
	gap := 0.0
	for _, id := range winnerIDs(alloc) {
		won := alloc.Winners[id]
		without, err := e.allocate(ctx, bids, supply, map[string]bool{id: true})
		if err != nil {
			return nil, 0, err
		}
		gap = math.Max(gap, without.Gap)

		others := alloc.TotalValue.Sub(won.Value)
		p := without.Allocation.TotalValue.Sub(others)
		payments[id] = clampPayment(p, decimal.Zero, won.Value)
		e.logger.Debug("vcg payment",
			zap.String("bidder_id", id),
			zap.String("welfare_without", without.Allocation.TotalValue.String()),
			zap.String("payment", payments[id].String()))
	}
	return payments, gap, nil
}
