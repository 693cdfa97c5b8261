package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/cca"
	"github.com/spectrumauctions/sats/core"
)

const sample = `
rule: vcg
max_core_iterations: 20
reserve_prices:
  - item: A
    price: 2.5
auction:
  starting_price: 1
  max_rounds: 30
  workers: 2
  price_updater: doubling
  increment: 0.5
  supplementary_pool_size: 0
  last_rounds: 3
solver:
  time_limit: 5s
  node_limit: 1000
`

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Validate())
	check.Equal(t, "ccg", c.Rule)
	check.Equal(t, 1, len(c.SupplementaryRounds()))
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	assert.NoError(t, err)

	check.Equal(t, "vcg", c.Rule)
	check.Equal(t, 30, c.Auction.MaxRounds)
	check.Equal(t, 1e-4, c.Auction.Epsilon)
	check.Equal(t, 5*time.Second, c.Solver.TimeLimit)
	check.Equal(t, []ReservePrice{{Item: "A", Price: 2.5}}, c.ReservePrices)

	m := c.Mechanism()
	check.Equal(t, core.PaymentVCG, m.Rule)
	check.Equal(t, decimal.NewFromFloat(2.5), m.ReservePrices["A"])
	check.Equal(t, 1000, m.Params.NodeLimit)
	check.Equal(t, 20, m.MaxCoreIterations)
	check.True(t, m.Auction.StartingPrice.Equal(decimal.NewFromInt(1)))

	_, ok := c.PriceUpdater().(*cca.DoublingPriceUpdater)
	check.True(t, ok)
	rounds := c.SupplementaryRounds()
	assert.Equal(t, 1, len(rounds))
	check.Equal(t, "last_bids_true_value", rounds[0].Name())
	check.Equal(t, 2, len(c.AuctionOptions()))
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(nil)
	assert.NoError(t, err)
	check.Equal(t, Default().Auction, c.Auction)
}

func TestParse_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"unknown key", "rounds: 3"},
		{"bad rule", "rule: first_price"},
		{"no rounds", "auction:\n  max_rounds: 0"},
		{"bad updater", "auction:\n  price_updater: random"},
		{"negative reserve", "reserve_prices:\n  - item: A\n    price: -1"},
		{"repeated reserve", "reserve_prices:\n  - item: A\n    price: 1\n  - item: A\n    price: 2"},
		{"gap too large", "solver:\n  relative_gap: 1.5"},
		{"bad duration", "solver:\n  time_limit: soon"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.in))
			check.True(t, errors.Is(err, core.ErrInvalidInput))
		})
	}
}

func TestPriceUpdater(t *testing.T) {
	for _, tc := range []struct {
		name string
		want func(cca.PriceUpdater) bool
	}{
		{UpdaterRelative, func(u cca.PriceUpdater) bool { _, ok := u.(*cca.RelativePriceUpdater); return ok }},
		{UpdaterDoubling, func(u cca.PriceUpdater) bool { _, ok := u.(*cca.DoublingPriceUpdater); return ok }},
		{UpdaterDemandDependent, func(u cca.PriceUpdater) bool { _, ok := u.(*cca.DemandDependentPriceUpdater); return ok }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			c.Auction.PriceUpdater = tc.name
			check.True(t, tc.want(c.PriceUpdater()))
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mechanism.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, "vcg", c.Rule)
	check.Equal(t, 30, c.Auction.MaxRounds)
	check.Equal(t, UpdaterDoubling, c.Auction.PriceUpdater)
	check.Equal(t, 5*time.Second, c.Solver.TimeLimit)
	check.Equal(t, []ReservePrice{{Item: "A", Price: 2.5}}, c.ReservePrices)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SATS_RULE", "vcg")
	t.Setenv("SATS_AUCTION_MAX_ROUNDS", "7")
	t.Setenv("SATS_SOLVER_TIME_LIMIT", "2s")

	c, err := Load("")
	assert.NoError(t, err)
	check.Equal(t, "vcg", c.Rule)
	check.Equal(t, 7, c.Auction.MaxRounds)
	check.Equal(t, 2*time.Second, c.Solver.TimeLimit)
	check.Equal(t, cca.DefaultWorkers, c.Auction.Workers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	check.True(t, errors.Is(err, core.ErrInvalidInput))

	t.Setenv("SATS_AUCTION_WORKERS", "0")
	_, err = Load("")
	check.True(t, errors.Is(err, core.ErrInvalidInput))
}
