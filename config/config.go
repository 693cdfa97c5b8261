// Package config loads mechanism settings from YAML files and SATS_
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/spectrumauctions/sats/cca"
	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/mechanism"
	"github.com/spectrumauctions/sats/mip"
)

const EnvPrefix = "SATS"

// Price updater names.
const (
	UpdaterRelative        = "relative"
	UpdaterDoubling        = "doubling"
	UpdaterDemandDependent = "demand_dependent"
)

// MechanismConfig is the file form of a mechanism run.
type MechanismConfig struct {
	// Rule is the payment rule, "vcg" or "ccg".
	Rule              string         `yaml:"rule"`
	MaxCoreIterations int            `yaml:"max_core_iterations"`
	ReservePrices     []ReservePrice `yaml:"reserve_prices,omitempty"`
	Auction           AuctionConfig  `yaml:"auction"`
	Solver            SolverConfig   `yaml:"solver"`
}

// ReservePrice is the minimum price of one item. Items are listed rather
// than keyed since item ids are case sensitive.
type ReservePrice struct {
	Item  string  `yaml:"item"`
	Price float64 `yaml:"price"`
}

type AuctionConfig struct {
	StartingPrice float64 `yaml:"starting_price"`
	MaxRounds     int     `yaml:"max_rounds"`
	Workers       int     `yaml:"workers"`
	Epsilon       float64 `yaml:"epsilon"`
	// PriceUpdater is one of relative, doubling or demand_dependent.
	PriceUpdater string  `yaml:"price_updater"`
	Increment    float64 `yaml:"increment"`
	// SupplementaryPoolSize is the number of profit-maximizing bundles bid
	// after the clock phase; zero disables the round.
	SupplementaryPoolSize int `yaml:"supplementary_pool_size"`
	// LastRounds re-bids the bundles of the last clock rounds at true value.
	LastRounds int `yaml:"last_rounds"`
}

type SolverConfig struct {
	TimeLimit   time.Duration `yaml:"time_limit"`
	NodeLimit   int           `yaml:"node_limit"`
	RelativeGap float64       `yaml:"relative_gap"`
}

// Default returns the settings used when nothing is configured.
func Default() MechanismConfig {
	return MechanismConfig{
		Rule:              string(core.PaymentCCG),
		MaxCoreIterations: 100,
		Auction: AuctionConfig{
			MaxRounds:             cca.DefaultMaxRounds,
			Workers:               cca.DefaultWorkers,
			Epsilon:               1e-4,
			PriceUpdater:          UpdaterRelative,
			Increment:             0.1,
			SupplementaryPoolSize: 10,
		},
		Solver: SolverConfig{
			RelativeGap: mip.DefaultRelativeGap,
		},
	}
}

// Validate checks for invalid configuration values.
func (c *MechanismConfig) Validate() error {
	var errs []error
	if _, err := core.ParsePaymentRule(c.Rule); err != nil {
		errs = append(errs, err)
	}
	if c.MaxCoreIterations < 1 {
		errs = append(errs, fmt.Errorf("max_core_iterations must be >= 1, got %d", c.MaxCoreIterations))
	}
	seen := make(map[string]bool, len(c.ReservePrices))
	for _, r := range c.ReservePrices {
		if r.Item == "" || seen[r.Item] {
			errs = append(errs, fmt.Errorf("reserve price item %q is empty or repeated", r.Item))
		}
		seen[r.Item] = true
		if r.Price < 0 {
			errs = append(errs, fmt.Errorf("reserve price of %s must be >= 0, got %g", r.Item, r.Price))
		}
	}
	a := c.Auction
	if a.StartingPrice < 0 {
		errs = append(errs, fmt.Errorf("auction.starting_price must be >= 0, got %g", a.StartingPrice))
	}
	if a.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("auction.max_rounds must be >= 1, got %d", a.MaxRounds))
	}
	if a.Workers < 1 {
		errs = append(errs, fmt.Errorf("auction.workers must be >= 1, got %d", a.Workers))
	}
	if a.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("auction.epsilon must be > 0, got %g", a.Epsilon))
	}
	switch a.PriceUpdater {
	case UpdaterRelative, UpdaterDoubling, UpdaterDemandDependent:
	default:
		errs = append(errs, fmt.Errorf("auction.price_updater %q is not one of relative, doubling, demand_dependent", a.PriceUpdater))
	}
	if a.Increment <= 0 {
		errs = append(errs, fmt.Errorf("auction.increment must be > 0, got %g", a.Increment))
	}
	if a.SupplementaryPoolSize < 0 || a.LastRounds < 0 {
		errs = append(errs, errors.New("auction supplementary round sizes must be >= 0"))
	}
	if c.Solver.TimeLimit < 0 || c.Solver.NodeLimit < 0 {
		errs = append(errs, errors.New("solver limits must be >= 0"))
	}
	if c.Solver.RelativeGap < 0 || c.Solver.RelativeGap >= 1 {
		errs = append(errs, fmt.Errorf("solver.relative_gap must be in [0, 1), got %g", c.Solver.RelativeGap))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (MechanismConfig, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return MechanismConfig{}, fmt.Errorf("%w: parse config: %v", core.ErrInvalidInput, err)
	}
	if err := c.Validate(); err != nil {
		return MechanismConfig{}, err
	}
	return c, nil
}

// Load reads path (if not empty) and applies SATS_ environment overrides,
// e.g. SATS_AUCTION_MAX_ROUNDS=50.
func Load(path string) (MechanismConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return MechanismConfig{}, fmt.Errorf("%w: read config %s: %v", core.ErrInvalidInput, path, err)
		}
	}

	c := MechanismConfig{
		Rule:              v.GetString("rule"),
		MaxCoreIterations: v.GetInt("max_core_iterations"),
		Auction: AuctionConfig{
			StartingPrice:         v.GetFloat64("auction.starting_price"),
			MaxRounds:             v.GetInt("auction.max_rounds"),
			Workers:               v.GetInt("auction.workers"),
			Epsilon:               v.GetFloat64("auction.epsilon"),
			PriceUpdater:          v.GetString("auction.price_updater"),
			Increment:             v.GetFloat64("auction.increment"),
			SupplementaryPoolSize: v.GetInt("auction.supplementary_pool_size"),
			LastRounds:            v.GetInt("auction.last_rounds"),
		},
		Solver: SolverConfig{
			TimeLimit:   v.GetDuration("solver.time_limit"),
			NodeLimit:   v.GetInt("solver.node_limit"),
			RelativeGap: v.GetFloat64("solver.relative_gap"),
		},
	}
	if raw := v.Get("reserve_prices"); raw != nil {
		// Viper lowercases keys but not values; decode the list through YAML.
		data, err := yaml.Marshal(raw)
		if err == nil {
			err = yaml.Unmarshal(data, &c.ReservePrices)
		}
		if err != nil {
			return MechanismConfig{}, fmt.Errorf("%w: reserve_prices: %v", core.ErrInvalidInput, err)
		}
	}
	if err := c.Validate(); err != nil {
		return MechanismConfig{}, err
	}
	return c, nil
}

// setDefaults registers every key so that environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper, d MechanismConfig) {
	v.SetDefault("rule", d.Rule)
	v.SetDefault("max_core_iterations", d.MaxCoreIterations)
	v.SetDefault("auction.starting_price", d.Auction.StartingPrice)
	v.SetDefault("auction.max_rounds", d.Auction.MaxRounds)
	v.SetDefault("auction.workers", d.Auction.Workers)
	v.SetDefault("auction.epsilon", d.Auction.Epsilon)
	v.SetDefault("auction.price_updater", d.Auction.PriceUpdater)
	v.SetDefault("auction.increment", d.Auction.Increment)
	v.SetDefault("auction.supplementary_pool_size", d.Auction.SupplementaryPoolSize)
	v.SetDefault("auction.last_rounds", d.Auction.LastRounds)
	v.SetDefault("solver.time_limit", d.Solver.TimeLimit)
	v.SetDefault("solver.node_limit", d.Solver.NodeLimit)
	v.SetDefault("solver.relative_gap", d.Solver.RelativeGap)
}

// SolverParams converts the solver section.
func (c *MechanismConfig) SolverParams() mip.Params {
	p := mip.DefaultParams()
	p.TimeLimit = c.Solver.TimeLimit
	p.NodeLimit = c.Solver.NodeLimit
	if c.Solver.RelativeGap > 0 {
		p.RelativeGap = c.Solver.RelativeGap
	}
	return p
}

// Mechanism converts the configuration for mechanism.New.
func (c *MechanismConfig) Mechanism() mechanism.Config {
	var reserves core.Prices
	if len(c.ReservePrices) > 0 {
		reserves = make(core.Prices, len(c.ReservePrices))
		for _, r := range c.ReservePrices {
			reserves[core.ItemID(r.Item)] = core.FromFloat(r.Price)
		}
	}
	return mechanism.Config{
		Rule: core.PaymentRule(c.Rule),
		Auction: cca.Config{
			StartingPrice: core.FromFloat(c.Auction.StartingPrice),
			MaxRounds:     c.Auction.MaxRounds,
			Workers:       c.Auction.Workers,
			Epsilon:       c.Auction.Epsilon,
		},
		Params:            c.SolverParams(),
		ReservePrices:     reserves,
		MaxCoreIterations: c.MaxCoreIterations,
	}
}

// PriceUpdater builds the configured price-update policy.
func (c *MechanismConfig) PriceUpdater() cca.PriceUpdater {
	inc := decimal.NewFromFloat(c.Auction.Increment)
	switch c.Auction.PriceUpdater {
	case UpdaterDoubling:
		return cca.NewDoublingPriceUpdater(inc)
	case UpdaterDemandDependent:
		u := cca.NewDemandDependentPriceUpdater()
		u.Rate = inc
		return u
	default:
		u := cca.NewRelativePriceUpdater()
		u.Increment = inc
		return u
	}
}

// SupplementaryRounds builds the configured supplementary rounds.
func (c *MechanismConfig) SupplementaryRounds() []cca.SupplementaryRound {
	var rounds []cca.SupplementaryRound
	if c.Auction.SupplementaryPoolSize > 0 {
		rounds = append(rounds, cca.ProfitMaximizingRound{PoolSize: c.Auction.SupplementaryPoolSize})
	}
	if c.Auction.LastRounds > 0 {
		rounds = append(rounds, cca.LastBidsTrueValueRound{Rounds: c.Auction.LastRounds})
	}
	return rounds
}

// AuctionOptions returns the clock auction options for mechanism.WithAuctionOptions.
func (c *MechanismConfig) AuctionOptions() []cca.Option {
	return []cca.Option{
		cca.WithPriceUpdater(c.PriceUpdater()),
		cca.WithSupplementaryRounds(c.SupplementaryRounds()...),
	}
}
