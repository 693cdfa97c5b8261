// Command sats-gen draws a random synergy instance and writes the bids of a
// bidding language as a JSON or CATS bid file.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/bundle"
	"github.com/spectrumauctions/sats/config"
	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/export"
	"github.com/spectrumauctions/sats/language"
	"github.com/spectrumauctions/sats/pwl"
	"github.com/spectrumauctions/sats/world"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// instance describes the random world and bidders to draw.
type instance struct {
	Goods      int
	Bidders    int
	Seed       uint64
	MaxBase    float64
	MaxSynergy float64
}

func run(_ context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("sats-gen", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Int("goods", 6, "number of goods")
	fs.Int("bidders", 4, "number of bidders")
	fs.Uint64("seed", 1, "seed of values and random bundle orders")
	fs.Float64("max-base", 10, "upper bound of a good's base value")
	fs.Float64("max-synergy", 2, "upper bound of the bonus per additional good")
	fs.String("language", language.SizeIncreasing.String(), "size_increasing, size_decreasing or random_unique")
	fs.Int("bids-per-bidder", 10, "atomic values per bidder, 0 for all")
	fs.String("format", "json", "output format: json or cats")
	fs.String("out", "", "output file (default stdout)")
	fs.Bool("verbose", false, "log progress to stderr")
	help := fs.BoolP("help", "h", false, "show usage information")
	fs.Usage = func() { showUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *help {
		showUsage(stdout, fs)
		return exitOK
	}

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		fmt.Fprintf(stderr, "Error binding flags: %v\n", err)
		return exitError
	}

	logger := zap.NewNop()
	if v.GetBool("verbose") {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}
	defer func() { _ = logger.Sync() }()

	typ, err := language.ParseType(v.GetString("language"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	format := v.GetString("format")
	if format != "json" && format != "cats" {
		fmt.Fprintf(stderr, "Error: unknown format %q\n", format)
		return exitError
	}

	inst := instance{
		Goods:      v.GetInt("goods"),
		Bidders:    v.GetInt("bidders"),
		Seed:       v.GetUint64("seed"),
		MaxBase:    v.GetFloat64("max-base"),
		MaxSynergy: v.GetFloat64("max-synergy"),
	}
	w, bidders, err := inst.draw()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	bids, err := language.NewFactory().CollectAll(bidders, typ, v.GetInt("bids-per-bidder"), bundle.RandomConfig{Seed: inst.Seed})
	if err != nil {
		fmt.Fprintf(stderr, "Error collecting bids: %v\n", err)
		return exitError
	}
	logger.Info("bids generated",
		zap.String("world_id", w.ID()),
		zap.String("language", typ.String()),
		zap.Int("bidders", len(bids)),
		zap.String("bid_set_digest", core.ComputeBidSetDigest(bids)))

	out := stdout
	if path := v.GetString("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		defer f.Close()
		out = f
	}

	supply := w.Supply(core.GoodGranularity)
	if format == "cats" {
		err = export.WriteCATS(out, supply, bids)
	} else {
		err = export.WriteJSON(out, w.ID(), core.GoodGranularity, supply, bids)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error writing bids: %v\n", err)
		return exitError
	}
	return exitOK
}

// draw creates a goods world and synergy bidders with base values in
// [0, MaxBase] and a linear bonus of up to MaxSynergy per good beyond the
// first.
func (in instance) draw() (world.World, []world.Bidder, error) {
	if in.Goods < 2 || in.Bidders < 1 {
		return nil, nil, fmt.Errorf("%w: need at least 2 goods and 1 bidder", core.ErrInvalidInput)
	}
	if in.MaxBase < 0 || in.MaxSynergy < 0 {
		return nil, nil, fmt.Errorf("%w: negative value bounds", core.ErrInvalidInput)
	}
	rng := rand.New(rand.NewPCG(in.Seed, in.Seed+1))
	w := world.NewGoodsWorld(in.Goods)

	bidders := make([]world.Bidder, 0, in.Bidders)
	for i := 1; i <= in.Bidders; i++ {
		base := make(map[core.ItemID]decimal.Decimal, in.Goods)
		for _, g := range w.Goods() {
			base[g.ID] = core.FromFloat(rng.Float64() * in.MaxBase)
		}
		bonus := core.FromFloat(rng.Float64() * in.MaxSynergy).InexactFloat64()
		synergy, err := pwl.New(
			pwl.Point{X: 0, Y: 0},
			pwl.Point{X: 1, Y: 0},
			pwl.Point{X: float64(in.Goods), Y: bonus * float64(in.Goods-1)},
		)
		if err != nil {
			return nil, nil, err
		}
		b, err := world.NewSynergyBidder(fmt.Sprintf("b%d", i), w, base, synergy)
		if err != nil {
			return nil, nil, err
		}
		bidders = append(bidders, b)
	}
	return w, bidders, nil
}

func showUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Random bid file generator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sats-gen [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every flag can also be set as SATS_<FLAG>, e.g. SATS_BIDS_PER_BIDDER.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit Codes:")
	fmt.Fprintln(w, "  0 - Bid file written")
	fmt.Fprintln(w, "  2 - Invalid input or runtime error")
}
