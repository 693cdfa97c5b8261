// Command sats-wd runs winner determination and payments over an exported
// JSON bid file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spectrumauctions/sats/config"
	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/export"
	"github.com/spectrumauctions/sats/mechanism"
	"github.com/spectrumauctions/sats/mip"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("sats-wd", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("bids", "", "JSON bid file (required)")
	fs.String("config", "", "mechanism YAML config")
	fs.String("rule", "", "payment rule: vcg or ccg (overrides config)")
	fs.String("format", "text", "output format: text, json or cbor")
	fs.String("sign-key", "", "PEM EC P-256 private key; output becomes a COSE_Sign1 envelope")
	fs.String("public-key-out", "", "write the PEM public key of --sign-key to this file")
	fs.String("cats", "", "also write the bids in CATS format to this file")
	fs.Bool("verbose", false, "log solver progress to stderr")
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

	if v.GetString("bids") == "" {
		showUsage(stderr, fs)
		fmt.Fprintf(stderr, "\nError: --bids is required\n")
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

	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitError
	}
	if rule := v.GetString("rule"); rule != "" {
		if _, err := core.ParsePaymentRule(rule); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		cfg.Rule = rule
	}

	file, bids, err := readBids(v.GetString("bids"))
	if err != nil {
		fmt.Fprintf(stderr, "Error reading bids: %v\n", err)
		return exitError
	}
	if path := v.GetString("cats"); path != "" {
		if err := writeCATS(path, file.SupplyMap(), bids); err != nil {
			fmt.Fprintf(stderr, "Error writing CATS file: %v\n", err)
			return exitError
		}
	}

	m := mechanism.New(mip.NewBranchAndBound(mip.WithLogger(logger)), cfg.Mechanism(), mechanism.WithLogger(logger))
	result := m.RunBids(ctx, bids, file.SupplyMap())

	out, err := render(result, v.GetString("format"), v.GetString("sign-key"), v.GetString("public-key-out"))
	if err != nil {
		fmt.Fprintf(stderr, "Error writing result: %v\n", err)
		return exitError
	}
	if _, err := stdout.Write(out); err != nil {
		return exitError
	}

	if result.Status == core.StatusFailed {
		return exitFailed
	}
	return exitOK
}

func showUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Combinatorial auction winner determination")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sats-wd --bids <file> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Bid file:")
	fmt.Fprintln(w, `  {"world_id": "w", "granularity": "good", "supply": {"A": 1, "B": 1},`)
	fmt.Fprintln(w, `   "bidders": [{"bidder_id": "b1", "bids": [{"id": 1, "bundle": ["A", "B"], "value": 10}]}]}`)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every flag can also be set as SATS_<FLAG>, e.g. SATS_SIGN_KEY.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit Codes:")
	fmt.Fprintln(w, "  0 - Result computed (exact or approximate)")
	fmt.Fprintln(w, "  1 - Mechanism failed")
	fmt.Fprintln(w, "  2 - Invalid input or runtime error")
}

func readBids(path string) (*export.BidFile, []*core.Bid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	file, err := export.ReadJSON(f)
	if err != nil {
		return nil, nil, err
	}
	bids, err := file.Bids()
	if err != nil {
		return nil, nil, err
	}
	return file, bids, nil
}

func writeCATS(path string, supply core.Supply, bids []*core.Bid) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCATS(f, supply, bids); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func render(result *core.MechanismResult, format, keyPath, publicKeyPath string) ([]byte, error) {
	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		key, err := export.ParseSigningKeyPEM(data)
		if err != nil {
			return nil, err
		}
		if publicKeyPath != "" {
			pub, err := key.PublicKeyPEM()
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(publicKeyPath, []byte(pub), 0o644); err != nil {
				return nil, fmt.Errorf("write public key: %w", err)
			}
		}
		return key.Sign(result)
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(export.NewResultRecord(result), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "cbor":
		return export.MarshalResult(result)
	case "text", "":
		return []byte(formatText(result)), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func formatText(result *core.MechanismResult) string {
	rec := export.NewResultRecord(result)
	var b strings.Builder
	fmt.Fprintln(&b, "Winner Determination")
	fmt.Fprintln(&b, "====================")
	fmt.Fprintf(&b, "  Run:          %s\n", rec.RunID)
	fmt.Fprintf(&b, "  Status:       %s\n", rec.Status)
	fmt.Fprintf(&b, "  Payment rule: %s\n", rec.Rule)
	if rec.Cause != "" {
		fmt.Fprintf(&b, "  Cause:        %s\n", rec.Cause)
		return b.String()
	}
	fmt.Fprintf(&b, "  Total value:  %s\n", rec.TotalValue)
	fmt.Fprintf(&b, "  Revenue:      %s\n", rec.Revenue)
	if rec.Gap > 0 {
		fmt.Fprintf(&b, "  Gap:          %.4f\n", rec.Gap)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Winners:")
	for _, w := range rec.Winners {
		items := make([]string, len(w.Bundle))
		for i, id := range w.Bundle {
			items[i] = string(id)
		}
		fmt.Fprintf(&b, "  - %s {%s} value=%s pays=%s (vcg %s)\n",
			w.BidderID, strings.Join(items, ","), w.Value, w.Payment, w.VCGPayment)
	}
	return b.String()
}
