package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/spectrumauctions/sats/core"
	"github.com/spectrumauctions/sats/export"
)

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func readFile(t *testing.T, out string) (*export.BidFile, []*core.Bid) {
	t.Helper()
	file, err := export.ReadJSON(strings.NewReader(out))
	assert.NoError(t, err)
	bids, err := file.Bids()
	assert.NoError(t, err)
	return file, bids
}

func TestRun_JSON(t *testing.T) {
	code, out, _ := runCLI("--goods", "3", "--bidders", "2", "--bids-per-bidder", "4", "--language", "size_decreasing")
	assert.Equal(t, exitOK, code)

	file, bids := readFile(t, out)
	check.Equal(t, "good", file.Granularity)
	check.Equal(t, 3, len(file.Supply))
	assert.Equal(t, 2, len(bids))
	check.Equal(t, "b1", bids[0].BidderID)
	for _, bid := range bids {
		assert.Equal(t, 4, len(bid.Values))
		check.Equal(t, 3, bid.Values[0].Bundle.Size())
		check.False(t, bid.Values[0].Value.IsNegative())
	}
}

func TestRun_Reproducible(t *testing.T) {
	args := []string{"--goods", "5", "--bidders", "3", "--language", "random_unique", "--bids-per-bidder", "6", "--seed", "17"}
	_, first := readFile(t, mustRun(t, args...))
	_, second := readFile(t, mustRun(t, args...))

	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, len(first[i].Values), len(second[i].Values))
		for k, v := range first[i].Values {
			check.True(t, v.Bundle.Equal(second[i].Values[k].Bundle))
			check.True(t, v.Value.Equal(second[i].Values[k].Value))
		}
	}
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	code, out, stderr := runCLI(args...)
	assert.Equal(t, exitOK, code)
	check.Equal(t, "", stderr)
	return out
}

func TestRun_CATSFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bids.cats")
	code, out, _ := runCLI("--goods", "2", "--bidders", "1", "--bids-per-bidder", "0", "--format", "cats", "--out", path)
	assert.Equal(t, exitOK, code)
	check.Equal(t, "", out)

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	// Two goods give three bundles, so the single bidder needs one dummy.
	check.True(t, strings.HasPrefix(string(data), "% CATS bid file\ngoods 2\nbids 3\ndummy 1\n"))
}

func TestRun_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"unknown language", []string{"--language", "or_of_xor"}},
		{"unknown format", []string{"--format", "xml"}},
		{"too few goods", []string{"--goods", "1"}},
		{"no bidders", []string{"--bidders", "0"}},
		{"negative bound", []string{"--max-base", "-1"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, _, _ := runCLI(tc.args...)
			check.Equal(t, exitError, code)
		})
	}
}

func TestRun_Help(t *testing.T) {
	code, out, _ := runCLI("--help")
	check.Equal(t, exitOK, code)
	check.True(t, strings.Contains(out, "sats-gen [options]"))
}
