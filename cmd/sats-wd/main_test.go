package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/spectrumauctions/sats/export"
)

const bidFile = `{
  "world_id": "w1",
  "granularity": "good",
  "supply": {"A": 1, "B": 1},
  "bidders": [
    {"bidder_id": "b1", "bids": [{"id": 1, "bundle": ["A"], "value": 8}]},
    {"bidder_id": "b2", "bids": [{"id": 2, "bundle": ["B"], "value": 8}]},
    {"bidder_id": "b3", "bids": [{"id": 3, "bundle": ["A", "B"], "value": 10}]}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_JSON(t *testing.T) {
	path := writeFile(t, "bids.json", bidFile)
	code, out, _ := runCLI("--bids", path, "--rule", "vcg", "--format", "json")
	assert.Equal(t, exitOK, code)

	var rec export.ResultRecord
	assert.NoError(t, json.Unmarshal([]byte(out), &rec))
	check.Equal(t, "exact", rec.Status)
	check.Equal(t, "vcg", rec.Rule)
	check.Equal(t, "16", rec.TotalValue)
	check.Equal(t, "4", rec.Revenue)
	check.Equal(t, 2, len(rec.Winners))
}

func TestRun_Text(t *testing.T) {
	path := writeFile(t, "bids.json", bidFile)
	code, out, _ := runCLI("--bids", path)
	assert.Equal(t, exitOK, code)
	check.True(t, strings.Contains(out, "Payment rule: ccg"))
	check.True(t, strings.Contains(out, "Revenue:      10"))
	check.True(t, strings.Contains(out, "b1 {A} value=8 pays=5"))
}

func TestRun_CATS(t *testing.T) {
	path := writeFile(t, "bids.json", bidFile)
	cats := filepath.Join(t.TempDir(), "bids.cats")
	code, _, _ := runCLI("--bids", path, "--cats", cats)
	assert.Equal(t, exitOK, code)

	data, err := os.ReadFile(cats)
	assert.NoError(t, err)
	check.True(t, strings.HasPrefix(string(data), "% CATS bid file\ngoods 2\nbids 3\ndummy 0\n"))
}

func TestRun_Signed(t *testing.T) {
	key, err := export.NewSigningKey()
	assert.NoError(t, err)
	keyPEM, err := key.PrivateKeyPEM()
	assert.NoError(t, err)
	keyPath := writeFile(t, "key.pem", string(keyPEM))
	path := writeFile(t, "bids.json", bidFile)
	pubPath := filepath.Join(t.TempDir(), "pub.pem")

	code, out, _ := runCLI("--bids", path, "--sign-key", keyPath, "--public-key-out", pubPath)
	assert.Equal(t, exitOK, code)

	pubPEM, err := os.ReadFile(pubPath)
	assert.NoError(t, err)
	pub, err := export.ParsePublicKeyPEM(pubPEM)
	assert.NoError(t, err)
	rec, err := export.VerifyResult([]byte(out), pub)
	assert.NoError(t, err)
	check.Equal(t, "ccg", rec.Rule)
}

func TestRun_Errors(t *testing.T) {
	good := writeFile(t, "bids.json", bidFile)
	foreign := writeFile(t, "foreign.json", strings.Replace(bidFile, `["A"]`, `["Z"]`, 1))

	for _, tc := range []struct {
		name string
		args []string
		want int
	}{
		{"missing bids", nil, exitError},
		{"unknown flag", []string{"--bogus"}, exitError},
		{"unreadable file", []string{"--bids", filepath.Join(t.TempDir(), "none.json")}, exitError},
		{"bad rule", []string{"--bids", good, "--rule", "first_price"}, exitError},
		{"bad format", []string{"--bids", good, "--format", "xml"}, exitError},
		{"mechanism fails", []string{"--bids", foreign}, exitFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, _, _ := runCLI(tc.args...)
			check.Equal(t, tc.want, code)
		})
	}
}

func TestRun_Help(t *testing.T) {
	code, out, _ := runCLI("--help")
	check.Equal(t, exitOK, code)
	check.True(t, strings.Contains(out, "sats-wd --bids <file>"))
}
