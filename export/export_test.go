package export

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/spectrumauctions/sats/core"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func sampleBids() ([]*core.Bid, core.Supply) {
	b1 := core.NewBid("b1", "w1")
	b1.Add(core.AtomicValue{ID: 1, Bundle: core.BundleOf("A"), Value: dec(8)})
	b1.Add(core.AtomicValue{ID: 2, Bundle: core.BundleOf("A", "B"), Value: dec(12.5)})
	b2 := core.NewBid("b2", "w1")
	b2.Add(core.AtomicValue{ID: 3, Bundle: core.BundleOf("B"), Value: dec(7)})
	return []*core.Bid{b2, b1}, core.Supply{"A": 1, "B": 1}
}

func sampleResult() *core.MechanismResult {
	alloc := core.NewAllocation()
	alloc.Assign(core.BidderAllocation{BidderID: "b2", Bundle: core.BundleOf("B"), Value: dec(7), AtomicValueID: 3})
	alloc.Assign(core.BidderAllocation{BidderID: "b1", Bundle: core.BundleOf("A"), Value: dec(8), AtomicValueID: 1})
	payments := core.Payment{"b1": dec(5.5), "b2": dec(4.5)}
	return &core.MechanismResult{
		RunID:        "run-1",
		Status:       core.StatusExact,
		Rule:         core.PaymentCCG,
		Allocation:   alloc,
		Payments:     payments,
		VCGPayments:  core.Payment{"b1": dec(5.5), "b2": dec(4.5)},
		Revenue:      payments.Total(),
		BidSetDigest: "abc",
	}
}

func TestJSON_WriteRead(t *testing.T) {
	bids, supply := sampleBids()
	var buf bytes.Buffer
	assert.NoError(t, WriteJSON(&buf, "w1", core.GoodGranularity, supply, bids))
	check.True(t, strings.Contains(buf.String(), `"bundle": [`))
	check.True(t, strings.Contains(buf.String(), `"value": 12.5`))

	f, err := ReadJSON(&buf)
	assert.NoError(t, err)
	check.Equal(t, "w1", f.WorldID)
	check.Equal(t, "good", f.Granularity)
	check.Equal(t, supply, f.SupplyMap())

	read, err := f.Bids()
	assert.NoError(t, err)
	assert.Equal(t, 2, len(read))
	check.Equal(t, "b1", read[0].BidderID)
	check.Equal(t, 2, len(read[0].Values))
	check.True(t, read[0].Values[1].Bundle.Equal(core.BundleOf("A", "B")))
	check.Equal(t, dec(12.5), read[0].Values[1].Value)
	check.Equal(t, "w1", read[1].WorldID)
}

func TestJSON_GenericBundlesRepeatItems(t *testing.T) {
	bundle, err := core.BundleFromQuantities(map[core.ItemID]int{"lic": 2})
	assert.NoError(t, err)
	bid := core.NewBid("b1", "w1")
	bid.Add(core.AtomicValue{ID: 1, Bundle: bundle, Value: dec(3)})

	f := NewBidFile("w1", core.GenericGranularity, core.Supply{"lic": 3}, []*core.Bid{bid})
	check.Equal(t, []core.ItemID{"lic", "lic"}, f.Bidders[0].Bids[0].Bundle)

	bids, err := f.Bids()
	assert.NoError(t, err)
	check.Equal(t, 2, bids[0].Values[0].Bundle.Quantity("lic"))
}

func TestReadJSON_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"not json", "bids"},
		{"unknown field", `{"world_id":"w","supply":{"A":1},"bidders":[],"extra":1}`},
		{"bad granularity", `{"world_id":"w","granularity":"lots","supply":{"A":1},"bidders":[]}`},
		{"no supply", `{"world_id":"w","bidders":[]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadJSON(strings.NewReader(tc.in))
			check.True(t, errors.Is(err, core.ErrInvalidInput))
		})
	}
}

func TestWriteCATS(t *testing.T) {
	bids, supply := sampleBids()
	var buf bytes.Buffer
	assert.NoError(t, WriteCATS(&buf, supply, []*core.Bid{bids[1], bids[0]}))

	want := "% CATS bid file\n" +
		"goods 2\nbids 3\ndummy 1\n\n" +
		"% bidder b1\n" +
		"0\t8\t0\t2\t#\n" +
		"1\t12.5\t0\t1\t2\t#\n" +
		"% bidder b2\n" +
		"2\t7\t1\t#\n"
	check.Equal(t, want, buf.String())
}

func TestWriteCATS_Rejects(t *testing.T) {
	bundle, err := core.BundleFromQuantities(map[core.ItemID]int{"lic": 2})
	assert.NoError(t, err)
	generic := core.NewBid("b1", "w1")
	generic.Add(core.AtomicValue{ID: 1, Bundle: bundle, Value: dec(3)})
	err = WriteCATS(&bytes.Buffer{}, core.Supply{"lic": 2}, []*core.Bid{generic})
	check.True(t, errors.Is(err, core.ErrUnsupportedBiddingLanguage))

	unknown := core.NewBid("b1", "w1")
	unknown.Add(core.AtomicValue{ID: 1, Bundle: core.BundleOf("Z"), Value: dec(3)})
	err = WriteCATS(&bytes.Buffer{}, core.Supply{"A": 1}, []*core.Bid{unknown})
	check.True(t, errors.Is(err, core.ErrIncompatibleWorld))
}

func TestMarshalResult_Deterministic(t *testing.T) {
	a, err := MarshalResult(sampleResult())
	assert.NoError(t, err)
	for range 5 {
		b, err := MarshalResult(sampleResult())
		assert.NoError(t, err)
		check.True(t, bytes.Equal(a, b))
	}

	rec, err := UnmarshalResult(a)
	assert.NoError(t, err)
	check.Equal(t, "run-1", rec.RunID)
	check.Equal(t, "15", rec.TotalValue)
	check.Equal(t, "10", rec.Revenue)
	assert.Equal(t, 2, len(rec.Winners))
	check.Equal(t, "b1", rec.Winners[0].BidderID)
	check.Equal(t, "5.5", rec.Winners[0].Payment)
	check.Equal(t, []core.ItemID{"B"}, rec.Winners[1].Bundle)
	check.Equal(t, core.ComputePaymentHash(sampleResult().Payments, "run-1"), rec.PaymentHash)
}

func TestMarshalResult_Failed(t *testing.T) {
	res := core.FailedResult("run-2", core.PaymentVCG, core.ErrInfeasibleModel)
	b, err := MarshalResult(res)
	assert.NoError(t, err)
	rec, err := UnmarshalResult(b)
	assert.NoError(t, err)
	check.Equal(t, "failed", rec.Status)
	check.Equal(t, core.ErrInfeasibleModel.Error(), rec.Cause)
	check.Equal(t, 0, len(rec.Winners))
}

func TestMarshalBidFile_Deterministic(t *testing.T) {
	bids, supply := sampleBids()
	a, err := MarshalBidFile(NewBidFile("w1", core.GoodGranularity, supply, bids))
	assert.NoError(t, err)
	b, err := MarshalBidFile(NewBidFile("w1", core.GoodGranularity, supply, []*core.Bid{bids[1], bids[0]}))
	assert.NoError(t, err)
	check.True(t, bytes.Equal(a, b))

	var f BidFile
	assert.NoError(t, cbor.Unmarshal(a, &f))
	check.Equal(t, "b1", f.Bidders[0].BidderID)
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	return key
}

func TestSignVerifyResult(t *testing.T) {
	key := newKey(t)
	envelope, err := SignResult(sampleResult(), key)
	assert.NoError(t, err)

	rec, err := VerifyResult(envelope, &key.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, "run-1", rec.RunID)
	check.Equal(t, "abc", rec.BidSetDigest)

	payload, err := ExtractPayload(envelope)
	assert.NoError(t, err)
	want, err := MarshalResult(sampleResult())
	assert.NoError(t, err)
	check.True(t, bytes.Equal(want, payload))
}

func TestVerifyResult_Rejects(t *testing.T) {
	key := newKey(t)
	envelope, err := SignResult(sampleResult(), key)
	assert.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := VerifyResult(envelope, &newKey(t).PublicKey)
		check.Error(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		other := sampleResult()
		other.Revenue = dec(1)
		forged, err := SignResult(other, newKey(t))
		assert.NoError(t, err)
		_, err = VerifyResult(forged, &key.PublicKey)
		check.Error(t, err)
	})

	t.Run("not cose", func(t *testing.T) {
		garbage, err := cbor.Marshal([]int{1, 2})
		assert.NoError(t, err)
		_, err = VerifyResult(garbage, &key.PublicKey)
		check.Error(t, err)
		_, err = ExtractPayload(garbage)
		check.Error(t, err)
	})
}
