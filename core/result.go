package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ResultStatus tells how much a MechanismResult can be trusted.
type ResultStatus string

const (
	// StatusExact means every optimization was solved to optimality.
	StatusExact ResultStatus = "exact"
	// StatusApproximate means at least one solve stopped at a limit with an
	// incumbent; Gap holds the largest relative gap.
	StatusApproximate ResultStatus = "approximate"
	// StatusFailed means no allocation could be produced; Cause says why.
	StatusFailed ResultStatus = "failed"
)

// PaymentRule selects how winners are charged.
type PaymentRule string

const (
	PaymentVCG PaymentRule = "vcg"
	PaymentCCG PaymentRule = "ccg"
)

// ParsePaymentRule validates a payment rule name.
func ParsePaymentRule(s string) (PaymentRule, error) {
	switch PaymentRule(s) {
	case PaymentVCG, PaymentCCG:
		return PaymentRule(s), nil
	default:
		return "", fmt.Errorf("%w: unknown payment rule %q", ErrInvalidInput, s)
	}
}

// MechanismResult is the outcome of winner determination plus payments.
type MechanismResult struct {
	RunID        string          `json:"run_id"`
	Status       ResultStatus    `json:"status"`
	Cause        string          `json:"cause,omitempty"`
	Rule         PaymentRule     `json:"rule"`
	Allocation   *Allocation     `json:"allocation,omitempty"`
	Payments     Payment         `json:"payments,omitempty"`
	VCGPayments  Payment         `json:"vcg_payments,omitempty"`
	Revenue      decimal.Decimal `json:"revenue"`
	Gap          float64         `json:"gap"`
	BidSetDigest string          `json:"bid_set_digest,omitempty"`
}

// FailedResult builds a failed result from its cause.
func FailedResult(runID string, rule PaymentRule, cause error) *MechanismResult {
	return &MechanismResult{
		RunID:   runID,
		Status:  StatusFailed,
		Cause:   cause.Error(),
		Rule:    rule,
		Revenue: decimal.Zero,
	}
}

// Utility is value minus payment for a winner, zero for losers.
func (r *MechanismResult) Utility(bidderID string) decimal.Decimal {
	if r.Allocation == nil {
		return decimal.Zero
	}
	w, ok := r.Allocation.Winners[bidderID]
	if !ok {
		return decimal.Zero
	}
	return w.Value.Sub(r.Payments[bidderID])
}
