package fees

import (
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
)

var oneHundred = decimal.NewFromInt(100)

// Breakdown is the deterministic output of a fee computation.
type Breakdown struct {
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
}

// Policy is the minimal fee configuration the calculator consumes.
type Policy struct {
	Type  enums.FeeType
	Value decimal.Decimal
}

// Compute derives the fee, customer-payable total, and studio net for a base
// amount under the given policy. Percentage fees round half-up to two decimal
// places; the same rounding applies on every invocation so repeated
// computations for the same inputs always agree. Pure, safe for concurrent use.
func Compute(baseAmount decimal.Decimal, policy Policy, customerPaysFees bool) (Breakdown, error) {
	if baseAmount.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "base amount must not be negative")
	}
	if policy.Value.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "fee value must not be negative")
	}

	var feeAmount decimal.Decimal
	switch policy.Type {
	case enums.FeeTypeFixed:
		feeAmount = policy.Value.Round(2)
	case enums.FeeTypePercentage:
		feeAmount = baseAmount.Mul(policy.Value).Div(oneHundred).Round(2)
	default:
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown fee type").
			WithDetails(map[string]any{"fee_type": policy.Type.String()})
	}

	if customerPaysFees {
		return Breakdown{
			FeeAmount:   feeAmount,
			TotalAmount: baseAmount.Add(feeAmount),
			NetAmount:   baseAmount,
		}, nil
	}
	return Breakdown{
		FeeAmount:   feeAmount,
		TotalAmount: baseAmount,
		NetAmount:   baseAmount.Sub(feeAmount),
	}, nil
}
