package enums

import "fmt"

// FeeType describes how a fee policy computes its fee amount.
type FeeType string

const (
	FeeTypeFixed      FeeType = "fixed"
	FeeTypePercentage FeeType = "percentage"
)

var validFeeTypes = []FeeType{
	FeeTypeFixed,
	FeeTypePercentage,
}

// String implements fmt.Stringer.
func (f FeeType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FeeType.
func (f FeeType) IsValid() bool {
	for _, candidate := range validFeeTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFeeType converts raw input into a FeeType.
func ParseFeeType(value string) (FeeType, error) {
	for _, candidate := range validFeeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fee type %q", value)
}
