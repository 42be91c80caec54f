package enums

import "fmt"

// SettlementStatus tracks how much of a reservation's payment obligation is
// covered. It moves monotonically toward paid: pending -> partial -> paid.
type SettlementStatus string

const (
	SettlementStatusPending  SettlementStatus = "pending"
	SettlementStatusPartial  SettlementStatus = "partial"
	SettlementStatusPaid     SettlementStatus = "paid"
	SettlementStatusFailed   SettlementStatus = "failed"
	SettlementStatusRefunded SettlementStatus = "refunded"
)

var validSettlementStatuses = []SettlementStatus{
	SettlementStatusPending,
	SettlementStatusPartial,
	SettlementStatusPaid,
	SettlementStatusFailed,
	SettlementStatusRefunded,
}

// String implements fmt.Stringer.
func (s SettlementStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SettlementStatus.
func (s SettlementStatus) IsValid() bool {
	for _, candidate := range validSettlementStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// rank orders settlement progression; regressions are rejected by the state
// machine. Failed ranks with pending so a retried payment can still settle.
func (s SettlementStatus) rank() int {
	switch s {
	case SettlementStatusPending, SettlementStatusFailed:
		return 0
	case SettlementStatusPartial:
		return 1
	case SettlementStatusPaid:
		return 2
	default:
		return -1
	}
}

// CanProgressTo reports whether moving from s to next respects the monotonic
// settlement ordering. Failed and refunded sit outside the ordering and are
// validated by the state machine directly.
func (s SettlementStatus) CanProgressTo(next SettlementStatus) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 {
		return false
	}
	return to >= from
}

// ParseSettlementStatus converts raw input into a SettlementStatus.
func ParseSettlementStatus(value string) (SettlementStatus, error) {
	for _, candidate := range validSettlementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement status %q", value)
}
