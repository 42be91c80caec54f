package reservations

import (
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
)

// legalTransitions enumerates the allowed lifecycle moves. Everything else is
// rejected with a state-conflict error.
var legalTransitions = map[enums.ReservationStatus][]enums.ReservationStatus{
	enums.ReservationStatusPending:   {enums.ReservationStatusConfirmed, enums.ReservationStatusCancelled},
	enums.ReservationStatusConfirmed: {enums.ReservationStatusCompleted, enums.ReservationStatusCancelled},
}

// CanTransition reports whether the lifecycle move from -> to is legal.
func CanTransition(from, to enums.ReservationStatus) bool {
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error when the lifecycle move is illegal.
func ValidateTransition(from, to enums.ReservationStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal reservation transition").
		WithDetails(map[string]any{"from": from.String(), "to": to.String()})
}

// ValidateSettlementProgress rejects settlement regressions. Settlement only
// moves forward: pending -> partial -> paid.
func ValidateSettlementProgress(from, to enums.SettlementStatus) error {
	if from.CanProgressTo(to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "settlement status cannot regress").
		WithDetails(map[string]any{"from": from.String(), "to": to.String()})
}

// SettlementFor maps the cumulative settled amount against the reservation
// total. Zero or negative settled amounts never occur here; callers validate
// amounts before recording payments.
func SettlementFor(settled, total decimal.Decimal) enums.SettlementStatus {
	if settled.GreaterThanOrEqual(total) {
		return enums.SettlementStatusPaid
	}
	return enums.SettlementStatusPartial
}
