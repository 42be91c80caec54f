package reconcile

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
)

// ReservationConfirmedEvent is published when a reservation first reaches
// confirmed, and refreshed settlement detail rides along on later updates.
type ReservationConfirmedEvent struct {
	ReservationID uuid.UUID               `json:"reservation_id"`
	StudioID      uuid.UUID               `json:"studio_id"`
	CustomerID    uuid.UUID               `json:"customer_id"`
	Status        enums.ReservationStatus `json:"status"`
	PaymentStatus enums.SettlementStatus  `json:"payment_status"`
}

// PaymentSettledEvent is published when cumulative settlement covers the
// reservation total.
type PaymentSettledEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	ReservationID uuid.UUID       `json:"reservation_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

// PaymentFailedEvent is published when a gateway reports a payment as failed
// or expired before any settlement.
type PaymentFailedEvent struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	ReservationID  uuid.UUID `json:"reservation_id"`
	ExternalStatus string    `json:"external_status"`
}

// PaymentExpiredEvent is published when the expiry job cancels a stale
// pending payment.
type PaymentExpiredEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
}
