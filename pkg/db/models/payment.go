package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
)

// Payment records one expected or actual money movement against a reservation.
// A reservation may own many payment rows over time but at most one in pending
// status, enforced by ux_payments_one_pending. CallbackPayload keeps the last
// raw gateway callback verbatim for audit; the core never parses it beyond the
// named columns.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReservationID     uuid.UUID           `gorm:"column:reservation_id;type:uuid;not null;index"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	PaymentType       enums.PaymentType   `gorm:"column:payment_type;type:payment_type;not null"`
	PaymentMethod     string              `gorm:"column:payment_method;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	ExternalReference *string             `gorm:"column:external_reference;unique"`
	ExternalStatus    *string             `gorm:"column:external_status"`
	GatewayLinkID     *string             `gorm:"column:gateway_link_id"`
	PaidAt            *time.Time          `gorm:"column:paid_at"`
	CallbackPayload   json.RawMessage     `gorm:"column:callback_payload;type:jsonb"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
