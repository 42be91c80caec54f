package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
)

// Reservation is a booking of a studio package by a customer. The booking flow
// creates it in pending/pending; only the reconciliation coordinator mutates it
// afterwards. Rows are never deleted, only status-transitioned.
type Reservation struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StudioID      uuid.UUID               `gorm:"column:studio_id;type:uuid;not null;index"`
	CustomerID    uuid.UUID               `gorm:"column:customer_id;type:uuid;not null;index"`
	PackageID     uuid.UUID               `gorm:"column:package_id;type:uuid;not null"`
	TotalAmount   decimal.Decimal         `gorm:"column:total_amount;type:numeric(14,2);not null"`
	Status        enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'pending'"`
	PaymentStatus enums.SettlementStatus  `gorm:"column:payment_status;type:settlement_status;not null;default:'pending'"`
	ConfirmedAt   *time.Time              `gorm:"column:confirmed_at"`
	CancelledAt   *time.Time              `gorm:"column:cancelled_at"`
	Payments      []Payment               `gorm:"foreignKey:ReservationID"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
