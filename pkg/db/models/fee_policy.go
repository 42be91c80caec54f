package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
)

// FeePolicy is the studio/payment-method level fee configuration consumed
// read-only by the fee calculator.
type FeePolicy struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StudioID         uuid.UUID       `gorm:"column:studio_id;type:uuid;not null;index"`
	PaymentMethod    string          `gorm:"column:payment_method;not null"`
	FeeType          enums.FeeType   `gorm:"column:fee_type;type:fee_type;not null"`
	FeeValue         decimal.Decimal `gorm:"column:fee_value;type:numeric(14,2);not null"`
	CustomerPaysFees bool            `gorm:"column:customer_pays_fees;not null;default:false"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
