package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
)

// UpsertInput carries the fields reconciled into a payment row keyed by the
// gateway's external reference.
type UpsertInput struct {
	ReservationID     uuid.UUID
	Amount            decimal.Decimal
	PaymentType       enums.PaymentType
	PaymentMethod     string
	ExternalReference string
}

// Ledger owns payment rows for reservations. It enforces the one-pending-row
// rule on create and tolerates webhook replays on the mark operations: marking
// an already-terminal payment returns the existing row with applied=false
// instead of erroring.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	// FindPending returns nil without error when the reservation has no open
	// payment attempt.
	FindPending(ctx context.Context, reservationID uuid.UUID) (*models.Payment, error)
	// FindByExternalReference returns nil without error when no payment is
	// linked to the gateway reference.
	FindByExternalReference(ctx context.Context, externalReference string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	MarkPaid(ctx context.Context, id uuid.UUID, externalStatus string, paidAt time.Time, rawCallback []byte) (*models.Payment, bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, externalStatus string, rawCallback []byte) (*models.Payment, bool, error)
	UpsertByExternalReference(ctx context.Context, input UpsertInput) (*models.Payment, error)
	// AttachGatewayLink records the gateway correlation ids on a pending
	// payment once the hosted checkout page exists.
	AttachGatewayLink(ctx context.Context, id uuid.UUID, externalReference, gatewayLinkID string) (*models.Payment, error)
	// SumSettled totals the amounts of paid rows for the reservation.
	SumSettled(ctx context.Context, reservationID uuid.UUID) (decimal.Decimal, error)
	// FindStalePending lists pending payments created before the cutoff,
	// consumed by the checkout expiry job.
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, externalStatus string) (*models.Payment, bool, error)
}
