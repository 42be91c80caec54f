package reservations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/pkg/db/models"
)

// Repository owns reservation persistence. Lifecycle writes happen only
// through the reconciliation flow, always inside its transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	// FindByIDForUpdate takes a row lock so concurrent reconciliations for the
	// same reservation serialize instead of double-applying.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	FindByIDWithPayments(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	Save(ctx context.Context, reservation *models.Reservation) error
}
