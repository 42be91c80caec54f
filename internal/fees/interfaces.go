package fees

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/pkg/db/models"
)

// Repository reads studio fee policies. Policies are written by the catalog
// surface, not by this service, so there are no mutation methods.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPolicy(ctx context.Context, studioID uuid.UUID, paymentMethod string) (*models.FeePolicy, error)
}
