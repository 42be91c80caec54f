package fees

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a fee policy repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPolicy(ctx context.Context, studioID uuid.UUID, paymentMethod string) (*models.FeePolicy, error) {
	var policy models.FeePolicy
	err := r.db.WithContext(ctx).
		Where("studio_id = ? AND payment_method = ?", studioID, paymentMethod).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fee policy not found").
				WithDetails(map[string]any{
					"studio_id":      studioID.String(),
					"payment_method": paymentMethod,
				})
		}
		return nil, err
	}
	return &policy, nil
}
