package reservations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reservation repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return r.findOne(r.db.WithContext(ctx), id)
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	q := r.db.WithContext(ctx)
	// sqlite has no row locks; its single-writer model serializes for us.
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findOne(q, id)
}

func (r *repository) FindByIDWithPayments(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	q := r.db.WithContext(ctx).Preload("Payments", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	})
	return r.findOne(q, id)
}

func (r *repository) Save(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Save(reservation).Error
}

func (r *repository) findOne(q *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := q.Where("id = ?", id).First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found").
				WithDetails(map[string]any{"reservation_id": id.String()})
		}
		return nil, err
	}
	return &reservation, nil
}
