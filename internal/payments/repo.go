package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/lumenworks/studiobook-backend/pkg/db"
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
)

type repository struct {
	db *gorm.DB
}

// NewLedger builds the payment ledger bound to the provided DB.
func NewLedger(db *gorm.DB) Ledger {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
				WithDetails(map[string]any{"payment_id": id.String()})
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPending(ctx context.Context, reservationID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("reservation_id = ? AND status = ?", reservationID, enums.PaymentStatusPending).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByExternalReference(ctx context.Context, externalReference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("external_reference = ?", externalReference).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// Create inserts a payment row, refusing when the reservation already has a
// pending one. The partial unique index ux_payments_one_pending backs the same
// rule at the database level for concurrent writers.
func (r *repository) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}

	existing, err := r.FindPending(ctx, payment.ReservationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "reservation already has a pending payment").
			WithDetails(map[string]any{
				"reservation_id": payment.ReservationID.String(),
				"payment_id":     existing.ID.String(),
			})
	}

	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_payments_one_pending") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reservation already has a pending payment")
		}
		return nil, err
	}
	return payment, nil
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, externalStatus string, paidAt time.Time, rawCallback []byte) (*models.Payment, bool, error) {
	payment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if payment.Status.IsTerminal() {
		return payment, false, nil
	}

	payment.Status = enums.PaymentStatusPaid
	payment.PaidAt = &paidAt
	applyCallback(payment, externalStatus, rawCallback)
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return nil, false, err
	}
	return payment, true, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, externalStatus string, rawCallback []byte) (*models.Payment, bool, error) {
	payment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if payment.Status.IsTerminal() {
		return payment, false, nil
	}

	payment.Status = enums.PaymentStatusFailed
	applyCallback(payment, externalStatus, rawCallback)
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return nil, false, err
	}
	return payment, true, nil
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, externalStatus string) (*models.Payment, bool, error) {
	payment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if payment.Status.IsTerminal() {
		return payment, false, nil
	}

	payment.Status = enums.PaymentStatusCancelled
	applyCallback(payment, externalStatus, nil)
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return nil, false, err
	}
	return payment, true, nil
}

// UpsertByExternalReference reconciles gateway data into the payment row that
// owns the external reference. Manual confirmation may have pre-created a
// pending row before the gateway assigned its reference; in that case the
// reference is attached to the existing row instead of inserting a duplicate.
func (r *repository) UpsertByExternalReference(ctx context.Context, input UpsertInput) (*models.Payment, error) {
	if input.ExternalReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	payment, err := r.FindByExternalReference(ctx, input.ExternalReference)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		payment.Amount = input.Amount
		if input.PaymentMethod != "" {
			payment.PaymentMethod = input.PaymentMethod
		}
		if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
			return nil, err
		}
		return payment, nil
	}

	pending, err := r.FindPending(ctx, input.ReservationID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		ref := input.ExternalReference
		pending.ExternalReference = &ref
		pending.Amount = input.Amount
		if input.PaymentMethod != "" {
			pending.PaymentMethod = input.PaymentMethod
		}
		if err := r.db.WithContext(ctx).Save(pending).Error; err != nil {
			return nil, err
		}
		return pending, nil
	}

	ref := input.ExternalReference
	created := &models.Payment{
		ReservationID:     input.ReservationID,
		Amount:            input.Amount,
		PaymentType:       input.PaymentType,
		PaymentMethod:     input.PaymentMethod,
		Status:            enums.PaymentStatusPending,
		ExternalReference: &ref,
	}
	return r.Create(ctx, created)
}

func (r *repository) AttachGatewayLink(ctx context.Context, id uuid.UUID, externalReference, gatewayLinkID string) (*models.Payment, error) {
	if externalReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	payment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer pending").
			WithDetails(map[string]any{"payment_id": id.String(), "status": payment.Status.String()})
	}

	ref := externalReference
	payment.ExternalReference = &ref
	if gatewayLinkID != "" {
		linkID := gatewayLinkID
		payment.GatewayLinkID = &linkID
	}
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *repository) SumSettled(ctx context.Context, reservationID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("SUM(amount)").
		Where("reservation_id = ? AND status = ?", reservationID, enums.PaymentStatusPaid).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *repository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func applyCallback(payment *models.Payment, externalStatus string, rawCallback []byte) {
	if externalStatus != "" {
		status := externalStatus
		payment.ExternalStatus = &status
	}
	if len(rawCallback) > 0 {
		payment.CallbackPayload = json.RawMessage(rawCallback)
	}
}
