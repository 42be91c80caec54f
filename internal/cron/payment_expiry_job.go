package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reconcile"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
)

const expiryBatchSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type paymentLinkDeleter interface {
	DeletePaymentLink(ctx context.Context, paymentLinkID string) error
}

// PaymentExpiryJobParams configure the stale checkout sweeper.
type PaymentExpiryJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Ledger       payments.Ledger
	Reservations reservations.Repository
	Outbox       outboxEmitter
	Square       paymentLinkDeleter
	LinkTTL      time.Duration
}

// NewPaymentExpiryJob builds the cron job that cancels pending payments whose
// checkout link outlived its TTL, freeing the one-pending slot for a retry.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	ttl := params.LinkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &paymentExpiryJob{
		logg:    params.Logger,
		db:      params.DB,
		ledger:  params.Ledger,
		resRepo: params.Reservations,
		outbox:  params.Outbox,
		square:  params.Square,
		linkTTL: ttl,
		now:     time.Now,
	}, nil
}

type paymentExpiryJob struct {
	logg    *logger.Logger
	db      txRunner
	ledger  payments.Ledger
	resRepo reservations.Repository
	outbox  outboxEmitter
	square  paymentLinkDeleter
	linkTTL time.Duration
	now     func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.linkTTL)
	stale, err := j.ledger.FindStalePending(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return fmt.Errorf("query stale pending payments: %w", err)
	}

	var errs []error
	expired := 0
	for _, payment := range stale {
		if err := j.expirePayment(ctx, payment); err != nil {
			errs = append(errs, fmt.Errorf("expire payment %s: %w", payment.ID, err))
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(stale), "expired": expired})
	j.logg.Info(logCtx, "payment expiry loop complete")
	return multierr.Combine(errs...)
}

func (j *paymentExpiryJob) expirePayment(ctx context.Context, payment models.Payment) error {
	var cancelled *models.Payment
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		resRepo := j.resRepo.WithTx(tx)
		ledger := j.ledger.WithTx(tx)

		// Lock the reservation so a webhook settling this payment right now
		// either wins before us or sees the cancellation.
		if _, err := resRepo.FindByIDForUpdate(ctx, payment.ReservationID); err != nil {
			return err
		}

		row, applied, err := ledger.MarkCancelled(ctx, payment.ID, "EXPIRED")
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		cancelled = row

		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentExpired,
			AggregateType: enums.AggregatePayment,
			AggregateID:   row.ID,
			Version:       1,
			OccurredAt:    j.now().UTC(),
			Data: reconcile.PaymentExpiredEvent{
				PaymentID:     row.ID,
				ReservationID: row.ReservationID,
			},
		})
	})
	if err != nil || cancelled == nil {
		return err
	}

	// Best effort teardown of the hosted page; the payment is already
	// cancelled locally and the webhook path tolerates a late settlement.
	if j.square != nil && cancelled.GatewayLinkID != nil {
		if err := j.square.DeletePaymentLink(ctx, *cancelled.GatewayLinkID); err != nil {
			j.logg.Error(j.logg.WithField(ctx, "payment_id", cancelled.ID.String()), "delete expired payment link", err)
		}
	}
	return nil
}
