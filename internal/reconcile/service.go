package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/pkg/config"
	dbpkg "github.com/lumenworks/studiobook-backend/pkg/db"
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/metrics"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the reconciliation coordinator. Every settlement or failure event
// for a reservation, whatever its origin, funnels through here so the
// reservation row and its payment rows change together or not at all.
type Service interface {
	Reconcile(ctx context.Context, input Input) (*Snapshot, error)
	RecordFailure(ctx context.Context, input FailureInput) (*Snapshot, error)
}

// ServiceParams collects the coordinator's dependencies.
type ServiceParams struct {
	Tx           txRunner
	Reservations reservations.Repository
	Ledger       payments.Ledger
	Outbox       outboxEmitter
	Metrics      *metrics.ReconcileMetrics
	Logger       *logger.Logger
	Config       config.ReconcileConfig
}

type service struct {
	tx      txRunner
	resRepo reservations.Repository
	ledger  payments.Ledger
	outbox  outboxEmitter
	metrics *metrics.ReconcileMetrics
	logg    *logger.Logger
	cfg     config.ReconcileConfig
}

// NewService validates the dependencies and builds the coordinator.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, errors.New("reconcile: tx runner is required")
	}
	if params.Reservations == nil {
		return nil, errors.New("reconcile: reservations repository is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("reconcile: payment ledger is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("reconcile: outbox emitter is required")
	}
	if params.Logger == nil {
		return nil, errors.New("reconcile: logger is required")
	}
	cfg := params.Config
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &service{
		tx:      params.Tx,
		resRepo: params.Reservations,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		cfg:     cfg,
	}, nil
}

// Reconcile applies one settlement event: locate or create the payment row,
// mark it paid, and advance the reservation's lifecycle and settlement state
// in the same transaction. Conflicting writers for the same reservation
// serialize on the row lock; transient conflicts retry on a fresh snapshot
// within a bounded number of attempts.
func (s *service) Reconcile(ctx context.Context, input Input) (*Snapshot, error) {
	if input.ReservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive").
			WithDetails(map[string]any{"amount": input.Amount.String()})
	}

	ctx = s.logg.WithReservationID(ctx, input.ReservationID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{"source": string(input.Source)})

	var snap *Snapshot
	run := func(ctx context.Context) error {
		txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
		defer cancel()
		err := s.tx.WithTx(txCtx, func(tx *gorm.DB) error {
			result, err := s.reconcileTx(txCtx, tx, input)
			if err != nil {
				return err
			}
			snap = result
			return nil
		})
		if err != nil && dbpkg.IsRetryableTxError(err) {
			return retry.RetryableError(err)
		}
		return err
	}

	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.NewFibonacci(25*time.Millisecond))
	if err := retry.Do(ctx, backoff, run); err != nil {
		s.metrics.IncOutcome(string(input.Source), "error")
		return nil, err
	}

	s.metrics.IncOutcome(string(input.Source), string(snap.Outcome))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"outcome": string(snap.Outcome)}), "reconciliation applied")
	return snap, nil
}

func (s *service) reconcileTx(ctx context.Context, tx *gorm.DB, input Input) (*Snapshot, error) {
	resRepo := s.resRepo.WithTx(tx)
	ledger := s.ledger.WithTx(tx)

	reservation, err := resRepo.FindByIDForUpdate(ctx, input.ReservationID)
	if err != nil {
		// The aborting transaction guarantees no orphan payment row is left
		// behind for an unknown reservation.
		return nil, err
	}

	// Replay detection ahead of the lifecycle guard: a webhook retried after
	// its effect was committed must ack cleanly even if the reservation has
	// since moved on.
	var payment *models.Payment
	if input.ExternalReference != "" {
		payment, err = ledger.FindByExternalReference(ctx, input.ExternalReference)
		if err != nil {
			return nil, err
		}
		if payment != nil && payment.Status == enums.PaymentStatusPaid {
			return &Snapshot{Reservation: *reservation, Payment: payment, Outcome: OutcomeReplay}, nil
		}
	}

	switch reservation.Status {
	case enums.ReservationStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is cancelled").
			WithDetails(map[string]any{"reservation_id": reservation.ID.String()})
	case enums.ReservationStatusCompleted:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is already completed").
			WithDetails(map[string]any{"reservation_id": reservation.ID.String()})
	}

	// A fully settled reservation accepts no further money. A late gateway
	// event acks benignly so the provider stops retrying; a manual confirm
	// surfaces the conflict to the operator instead of minting a second row.
	if reservation.PaymentStatus == enums.SettlementStatusPaid {
		if input.Source == SourceManual {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is already settled").
				WithDetails(map[string]any{"reservation_id": reservation.ID.String()})
		}
		return &Snapshot{Reservation: *reservation, Payment: payment, Outcome: OutcomeReplay}, nil
	}

	if payment == nil {
		payment, err = s.locatePayment(ctx, ledger, reservation, input)
		if err != nil {
			return nil, err
		}
	}

	paidAt := time.Now()
	if input.PaidAt != nil {
		paidAt = *input.PaidAt
	}
	payment, applied, err := ledger.MarkPaid(ctx, payment.ID, input.ExternalStatus, paidAt, input.RawCallback)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &Snapshot{Reservation: *reservation, Payment: payment, Outcome: OutcomeReplay}, nil
	}

	settled, err := ledger.SumSettled(ctx, reservation.ID)
	if err != nil {
		return nil, err
	}
	next := reservations.SettlementFor(settled, reservation.TotalAmount)
	if err := reservations.ValidateSettlementProgress(reservation.PaymentStatus, next); err != nil {
		return nil, err
	}

	reservation.PaymentStatus = next
	if reservation.Status == enums.ReservationStatusPending {
		// A deposit is enough to hold the booking, so any accepted payment
		// confirms the reservation.
		if err := reservations.ValidateTransition(reservation.Status, enums.ReservationStatusConfirmed); err != nil {
			return nil, err
		}
		reservation.Status = enums.ReservationStatusConfirmed
		now := time.Now()
		reservation.ConfirmedAt = &now
	}
	if err := resRepo.Save(ctx, reservation); err != nil {
		return nil, err
	}

	if err := s.emitSettlementEvents(ctx, tx, reservation, payment, next, input.Actor); err != nil {
		return nil, err
	}

	outcome := OutcomePartial
	if next == enums.SettlementStatusPaid {
		outcome = OutcomeSettled
	}
	return &Snapshot{Reservation: *reservation, Payment: payment, Outcome: outcome}, nil
}

func (s *service) locatePayment(ctx context.Context, ledger payments.Ledger, reservation *models.Reservation, input Input) (*models.Payment, error) {
	paymentType := input.PaymentType
	if !paymentType.IsValid() {
		if input.Amount.GreaterThanOrEqual(reservation.TotalAmount) {
			paymentType = enums.PaymentTypeFull
		} else {
			paymentType = enums.PaymentTypeDeposit
		}
	}

	if input.ExternalReference != "" {
		return ledger.UpsertByExternalReference(ctx, payments.UpsertInput{
			ReservationID:     reservation.ID,
			Amount:            input.Amount,
			PaymentType:       paymentType,
			PaymentMethod:     input.PaymentMethod,
			ExternalReference: input.ExternalReference,
		})
	}

	pending, err := ledger.FindPending(ctx, reservation.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return pending, nil
	}

	// A fresh manual row never records more than what is still owed, so a
	// staff confirm entered with the full total on a part-paid reservation
	// settles the remainder rather than overstating the ledger.
	amount := input.Amount
	settled, err := ledger.SumSettled(ctx, reservation.ID)
	if err != nil {
		return nil, err
	}
	if outstanding := reservation.TotalAmount.Sub(settled); outstanding.IsPositive() && amount.GreaterThan(outstanding) {
		amount = outstanding
	}
	return ledger.Create(ctx, &models.Payment{
		ReservationID: reservation.ID,
		Amount:        amount,
		PaymentType:   paymentType,
		PaymentMethod: input.PaymentMethod,
		Status:        enums.PaymentStatusPending,
	})
}

func (s *service) emitSettlementEvents(ctx context.Context, tx *gorm.DB, reservation *models.Reservation, payment *models.Payment, next enums.SettlementStatus, actor *outbox.ActorRef) error {
	confirmEvent := outbox.DomainEvent{
		EventType:     enums.EventReservationConfirmed,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservation.ID,
		Actor:         actor,
		Version:       1,
		Data: ReservationConfirmedEvent{
			ReservationID: reservation.ID,
			StudioID:      reservation.StudioID,
			CustomerID:    reservation.CustomerID,
			Status:        reservation.Status,
			PaymentStatus: reservation.PaymentStatus,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, confirmEvent); err != nil {
		return err
	}

	if next != enums.SettlementStatusPaid {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		Version:       1,
		Data: PaymentSettledEvent{
			PaymentID:     payment.ID,
			ReservationID: reservation.ID,
			Amount:        payment.Amount,
			PaymentMethod: payment.PaymentMethod,
		},
	})
}

// RecordFailure applies a gateway failure/expiry event against the payment row
// owning the external reference. Unknown references are acknowledged as benign
// no-ops since the gateway retries ids that never mapped to a payment here.
func (s *service) RecordFailure(ctx context.Context, input FailureInput) (*Snapshot, error) {
	if input.ExternalReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	var snap *Snapshot
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		payment, err := ledger.FindByExternalReference(ctx, input.ExternalReference)
		if err != nil {
			return err
		}
		if payment == nil {
			snap = &Snapshot{Outcome: OutcomeNoop}
			return nil
		}

		resRepo := s.resRepo.WithTx(tx)
		reservation, err := resRepo.FindByIDForUpdate(ctx, payment.ReservationID)
		if err != nil {
			return err
		}

		payment, applied, err := ledger.MarkFailed(ctx, payment.ID, input.ExternalStatus, input.RawCallback)
		if err != nil {
			return err
		}
		if !applied {
			snap = &Snapshot{Reservation: *reservation, Payment: payment, Outcome: OutcomeReplay}
			return nil
		}

		// Only a reservation that never saw money moves to failed; partial or
		// full settlement is never regressed by a late failure callback.
		if reservation.PaymentStatus == enums.SettlementStatusPending {
			reservation.PaymentStatus = enums.SettlementStatusFailed
			if err := resRepo.Save(ctx, reservation); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data: PaymentFailedEvent{
				PaymentID:      payment.ID,
				ReservationID:  reservation.ID,
				ExternalStatus: input.ExternalStatus,
			},
		}); err != nil {
			return err
		}

		snap = &Snapshot{Reservation: *reservation, Payment: payment, Outcome: OutcomeFailed}
		return nil
	})
	if err != nil {
		s.metrics.IncOutcome(string(input.Source), "error")
		return nil, err
	}

	s.metrics.IncOutcome(string(input.Source), string(snap.Outcome))
	return snap, nil
}
