package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/pkg/config"
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
)

type testTx struct {
	db *gorm.DB
}

func (t *testTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

func setupReconcileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:reconcile_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS reservations (
  id TEXT PRIMARY KEY,
  studio_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  package_id TEXT NOT NULL,
  total_amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  confirmed_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  reservation_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  payment_type TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  external_reference TEXT,
  external_status TEXT,
  gateway_link_id TEXT,
  paid_at DATETIME,
  callback_payload TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_external_reference ON payments (external_reference)
  WHERE external_reference IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_one_pending ON payments (reservation_id)
  WHERE status = 'pending';
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "reconcile-test"})
	svc, err := NewService(ServiceParams{
		Tx:           &testTx{db: db},
		Reservations: reservations.NewRepository(db),
		Ledger:       payments.NewLedger(db),
		Outbox:       outbox.NewService(outbox.NewRepository(db), logg),
		Logger:       logg,
		Config:       config.ReconcileConfig{TxTimeout: 5 * time.Second, MaxAttempts: 1},
	})
	require.NoError(t, err)
	return svc
}

func seedReservation(t *testing.T, db *gorm.DB, total int64) *models.Reservation {
	t.Helper()

	reservation := &models.Reservation{
		ID:            uuid.New(),
		StudioID:      uuid.New(),
		CustomerID:    uuid.New(),
		PackageID:     uuid.New(),
		TotalAmount:   decimal.NewFromInt(total),
		Status:        enums.ReservationStatusPending,
		PaymentStatus: enums.SettlementStatusPending,
	}
	require.NoError(t, db.Create(reservation).Error)
	return reservation
}

func countOutboxEvents(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func countPaidPayments(t *testing.T, db *gorm.DB, reservationID uuid.UUID) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).
		Where("reservation_id = ? AND status = ?", reservationID, enums.PaymentStatusPaid).
		Count(&count).Error)
	return count
}

func TestReconcileFullPaymentSettles(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)

	snap, err := svc.Reconcile(context.Background(), Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(100000),
		PaymentMethod:     "card",
		Source:            SourceWebhook,
		ExternalReference: "order-full-1",
		ExternalStatus:    "PAID",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, snap.Outcome)
	assert.Equal(t, enums.ReservationStatusConfirmed, snap.Reservation.Status)
	assert.Equal(t, enums.SettlementStatusPaid, snap.Reservation.PaymentStatus)
	require.NotNil(t, snap.Reservation.ConfirmedAt)
	require.NotNil(t, snap.Payment)
	assert.Equal(t, enums.PaymentStatusPaid, snap.Payment.Status)
	assert.Equal(t, enums.PaymentTypeFull, snap.Payment.PaymentType)

	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventReservationConfirmed))
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentSettled))
}

func TestReconcileDepositConfirmsPartial(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)

	snap, err := svc.Reconcile(context.Background(), Input{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(40000),
		PaymentMethod: "bank_transfer",
		Source:        SourceManual,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, snap.Outcome)
	assert.Equal(t, enums.ReservationStatusConfirmed, snap.Reservation.Status)
	assert.Equal(t, enums.SettlementStatusPartial, snap.Reservation.PaymentStatus)
	assert.Equal(t, enums.PaymentTypeDeposit, snap.Payment.PaymentType)

	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventReservationConfirmed))
	assert.EqualValues(t, 0, countOutboxEvents(t, db, enums.EventPaymentSettled))
}

func TestReconcileRemainderCompletesSettlement(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(40000),
		PaymentMethod:     "card",
		Source:            SourceWebhook,
		ExternalReference: "order-dp-1",
	})
	require.NoError(t, err)

	snap, err := svc.Reconcile(ctx, Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(60000),
		PaymentMethod:     "card",
		PaymentType:       enums.PaymentTypeRemaining,
		Source:            SourceWebhook,
		ExternalReference: "order-rem-1",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, snap.Outcome)
	assert.Equal(t, enums.SettlementStatusPaid, snap.Reservation.PaymentStatus)

	// Confirmed only once even though both payments funneled through.
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventReservationConfirmed))
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentSettled))
}

func TestReconcileReplaySameReference(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ctx := context.Background()

	input := Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(100000),
		PaymentMethod:     "card",
		Source:            SourceWebhook,
		ExternalReference: "order-replay-1",
		ExternalStatus:    "PAID",
	}

	first, err := svc.Reconcile(ctx, input)
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, first.Outcome)

	replay, err := svc.Reconcile(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, replay.Outcome)

	var paymentCount int64
	require.NoError(t, db.Model(&models.Payment{}).Where("reservation_id = ?", reservation.ID).Count(&paymentCount).Error)
	assert.EqualValues(t, 1, paymentCount)
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentSettled))
}

func TestReconcileSettledReservationRejectsSecondManual(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ctx := context.Background()

	input := Input{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(100000),
		PaymentMethod: "card",
		Source:        SourceManual,
	}

	first, err := svc.Reconcile(ctx, input)
	require.NoError(t, err)
	require.Equal(t, OutcomeSettled, first.Outcome)

	// A repeated confirm must not mint a second paid row for money that was
	// already counted.
	_, err = svc.Reconcile(ctx, input)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	assert.EqualValues(t, 1, countPaidPayments(t, db, reservation.ID))
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentSettled))
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventReservationConfirmed))
}

func TestReconcileSettledReservationAcksLateWebhook(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(100000),
		PaymentMethod:     "card",
		Source:            SourceWebhook,
		ExternalReference: "order-settled-1",
		ExternalStatus:    "PAID",
	})
	require.NoError(t, err)

	// A gateway event with a reference the ledger never saw still acks once
	// the reservation is settled, so the provider stops retrying.
	snap, err := svc.Reconcile(ctx, Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(100000),
		PaymentMethod:     "card",
		Source:            SourceWebhook,
		ExternalReference: "order-settled-unseen",
		ExternalStatus:    "PAID",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, snap.Outcome)

	assert.EqualValues(t, 1, countPaidPayments(t, db, reservation.ID))
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentSettled))
}

func TestReconcileManualOverpayCappedAtOutstanding(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Input{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(40000),
		PaymentMethod: "bank_transfer",
		Source:        SourceManual,
	})
	require.NoError(t, err)

	// Staff confirming with the full total on a part-paid reservation records
	// only the remainder.
	snap, err := svc.Reconcile(ctx, Input{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(100000),
		PaymentMethod: "bank_transfer",
		Source:        SourceManual,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, snap.Outcome)
	assert.Equal(t, enums.SettlementStatusPaid, snap.Reservation.PaymentStatus)
	require.NotNil(t, snap.Payment)
	assert.True(t, snap.Payment.Amount.Equal(decimal.NewFromInt(60000)), "got %s", snap.Payment.Amount)

	ledger := payments.NewLedger(db)
	settled, err := ledger.SumSettled(ctx, reservation.ID)
	require.NoError(t, err)
	assert.True(t, settled.Equal(reservation.TotalAmount), "got %s", settled)
}

func TestReconcileCancelledReservation(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	require.NoError(t, db.Model(reservation).Update("status", enums.ReservationStatusCancelled).Error)

	_, err := svc.Reconcile(context.Background(), Input{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(100000),
		PaymentMethod: "card",
		Source:        SourceManual,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestReconcileUnknownReservation(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.Reconcile(context.Background(), Input{
		ReservationID: uuid.New(),
		Amount:        decimal.NewFromInt(100000),
		PaymentMethod: "card",
		Source:        SourceWebhook,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	// The aborted transaction leaves no orphan payment row behind.
	var paymentCount int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&paymentCount).Error)
	assert.EqualValues(t, 0, paymentCount)
}

func TestReconcileRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Input{Amount: decimal.NewFromInt(100)})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Reconcile(ctx, Input{ReservationID: uuid.New(), Amount: decimal.Zero})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRecordFailureUnknownReferenceIsNoop(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)

	snap, err := svc.RecordFailure(context.Background(), FailureInput{
		ExternalReference: "order-never-seen",
		ExternalStatus:    "FAILED",
		Source:            SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, snap.Outcome)
}

func TestRecordFailureMarksPendingFailed(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ledger := payments.NewLedger(db)
	ctx := context.Background()

	payment, err := ledger.Create(ctx, &models.Payment{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(100000),
		PaymentType:   enums.PaymentTypeFull,
		PaymentMethod: "card",
		Status:        enums.PaymentStatusPending,
	})
	require.NoError(t, err)
	_, err = ledger.AttachGatewayLink(ctx, payment.ID, "order-fail-1", "link-fail-1")
	require.NoError(t, err)

	snap, err := svc.RecordFailure(ctx, FailureInput{
		ExternalReference: "order-fail-1",
		ExternalStatus:    "FAILED",
		Source:            SourceWebhook,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, snap.Outcome)
	assert.Equal(t, enums.PaymentStatusFailed, snap.Payment.Status)
	assert.Equal(t, enums.SettlementStatusFailed, snap.Reservation.PaymentStatus)
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentFailed))

	// A replayed failure callback acks without a second event.
	replay, err := svc.RecordFailure(ctx, FailureInput{
		ExternalReference: "order-fail-1",
		ExternalStatus:    "FAILED",
		Source:            SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, replay.Outcome)
	assert.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventPaymentFailed))
}

func TestRecordFailureDoesNotRegressSettledReservation(t *testing.T) {
	t.Parallel()

	db := setupReconcileTestDB(t)
	svc := newTestService(t, db)
	reservation := seedReservation(t, db, 100000)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Input{
		ReservationID:     reservation.ID,
		Amount:            decimal.NewFromInt(40000),
		PaymentMethod:     "card",
		Source:            SourceWebhook,
		ExternalReference: "order-dp-2",
	})
	require.NoError(t, err)

	// A second attempt fails after the deposit already landed.
	ledger := payments.NewLedger(db)
	second, err := ledger.Create(ctx, &models.Payment{
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(60000),
		PaymentType:   enums.PaymentTypeRemaining,
		PaymentMethod: "card",
		Status:        enums.PaymentStatusPending,
	})
	require.NoError(t, err)
	_, err = ledger.AttachGatewayLink(ctx, second.ID, "order-rem-2", "link-rem-2")
	require.NoError(t, err)

	snap, err := svc.RecordFailure(ctx, FailureInput{
		ExternalReference: "order-rem-2",
		ExternalStatus:    "FAILED",
		Source:            SourceWebhook,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, snap.Outcome)
	assert.Equal(t, enums.SettlementStatusPartial, snap.Reservation.PaymentStatus)
	assert.Equal(t, enums.ReservationStatusConfirmed, snap.Reservation.Status)
}
