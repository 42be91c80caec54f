package cron

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
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
)

type expiryTestTx struct {
	db *gorm.DB
}

func (t *expiryTestTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

type stubLinkDeleter struct {
	deleted []string
}

func (s *stubLinkDeleter) DeletePaymentLink(_ context.Context, paymentLinkID string) error {
	s.deleted = append(s.deleted, paymentLinkID)
	return nil
}

func setupExpiryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:cron_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func seedExpiryReservation(t *testing.T, db *gorm.DB) *models.Reservation {
	t.Helper()

	reservation := &models.Reservation{
		ID:            uuid.New(),
		StudioID:      uuid.New(),
		CustomerID:    uuid.New(),
		PackageID:     uuid.New(),
		TotalAmount:   decimal.NewFromInt(100000),
		Status:        enums.ReservationStatusPending,
		PaymentStatus: enums.SettlementStatusPending,
	}
	require.NoError(t, db.Create(reservation).Error)
	return reservation
}

func seedExpiryPayment(t *testing.T, db *gorm.DB, reservationID uuid.UUID, age time.Duration, linkID string) *models.Payment {
	t.Helper()

	payment := &models.Payment{
		ID:            uuid.New(),
		ReservationID: reservationID,
		Amount:        decimal.NewFromInt(100000),
		PaymentType:   enums.PaymentTypeFull,
		PaymentMethod: "card",
		Status:        enums.PaymentStatusPending,
		CreatedAt:     time.Now().Add(-age),
	}
	if linkID != "" {
		payment.GatewayLinkID = &linkID
	}
	require.NoError(t, db.Create(payment).Error)
	return payment
}

func newExpiryJob(t *testing.T, db *gorm.DB, square *stubLinkDeleter) Job {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	job, err := NewPaymentExpiryJob(PaymentExpiryJobParams{
		Logger:       logg,
		DB:           &expiryTestTx{db: db},
		Ledger:       payments.NewLedger(db),
		Reservations: reservations.NewRepository(db),
		Outbox:       outbox.NewService(outbox.NewRepository(db), logg),
		Square:       square,
		LinkTTL:      24 * time.Hour,
	})
	require.NoError(t, err)
	return job
}

func TestPaymentExpiryJobCancelsStalePayments(t *testing.T) {
	t.Parallel()

	db := setupExpiryTestDB(t)
	square := &stubLinkDeleter{}
	job := newExpiryJob(t, db, square)

	reservation := seedExpiryReservation(t, db)
	stale := seedExpiryPayment(t, db, reservation.ID, 48*time.Hour, "link-stale-1")

	require.NoError(t, job.Run(context.Background()))

	var row models.Payment
	require.NoError(t, db.First(&row, "id = ?", stale.ID).Error)
	assert.Equal(t, enums.PaymentStatusCancelled, row.Status)
	require.NotNil(t, row.ExternalStatus)
	assert.Equal(t, "EXPIRED", *row.ExternalStatus)

	var eventCount int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventPaymentExpired, stale.ID).
		Count(&eventCount).Error)
	assert.EqualValues(t, 1, eventCount)

	assert.Equal(t, []string{"link-stale-1"}, square.deleted)
}

func TestPaymentExpiryJobLeavesFreshPayments(t *testing.T) {
	t.Parallel()

	db := setupExpiryTestDB(t)
	square := &stubLinkDeleter{}
	job := newExpiryJob(t, db, square)

	reservation := seedExpiryReservation(t, db)
	fresh := seedExpiryPayment(t, db, reservation.ID, time.Hour, "link-fresh-1")

	require.NoError(t, job.Run(context.Background()))

	var row models.Payment
	require.NoError(t, db.First(&row, "id = ?", fresh.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, row.Status)
	assert.Empty(t, square.deleted)

	var eventCount int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&eventCount).Error)
	assert.EqualValues(t, 0, eventCount)
}

func TestPaymentExpiryJobTolerateRaceWithSettlement(t *testing.T) {
	t.Parallel()

	db := setupExpiryTestDB(t)
	square := &stubLinkDeleter{}
	job := newExpiryJob(t, db, square)

	reservation := seedExpiryReservation(t, db)
	stale := seedExpiryPayment(t, db, reservation.ID, 48*time.Hour, "link-race-1")

	// A webhook settles the payment between the stale query and the sweep.
	ledger := payments.NewLedger(db)
	_, applied, err := ledger.MarkPaid(context.Background(), stale.ID, "PAID", time.Now(), nil)
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, job.Run(context.Background()))

	var row models.Payment
	require.NoError(t, db.First(&row, "id = ?", stale.ID).Error)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)
	assert.Empty(t, square.deleted)
}
