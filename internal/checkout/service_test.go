package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/internal/fees"
	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/square"
)

type checkoutTestTx struct {
	db *gorm.DB
}

func (t *checkoutTestTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

type stubLinkClient struct {
	params  []square.PaymentLinkCreateParams
	link    *sq.PaymentLink
	err     error
	counter int
}

func (s *stubLinkClient) CreatePaymentLink(_ context.Context, params square.PaymentLinkCreateParams) (*sq.PaymentLink, error) {
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	return s.link, nil
}

func (s *stubLinkClient) NewIdempotencyKey(prefix string) string {
	s.counter++
	return prefix + "-" + uuid.NewString()
}

func strPtr(s string) *string { return &s }

func setupCheckoutTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
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
CREATE TABLE IF NOT EXISTS fee_policies (
  id TEXT PRIMARY KEY,
  studio_id TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  fee_type TEXT NOT NULL,
  fee_value TEXT NOT NULL,
  customer_pays_fees INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func newCheckoutTestService(t *testing.T, db *gorm.DB, client *stubLinkClient) Service {
	t.Helper()

	feeSvc, err := fees.NewService(fees.NewRepository(db))
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Tx:           &checkoutTestTx{db: db},
		Reservations: reservations.NewRepository(db),
		Ledger:       payments.NewLedger(db),
		Fees:         feeSvc,
		Square:       client,
		Logger:       logger.New(logger.Options{ServiceName: "checkout-test"}),
	})
	require.NoError(t, err)
	return svc
}

func seedCheckoutReservation(t *testing.T, db *gorm.DB, total int64) *models.Reservation {
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

func TestStartOpensPendingPaymentWithLink(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	client := &stubLinkClient{link: &sq.PaymentLink{
		ID:      strPtr("link-1"),
		OrderID: strPtr("order-1"),
		URL:     strPtr("https://pay.example/link-1"),
	}}
	svc := newCheckoutTestService(t, db, client)
	reservation := seedCheckoutReservation(t, db, 100000)

	result, err := svc.Start(context.Background(), StartInput{
		ReservationID: reservation.ID,
		PaymentMethod: "card",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusPending, result.Payment.Status)
	assert.Equal(t, enums.PaymentTypeFull, result.Payment.PaymentType)
	assert.True(t, result.Payment.Amount.Equal(decimal.NewFromInt(100000)))
	require.NotNil(t, result.Payment.ExternalReference)
	assert.Equal(t, "order-1", *result.Payment.ExternalReference)
	require.NotNil(t, result.Payment.GatewayLinkID)
	assert.Equal(t, "link-1", *result.Payment.GatewayLinkID)
	assert.Equal(t, "https://pay.example/link-1", result.RedirectURL)

	require.Len(t, client.params, 1)
	assert.EqualValues(t, 10000000, client.params[0].AmountCents)
	assert.Equal(t, result.Payment.ID.String(), client.params[0].ReferenceID)
}

func TestStartDefaultsToOutstandingBalance(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	client := &stubLinkClient{link: &sq.PaymentLink{
		ID:      strPtr("link-2"),
		OrderID: strPtr("order-2"),
		URL:     strPtr("https://pay.example/link-2"),
	}}
	svc := newCheckoutTestService(t, db, client)
	reservation := seedCheckoutReservation(t, db, 100000)
	ctx := context.Background()

	// 40000 already settled, so the default checkout covers the remaining 60000.
	settled := &models.Payment{
		ID:            uuid.New(),
		ReservationID: reservation.ID,
		Amount:        decimal.NewFromInt(40000),
		PaymentType:   enums.PaymentTypeDeposit,
		PaymentMethod: "card",
		Status:        enums.PaymentStatusPaid,
	}
	require.NoError(t, db.Create(settled).Error)

	result, err := svc.Start(ctx, StartInput{
		ReservationID: reservation.ID,
		PaymentType:   enums.PaymentTypeRemaining,
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.True(t, result.Payment.Amount.Equal(decimal.NewFromInt(60000)))
}

func TestStartRejectsOverpayment(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc := newCheckoutTestService(t, db, &stubLinkClient{})
	reservation := seedCheckoutReservation(t, db, 100000)

	_, err := svc.Start(context.Background(), StartInput{
		ReservationID: reservation.ID,
		PaymentMethod: "card",
		Amount:        decimal.NewFromInt(150000),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestStartRejectsTerminalReservation(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	svc := newCheckoutTestService(t, db, &stubLinkClient{})
	reservation := seedCheckoutReservation(t, db, 100000)
	require.NoError(t, db.Model(reservation).Update("status", enums.ReservationStatusCancelled).Error)

	_, err := svc.Start(context.Background(), StartInput{
		ReservationID: reservation.ID,
		PaymentMethod: "card",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestStartCancelsPaymentWhenLinkCreationFails(t *testing.T) {
	t.Parallel()

	db := setupCheckoutTestDB(t)
	client := &stubLinkClient{err: pkgerrors.New(pkgerrors.CodeDependency, "square create payment link failed")}
	svc := newCheckoutTestService(t, db, client)
	reservation := seedCheckoutReservation(t, db, 100000)

	_, err := svc.Start(context.Background(), StartInput{
		ReservationID: reservation.ID,
		PaymentMethod: "card",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	// The one-pending slot is freed for a retry.
	var row models.Payment
	require.NoError(t, db.First(&row, "reservation_id = ?", reservation.ID).Error)
	assert.Equal(t, enums.PaymentStatusCancelled, row.Status)

	retryClient := &stubLinkClient{link: &sq.PaymentLink{
		ID:      strPtr("link-3"),
		OrderID: strPtr("order-3"),
		URL:     strPtr("https://pay.example/link-3"),
	}}
	retrySvc := newCheckoutTestService(t, db, retryClient)
	result, err := retrySvc.Start(context.Background(), StartInput{
		ReservationID: reservation.ID,
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, result.Payment.Status)
}
