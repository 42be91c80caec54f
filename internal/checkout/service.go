package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/lumenworks/studiobook-backend/internal/fees"
	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	"github.com/lumenworks/studiobook-backend/pkg/config"
	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/square"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentLinkClient interface {
	CreatePaymentLink(ctx context.Context, params square.PaymentLinkCreateParams) (*sq.PaymentLink, error)
	NewIdempotencyKey(prefix string) string
}

// StartInput begins a customer checkout for a reservation.
type StartInput struct {
	ReservationID uuid.UUID
	PaymentType   enums.PaymentType
	PaymentMethod string
	// Amount is the base amount to collect. Zero means the outstanding
	// balance (total minus settled).
	Amount decimal.Decimal
}

// StartResult carries the created payment and the hosted checkout URL.
type StartResult struct {
	Payment     models.Payment `json:"payment"`
	Breakdown   fees.Breakdown `json:"breakdown"`
	RedirectURL string         `json:"redirect_url"`
}

// Service drives the customer-facing checkout flow: open a pending payment,
// quote fees, and hand the customer a hosted gateway page.
type Service interface {
	Start(ctx context.Context, input StartInput) (*StartResult, error)
}

// ServiceParams collects the checkout flow's dependencies.
type ServiceParams struct {
	Tx           txRunner
	Reservations reservations.Repository
	Ledger       payments.Ledger
	Fees         fees.Service
	Square       paymentLinkClient
	Logger       *logger.Logger
	Config       config.CheckoutConfig
}

type service struct {
	tx      txRunner
	resRepo reservations.Repository
	ledger  payments.Ledger
	fees    fees.Service
	square  paymentLinkClient
	logg    *logger.Logger
	cfg     config.CheckoutConfig
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, errors.New("checkout: tx runner is required")
	}
	if params.Reservations == nil {
		return nil, errors.New("checkout: reservations repository is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("checkout: payment ledger is required")
	}
	if params.Fees == nil {
		return nil, errors.New("checkout: fee service is required")
	}
	if params.Square == nil {
		return nil, errors.New("checkout: square client is required")
	}
	if params.Logger == nil {
		return nil, errors.New("checkout: logger is required")
	}
	return &service{
		tx:      params.Tx,
		resRepo: params.Reservations,
		ledger:  params.Ledger,
		fees:    params.Fees,
		square:  params.Square,
		logg:    params.Logger,
		cfg:     params.Config,
	}, nil
}

// Start opens the pending payment inside a transaction, then provisions the
// gateway payment link and attaches its reference. The gateway call stays
// outside the transaction; a failure there cancels the opened payment so the
// one-pending slot is freed immediately.
func (s *service) Start(ctx context.Context, input StartInput) (*StartResult, error) {
	if input.ReservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	if input.PaymentMethod == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}
	paymentType := input.PaymentType
	if paymentType == "" {
		paymentType = enums.PaymentTypeFull
	}
	if !paymentType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment type").
			WithDetails(map[string]any{"payment_type": string(input.PaymentType)})
	}

	ctx = s.logg.WithReservationID(ctx, input.ReservationID.String())

	var (
		payment     *models.Payment
		breakdown   fees.Breakdown
		reservation *models.Reservation
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		resRepo := s.resRepo.WithTx(tx)
		ledger := s.ledger.WithTx(tx)

		res, err := resRepo.FindByIDForUpdate(ctx, input.ReservationID)
		if err != nil {
			return err
		}
		if res.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation cannot accept payments").
				WithDetails(map[string]any{"status": res.Status.String()})
		}
		if res.PaymentStatus == enums.SettlementStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is already settled")
		}

		settled, err := ledger.SumSettled(ctx, res.ID)
		if err != nil {
			return err
		}
		outstanding := res.TotalAmount.Sub(settled)

		amount := input.Amount
		if amount.IsZero() {
			amount = outstanding
		}
		if !amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
		}
		if amount.GreaterThan(outstanding) {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment amount exceeds outstanding balance").
				WithDetails(map[string]any{
					"amount":      amount.String(),
					"outstanding": outstanding.String(),
				})
		}

		quote, err := s.fees.Quote(ctx, res.StudioID, input.PaymentMethod, amount)
		if err != nil {
			return err
		}

		created, err := ledger.Create(ctx, &models.Payment{
			ReservationID: res.ID,
			Amount:        amount,
			PaymentType:   paymentType,
			PaymentMethod: input.PaymentMethod,
			Status:        enums.PaymentStatusPending,
		})
		if err != nil {
			return err
		}

		payment = created
		breakdown = quote
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	link, err := s.square.CreatePaymentLink(ctx, square.PaymentLinkCreateParams{
		Name:           fmt.Sprintf("Reservation %s", reservation.ID),
		AmountCents:    breakdown.TotalAmount.Shift(2).IntPart(),
		ReferenceID:    payment.ID.String(),
		Description:    fmt.Sprintf("%s payment", paymentType),
		IdempotencyKey: s.square.NewIdempotencyKey("checkout"),
	})
	if err != nil {
		if _, _, cancelErr := s.ledger.MarkCancelled(ctx, payment.ID, "link_creation_failed"); cancelErr != nil {
			s.logg.Error(ctx, "cancel payment after link failure", cancelErr)
		}
		return nil, err
	}

	reference := stringValue(link.GetOrderID())
	if reference == "" {
		reference = stringValue(link.GetID())
	}
	updated, err := s.ledger.AttachGatewayLink(ctx, payment.ID, reference, stringValue(link.GetID()))
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payment_id":         updated.ID.String(),
		"external_reference": reference,
		"link_ttl":           s.cfg.PaymentLinkTTL.String(),
	}), "checkout payment link created")

	return &StartResult{
		Payment:     *updated,
		Breakdown:   breakdown,
		RedirectURL: stringValue(link.GetURL()),
	}, nil
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
