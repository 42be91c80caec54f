package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/internal/payments"
	"github.com/lumenworks/studiobook-backend/internal/reconcile"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	pkgerrors "github.com/lumenworks/studiobook-backend/pkg/errors"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/metrics"
)

// PaymentEvent is the inbound gateway callback after JSON decoding. Only the
// named fields are consumed; the raw body is carried separately for audit.
type PaymentEvent struct {
	EventID       string          `json:"event_id"`
	PaymentID     string          `json:"payment_id"`
	ExternalID    string          `json:"external_id"`
	Status        string          `json:"status"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentMethod string          `json:"payment_method"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

// Reference returns the identifier correlating the event to a payment row.
func (e PaymentEvent) Reference() string {
	if ref := strings.TrimSpace(e.ExternalID); ref != "" {
		return ref
	}
	return strings.TrimSpace(e.PaymentID)
}

// DedupeKey identifies the event for idempotency marking.
func (e PaymentEvent) DedupeKey() string {
	if id := strings.TrimSpace(e.EventID); id != "" {
		return id
	}
	return e.Reference() + ":" + strings.ToUpper(strings.TrimSpace(e.Status))
}

type coordinator interface {
	Reconcile(ctx context.Context, input reconcile.Input) (*reconcile.Snapshot, error)
	RecordFailure(ctx context.Context, input reconcile.FailureInput) (*reconcile.Snapshot, error)
}

// ServiceParams collects the gateway translator's dependencies.
type ServiceParams struct {
	Ledger      payments.Ledger
	Coordinator coordinator
	Metrics     *metrics.ReconcileMetrics
	Logger      *logger.Logger
}

// Service is the stateless translator between gateway callbacks and the
// reconciliation coordinator. It owns no persistent state.
type Service struct {
	ledger      payments.Ledger
	coordinator coordinator
	metrics     *metrics.ReconcileMetrics
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment ledger required")
	}
	if params.Coordinator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation coordinator required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		ledger:      params.Ledger,
		coordinator: params.Coordinator,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// HandleEvent normalizes the gateway status and dispatches to the coordinator.
// Events for references that never mapped to a payment here are acknowledged
// as benign no-ops; the gateway retries ids from other environments too.
func (s *Service) HandleEvent(ctx context.Context, event *PaymentEvent, raw []byte) (*reconcile.Snapshot, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway event required")
	}
	reference := event.Reference()
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway event reference missing")
	}

	normalized := NormalizeStatus(event.Status)
	s.metrics.IncWebhookEvent(normalized.String())

	ctx = s.logg.WithFields(ctx, map[string]any{
		"external_reference": reference,
		"gateway_status":     event.Status,
		"normalized_status":  normalized.String(),
	})

	switch normalized {
	case enums.PaymentStatusPaid:
		payment, err := s.ledger.FindByExternalReference(ctx, reference)
		if err != nil {
			return nil, err
		}
		if payment == nil {
			s.logg.Info(ctx, "gateway event for unknown reference acknowledged")
			return &reconcile.Snapshot{Outcome: reconcile.OutcomeNoop}, nil
		}

		amount := event.PaidAmount
		if !amount.IsPositive() {
			amount = payment.Amount
		}
		return s.coordinator.Reconcile(ctx, reconcile.Input{
			ReservationID:     payment.ReservationID,
			Amount:            amount,
			PaymentMethod:     event.PaymentMethod,
			Source:            reconcile.SourceWebhook,
			ExternalReference: reference,
			ExternalStatus:    event.Status,
			RawCallback:       raw,
			PaidAt:            event.PaidAt,
		})

	case enums.PaymentStatusFailed:
		return s.coordinator.RecordFailure(ctx, reconcile.FailureInput{
			ExternalReference: reference,
			ExternalStatus:    event.Status,
			RawCallback:       raw,
			Source:            reconcile.SourceWebhook,
		})

	default:
		s.logg.Info(ctx, "gateway event without settlement effect acknowledged")
		return &reconcile.Snapshot{Outcome: reconcile.OutcomeNoop}, nil
	}
}
