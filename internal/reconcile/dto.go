package reconcile

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenworks/studiobook-backend/pkg/db/models"
	"github.com/lumenworks/studiobook-backend/pkg/enums"
	"github.com/lumenworks/studiobook-backend/pkg/outbox"
)

// Source identifies who triggered a reconciliation.
type Source string

const (
	SourceManual  Source = "manual"
	SourceWebhook Source = "webhook"
)

// Outcome classifies what a reconciliation did, used for logs and metrics.
type Outcome string

const (
	OutcomeSettled Outcome = "settled"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeReplay  Outcome = "replay"
	OutcomeNoop    Outcome = "noop"
)

// Input carries one settlement event into the coordinator.
type Input struct {
	ReservationID uuid.UUID
	Amount        decimal.Decimal
	PaymentMethod string
	PaymentType   enums.PaymentType
	Source        Source

	// Webhook-sourced fields. ExternalReference correlates the event to the
	// payment row; ExternalStatus and RawCallback are stored verbatim for audit.
	ExternalReference string
	ExternalStatus    string
	RawCallback       []byte
	PaidAt            *time.Time

	Actor *outbox.ActorRef
}

// FailureInput carries a gateway failure/expiry event.
type FailureInput struct {
	ExternalReference string
	ExternalStatus    string
	RawCallback       []byte
	Source            Source
}

// Snapshot is the post-reconciliation view of the reservation and the payment
// row the event landed on.
type Snapshot struct {
	Reservation models.Reservation `json:"reservation"`
	Payment     *models.Payment    `json:"payment,omitempty"`
	Outcome     Outcome            `json:"outcome"`
}
