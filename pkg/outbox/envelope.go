package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who triggered the event: the staff member for manual
// confirmations, absent for gateway-driven settlement.
type ActorRef struct {
	UserID   uuid.UUID  `json:"userId"`
	StudioID *uuid.UUID `json:"studioId,omitempty"`
	Role     string     `json:"role,omitempty"`
}

// PayloadEnvelope is the versioned payload stored in outbox_events and
// published verbatim to Pub/Sub. Data stays opaque to the publisher.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
