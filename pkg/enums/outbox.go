package enums

// OutboxEventType names the domain events the platform emits.
type OutboxEventType string

const (
	EventReservationConfirmed OutboxEventType = "reservation.confirmed"
	EventPaymentSettled       OutboxEventType = "payment.settled"
	EventPaymentFailed        OutboxEventType = "payment.failed"
	EventPaymentExpired       OutboxEventType = "payment.expired"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateReservation OutboxAggregateType = "reservation"
	AggregatePayment     OutboxAggregateType = "payment"
)
