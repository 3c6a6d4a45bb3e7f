package enums

// OutboxEventType is the outbox event_type column; values double as the relay's topic names.
type OutboxEventType string

const (
	EventOrderReserved            OutboxEventType = "orders.order_reserved"
	EventOrderRejected            OutboxEventType = "orders.order_rejected"
	EventOrderCancelled           OutboxEventType = "orders.order_cancelled"
	EventReservationReleaseFailed OutboxEventType = "inventory.reservation_release_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderReserved,
	EventOrderRejected,
	EventOrderCancelled,
	EventReservationReleaseFailed,
}

// IsValid reports whether the value is one of the event types this service emits.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// OutboxStatus tracks relay progress. This service only ever writes pending.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusDispatched OutboxStatus = "dispatched"
)

func (s OutboxStatus) IsValid() bool {
	return s == OutboxStatusPending || s == OutboxStatusDispatched
}

// Inbound queue names consumed by the worker.
const (
	QueueReserveOrder = "inventory.reserve_order"
	QueueCancelOrder  = "inventory.cancel_order"
)
