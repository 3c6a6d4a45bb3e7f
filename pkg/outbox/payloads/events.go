package payloads

// OrderReservedEvent confirms every line of an order was reserved.
type OrderReservedEvent struct {
	OrderID int64 `json:"order_id"`
}

// OrderRejectedEvent reports that an order could not be reserved.
type OrderRejectedEvent struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// OrderCancelSuccessEvent confirms a reservation was released.
type OrderCancelSuccessEvent struct {
	OrderID int64 `json:"order_id"`
}

// ReservationReleaseFailedEvent surfaces a cancellation that could not be applied.
type ReservationReleaseFailedEvent struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}
