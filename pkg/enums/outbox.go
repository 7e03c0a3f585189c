package enums

// OutboxAggregateType is the aggregate_type column of outbox_events. Rows of
// one aggregate are published in order.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateStockRecord OutboxAggregateType = "stock_record"
)

// OutboxEventType is the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderConfirmed OutboxEventType = "order_confirmed"
	EventOrderReady     OutboxEventType = "order_ready"
	EventOrderFulfilled OutboxEventType = "order_fulfilled"
	EventOrderCancelled OutboxEventType = "order_cancelled"
	EventPaymentFailed  OutboxEventType = "payment_failed"
	EventStockOut       OutboxEventType = "stock_out_at_payment"
	EventStockRestocked OutboxEventType = "stock_restocked"
)

var statusEvents = map[OrderStatus]OutboxEventType{
	OrderStatusConfirmed: EventOrderConfirmed,
	OrderStatusReady:     EventOrderReady,
	OrderStatusFulfilled: EventOrderFulfilled,
	OrderStatusCancelled: EventOrderCancelled,
}

// EventForStatus returns the event emitted when an order enters status.
// Pending orders emit nothing.
func EventForStatus(status OrderStatus) (OutboxEventType, bool) {
	e, ok := statusEvents[status]
	return e, ok
}
