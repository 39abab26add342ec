package enums

// OutboxAggregateType identifies the entity an outbox event describes.
type OutboxAggregateType string

const AggregateOrder OutboxAggregateType = "order"

// OutboxEventType names a domain event emitted via the outbox.
type OutboxEventType string

const (
	// EventOrderPaid is written in the same transaction as the paid transition.
	EventOrderPaid OutboxEventType = "order_paid"
	// EventOrderRemoteOrderLinked follows the first successful Square sync.
	EventOrderRemoteOrderLinked OutboxEventType = "order_remote_order_linked"
)

var (
	aggregateTypes = []OutboxAggregateType{AggregateOrder}
	eventTypes     = []OutboxEventType{EventOrderPaid, EventOrderRemoteOrderLinked}
)

func (a OutboxAggregateType) IsValid() bool {
	_, err := ParseOutboxAggregateType(string(a))
	return err == nil
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

func (e OutboxEventType) IsValid() bool {
	_, err := ParseOutboxEventType(string(e))
	return err == nil
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}
