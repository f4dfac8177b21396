package model

import "github.com/google/uuid"

// DeliveryTag is the sum type spec.md's design notes ask for:
// Broker(u64) | Injected(uuid) | Requeued(u64). Injected and Requeued tags
// are no-ops for ack/discard/requeue — only a live Broker tag reaches the
// AMQP channel.
type DeliveryTag struct {
	kind      deliveryKind
	brokerTag uint64
	injected  uuid.UUID
}

type deliveryKind int

const (
	deliveryBroker deliveryKind = iota
	deliveryInjected
	deliveryRequeued
)

// BrokerTag wraps a live AMQP delivery tag.
func BrokerTag(tag uint64) DeliveryTag {
	return DeliveryTag{kind: deliveryBroker, brokerTag: tag}
}

// InjectedTag wraps a bookkeeping-only message id that never touches the
// broker.
func InjectedTag(id uuid.UUID) DeliveryTag {
	return DeliveryTag{kind: deliveryInjected, injected: id}
}

// Requeued marks a tag as already handed back to the broker during crash
// recovery; it carries the original broker tag for diagnostics but must
// never be ack'd, discarded, or requeued again.
func (t DeliveryTag) Requeued() DeliveryTag {
	t.kind = deliveryRequeued
	return t
}

func (t DeliveryTag) IsBroker() bool   { return t.kind == deliveryBroker }
func (t DeliveryTag) IsInjected() bool { return t.kind == deliveryInjected }
func (t DeliveryTag) IsRequeued() bool { return t.kind == deliveryRequeued }

// BrokerTagValue returns the underlying AMQP delivery tag and whether one
// is present (false for injected tags).
func (t DeliveryTag) BrokerTagValue() (uint64, bool) {
	if t.kind == deliveryInjected {
		return 0, false
	}
	return t.brokerTag, true
}

// MessageID identifies one in-flight message in the MessageTracker's FIFO.
// It is the raw broker message-id for ordinary deliveries, or a generated
// uuid for injected bookkeeping entries.
type MessageID string
