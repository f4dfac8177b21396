package triggers

import (
	"context"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// Publisher is the outbound-exchange side of the handler: one AMQP channel
// shared by the whole consumer process (spec.md §4.4 "Shared resources").
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, headers map[string]string, body []byte) error
}

// Handler is the TriggersHandler of spec.md §4.3: it wraps a fired event in
// a SimpleEvent envelope and publishes it once per target, with the
// target's static headers plus the standard dynamic ones.
type Handler struct {
	publisher Publisher
	exchange  string
}

// New returns a Handler that publishes to the given outbound exchange.
func New(publisher Publisher, exchange string) *Handler {
	return &Handler{publisher: publisher, exchange: exchange}
}

// Dispatch publishes kind's event once per target. realm/deviceID become
// the x_astarte_realm/x_astarte_device_id headers and the envelope's own
// fields; tsMillis is the event's wall-clock timestamp. Trigger-id headers
// (x_astarte_simple_trigger_id / x_astarte_parent_trigger_id) are included
// only when withTriggerIDs is true — spec.md §4.3 restricts those to
// data-path events.
func (h *Handler) Dispatch(ctx context.Context, targets []model.TriggerTarget, realm, deviceID string, kind EventKind, tsMillis int64, payload []byte, withTriggerIDs bool) error {
	event := SimpleEvent{
		Realm:     realm,
		DeviceID:  deviceID,
		Kind:      kind,
		Timestamp: tsMillis,
		Payload:   payload,
	}
	body := event.Encode()

	var firstErr error
	for _, target := range targets {
		headers := map[string]string{
			"x_astarte_realm":      realm,
			"x_astarte_device_id":  deviceID,
			"x_astarte_event_type": kind.String(),
		}
		for _, sh := range target.StaticHeaders {
			headers[sh.Key] = sh.Value
		}
		if withTriggerIDs {
			headers["x_astarte_simple_trigger_id"] = target.SimpleTriggerID.String()
			headers["x_astarte_parent_trigger_id"] = target.ParentTriggerID.String()
		}

		if err := h.publisher.Publish(ctx, h.exchange, target.RoutingKey, headers, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NowMillis is the standard ts_ms source Dispatch callers use when an
// explicit event timestamp isn't already on hand (e.g. device_connected
// fires at "now", not at a stored value_timestamp).
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
