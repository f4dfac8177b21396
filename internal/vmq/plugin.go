// Package vmq is a broker-backed stand-in for the VMQPlugin collaborator
// spec.md treats as an external dependency: the real plugin lives inside
// the MQTT broker and owns each device's live session, so this package
// only needs to reach it the same way the rest of the plant reaches the
// broker — by publishing onto a well-known AMQP exchange the broker-side
// plugin consumes from. It deliberately does not import internal/updater;
// internal/updater declares the VMQPlugin interface its Actor depends on,
// and this type satisfies it structurally.
package vmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Plugin publishes device-bound messages and disconnect requests onto a
// single AMQP exchange, routed by topic/client the way the broker-side
// VMQPlugin expects to consume them.
type Plugin struct {
	Channel  *amqp.Channel
	Exchange string
}

// New returns a Plugin publishing onto exchange over ch.
func New(ch *amqp.Channel, exchange string) *Plugin {
	return &Plugin{Channel: ch, Exchange: exchange}
}

// Publish sends payload to a device's own MQTT topic at the given QoS, the
// raw per-path republish resendEmptyCache and the control-message path
// both need (spec.md §6).
func (p *Plugin) Publish(ctx context.Context, topic string, payload []byte, qos int) error {
	err := p.Channel.PublishWithContext(ctx, p.Exchange, topic, false, false, amqp.Publishing{
		Headers:     amqp.Table{"qos": qos},
		ContentType: "application/octet-stream",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("vmq: publish %s: %w", topic, err)
	}
	return nil
}

// Disconnect asks the broker to drop client's live connection, optionally
// with clean=true so the broker discards its retained session state —
// spec.md §7's clean-session policy pairs this with
// set_pending_empty_cache(true).
func (p *Plugin) Disconnect(ctx context.Context, client string, clean bool) error {
	err := p.Channel.PublishWithContext(ctx, p.Exchange, client+"/disconnect", false, false, amqp.Publishing{
		Headers:     amqp.Table{"clean_session": clean},
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("vmq: disconnect %s: %w", client, err)
	}
	return nil
}
