// Package amqputil wraps the AMQP 0-9-1 broker primitives the consumer and
// trigger-dispatch layers share: dialing, topology declaration, a
// per-worker prefetch-bounded channel, and the delivery-tag acknowledger
// the message tracker drives.
package amqputil

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dial opens one AMQP connection to url. Callers open one WorkerChannel per
// consumer goroutine on top of it — a single connection, many channels,
// mirrors the teacher's broker.Connect split between connection and
// channel.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqputil: dial: %w", err)
	}
	return conn, nil
}

// Topology is the set of exchanges/queues the plant declares on startup:
// one input queue per worker bound to the realm-wide input exchange, and
// the outbound events exchange trigger targets publish into.
type Topology struct {
	InputExchange  string
	InputQueue     string
	OutputExchange string
}

// Declare idempotently declares the topology's exchanges and queue, and
// binds the queue to the input exchange. Safe to call once per channel at
// startup.
func Declare(ch *amqp.Channel, topo Topology) error {
	if err := ch.ExchangeDeclare(topo.InputExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqputil: declare input exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(topo.OutputExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqputil: declare output exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(topo.InputQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqputil: declare input queue: %w", err)
	}
	if err := ch.QueueBind(topo.InputQueue, "#", topo.InputExchange, false, nil); err != nil {
		return fmt.Errorf("amqputil: bind input queue: %w", err)
	}
	return nil
}

// ShardedTopology is the exchange/queue plan for N independently-consumed
// worker queues bound to a consistent-hash input exchange (the RabbitMQ
// x-consistent-hash plugin), so a device's messages — routed by a routing
// key derived from its device id — always land on the same worker queue.
// This is the precondition internal/tracker's Tracker relies on: it binds a
// device actor to a single Acknowledger for its whole lifetime, which only
// holds if the actor never sees deliveries from more than one channel.
type ShardedTopology struct {
	InputExchange  string
	OutputExchange string
	QueuePrefix    string
	Workers        int
}

// DeclareSharded declares the topology and returns the per-worker queue
// names in order, each bound to the input exchange with an equal hashing
// weight so device traffic spreads evenly across workers.
func DeclareSharded(ch *amqp.Channel, topo ShardedTopology) ([]string, error) {
	if err := ch.ExchangeDeclare(topo.InputExchange, "x-consistent-hash", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqputil: declare input exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(topo.OutputExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqputil: declare output exchange: %w", err)
	}

	queues := make([]string, topo.Workers)
	for i := 0; i < topo.Workers; i++ {
		name := fmt.Sprintf("%s-%d", topo.QueuePrefix, i)
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("amqputil: declare worker queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, "10", topo.InputExchange, false, nil); err != nil {
			return nil, fmt.Errorf("amqputil: bind worker queue %s: %w", name, err)
		}
		queues[i] = name
	}
	return queues, nil
}

// OpenWorkerChannel opens a channel on conn with the given prefetch count
// (amqp_consumer_prefetch_count, spec.md §4.4), one per consumer worker.
func OpenWorkerChannel(conn *amqp.Connection, prefetchCount int) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqputil: open channel: %w", err)
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqputil: set qos: %w", err)
	}
	return ch, nil
}

// ChannelAcknowledger adapts an *amqp.Channel into the tracker.Acknowledger
// interface: Ack/Discard/Requeue by raw delivery tag.
type ChannelAcknowledger struct {
	Channel *amqp.Channel
}

func (a ChannelAcknowledger) Ack(tag uint64) error {
	return a.Channel.Ack(tag, false)
}

func (a ChannelAcknowledger) Discard(tag uint64) error {
	return a.Channel.Reject(tag, false)
}

func (a ChannelAcknowledger) Requeue(tag uint64) error {
	return a.Channel.Reject(tag, true)
}

// Publisher adapts an *amqp.Channel into the triggers.Publisher interface
// used by the TriggersHandler's outbound publish.
type Publisher struct {
	Channel *amqp.Channel
}

func (p Publisher) Publish(ctx context.Context, exchange, routingKey string, headers map[string]string, body []byte) error {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return p.Channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Headers:     table,
		ContentType: "application/octet-stream",
		Body:        body,
	})
}

// ExtractHeaders flattens an amqp.Table into a plain string map, the way
// the consumer's delivery-routing step needs it (spec.md §4.4 "extract
// headers into a map"). Non-string header values are rendered with
// fmt.Sprint so numeric/bool AMQP header types still come through.
func ExtractHeaders(table amqp.Table) map[string]string {
	out := make(map[string]string, len(table))
	for k, v := range table {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
