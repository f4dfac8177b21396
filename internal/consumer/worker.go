package consumer

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/amqputil"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/telemetry"
)

// Dispatcher routes a decoded Message to the device actor that owns
// {realm, device_id}, creating the actor (and its MessageTracker) on first
// contact. Dispatch is responsible for calling the actor's tracker's
// TrackDelivery and for eventually ack'ing/discarding the delivery through
// it — Dispatch itself only needs to fail when routing cannot happen at
// all (e.g. an invalid device id), in which case the worker discards the
// delivery on the caller's behalf.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Worker consumes one dedicated broker channel: prefetch-bounded, routing
// every delivery by its x_astarte_msg_type header (spec.md §4.4).
type Worker struct {
	Channel    *amqp.Channel
	Queue      string
	Dispatcher Dispatcher
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// Run consumes deliveries from Queue until ctx is cancelled or the channel
// closes. It is meant to be run in its own goroutine, one per worker.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.Channel.ConsumeWithContext(ctx, w.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, delivery)
		}
	}
}

func (w *Worker) handle(ctx context.Context, delivery amqp.Delivery) {
	headers := amqputil.ExtractHeaders(delivery.Headers)

	msgType := MsgType(headers["x_astarte_msg_type"])
	if _, known := requiredHeaders[msgType]; !known {
		w.discard(delivery, "", msgType, "unknown or missing x_astarte_msg_type")
		return
	}

	if missing := missingHeaders(msgType, headers); len(missing) > 0 {
		w.discard(delivery, headers["x_astarte_realm"], msgType, "missing required headers")
		if w.Logger != nil {
			w.Logger.Warn("discarding delivery with missing headers",
				slog.String("msg_type", string(msgType)),
				slog.Any("missing", missing))
		}
		return
	}

	realm := headers["x_astarte_realm"]
	msg := Message{
		Realm:              realm,
		DeviceID:           headers["x_astarte_device_id"],
		Type:               msgType,
		Interface:           headers["x_astarte_interface"],
		Path:               headers["x_astarte_path"],
		ControlPath:        headers["x_astarte_control_path"],
		RemoteIP:           headers["x_astarte_remote_ip"],
		Body:               delivery.Body,
		MessageID:          model.MessageID(delivery.MessageId),
		DeliveryTag:        model.BrokerTag(delivery.DeliveryTag),
		TimestampDecimicro: model.DecimicroFromMillis(delivery.Timestamp.UnixMilli()),
	}
	if msg.MessageID == "" {
		msg.MessageID = model.MessageID(delivery.CorrelationId)
	}

	if err := w.Dispatcher.Dispatch(ctx, msg); err != nil {
		if w.Logger != nil {
			w.Logger.Error("dispatch failed, discarding delivery",
				slog.String("realm", realm), slog.String("msg_type", string(msgType)), slog.Any("error", err))
		}
		_ = delivery.Reject(false)
		w.recordOutcome(realm, msgType, "discard")
		return
	}

	w.recordOutcome(realm, msgType, "routed")
}

func (w *Worker) discard(delivery amqp.Delivery, realm string, msgType MsgType, reason string) {
	_ = delivery.Reject(false)
	w.recordOutcome(realm, msgType, "discard")
}

func (w *Worker) recordOutcome(realm string, msgType MsgType, outcome string) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.MessagesProcessed.WithLabelValues(realm, string(msgType), outcome).Inc()
}
