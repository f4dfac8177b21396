package updater

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/consumer"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/telemetry"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/tracker"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
)

// Service implements consumer.Dispatcher over a Registry of device actors:
// it routes every decoded broker message to the actor owning
// {realm, device_id}, constructing it on first contact with the
// acknowledger of the channel the message arrived on.
type Service struct {
	registry        *Registry
	store           *queries.Store
	ifaceDB         *queries.InterfaceCache
	handler         *triggers.Handler
	vmq             VMQPlugin
	metrics         *telemetry.Metrics
	logger          *slog.Logger
	realmTTL        int
	acknowledgerFor func(msg consumer.Message) tracker.Acknowledger
}

// NewService wires a Dispatcher. acknowledgerFor resolves the tracker
// Acknowledger to bind a freshly-created actor to, from the originating
// worker channel — the caller (internal/app) supplies one bound to the
// consumer.Worker's own channel.
func NewService(store *queries.Store, ifaceDB *queries.InterfaceCache, handler *triggers.Handler, vmq VMQPlugin, metrics *telemetry.Metrics, logger *slog.Logger, realmTTLSeconds int, acknowledgerFor func(consumer.Message) tracker.Acknowledger) *Service {
	return &Service{
		registry:        NewRegistry(),
		store:           store,
		ifaceDB:         ifaceDB,
		handler:         handler,
		vmq:             vmq,
		metrics:         metrics,
		logger:          logger,
		realmTTL:        realmTTLSeconds,
		acknowledgerFor: acknowledgerFor,
	}
}

// Dispatch implements consumer.Dispatcher.
func (s *Service) Dispatch(ctx context.Context, msg consumer.Message) error {
	deviceID, err := model.ParseDeviceID(msg.DeviceID)
	if err != nil {
		return fmt.Errorf("updater: invalid device id %q: %w", msg.DeviceID, err)
	}
	key := model.Key{Realm: msg.Realm, DeviceID: deviceID}

	actor := s.registry.GetOrCreate(key, func() *Actor {
		done := make(chan struct{})
		acknowledger := s.acknowledgerFor(msg)
		a := NewActor(key, s.store, s.ifaceDB, s.handler, s.vmq, acknowledger, s.metrics, s.logger, s.realmTTL, done)
		return a
	})

	actor.Tracker().TrackDelivery(msg.MessageID, msg.DeliveryTag)

	// A handler error has already been logged and its message discarded
	// through the actor's tracker, so only routing failures are returned.
	switch msg.Type {
	case consumer.MsgConnection:
		_ = actor.HandleConnection(ctx, msg.RemoteIP, msg.MessageID, msg.TimestampDecimicro)
	case consumer.MsgDisconnection:
		_ = actor.HandleDisconnection(ctx, msg.MessageID, msg.TimestampDecimicro)
	case consumer.MsgIntrospection:
		_ = actor.HandleIntrospection(ctx, string(msg.Body), msg.MessageID, msg.TimestampDecimicro)
	case consumer.MsgData:
		_ = actor.HandleData(ctx, msg.Interface, msg.Path, msg.Body, msg.MessageID, msg.TimestampDecimicro)
	case consumer.MsgControl:
		_ = actor.HandleControl(ctx, msg.ControlPath, msg.Body, msg.MessageID, msg.TimestampDecimicro)
	default:
		return fmt.Errorf("updater: unhandled message type %q", msg.Type)
	}
	return nil
}

var _ consumer.Dispatcher = (*Service)(nil)
