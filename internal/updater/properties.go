package updater

import (
	"context"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/payloads"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
)

// HandleControl implements spec.md §4.2.2's handle_control dispatch for the
// two well-known control paths.
func (a *Actor) HandleControl(ctx context.Context, controlPath string, payload []byte, messageID model.MessageID, ts int64) error {
	a.runTimeBasedActions(ctx, time.Now())
	if !a.tracker.CanProcessMessage(ctx, messageID) {
		return nil
	}

	var err error
	switch controlPath {
	case "/producer/properties":
		err = a.pruneProducerProperties(ctx, payload)
	case "/emptyCache":
		err = a.resendEmptyCache(ctx)
	default:
		err = model.Discard(model.ErrInvalidPath, errUnknownControlPath(controlPath))
	}
	if err != nil {
		a.logError(err, "handle control")
		_ = a.tracker.Discard(messageID)
		return err
	}

	if err := a.tracker.AckDelivery(messageID); err != nil {
		a.logError(err, "ack control message")
	}
	return nil
}

// pruneProducerProperties implements spec.md §4.2.5: decode the payload
// (the four-zero-byte empty set, or a safe-bounded zlib stream) into the
// surviving "interface/path" set, and delete every stored property path not
// present in it, emitting path_removed for each.
func (a *Actor) pruneProducerProperties(ctx context.Context, payload []byte) error {
	kept, err := payloads.DecodeProducerProperties(payload)
	if err != nil {
		return model.Discard(model.ErrInvalidProperties, err)
	}

	device, err := a.store.GetDevice(ctx, a.Key.DeviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return model.Fatal(model.ErrDatabaseError, errDeviceNotFound(a.Key.DeviceID))
	}

	for name, major := range device.Introspection {
		row, err := a.loadInterfaceRow(ctx, name, major)
		if err != nil {
			a.logError(err, "load interface for property pruning")
			continue
		}
		if row.Type != model.InterfaceTypeProperties {
			continue
		}
		table := tableOrDefault(row.Storage, defaultIndividualPropertiesTable)
		props, err := a.store.FetchProperties(ctx, table, a.Key.DeviceID, row.InterfaceID)
		if err != nil {
			a.logError(err, "fetch properties for pruning")
			continue
		}
		for _, p := range props {
			if _, stillWanted := kept[payloads.PropertyPath{Interface: name, Path: p.Path}]; stillWanted {
				continue
			}
			var endpointID [16]byte
			if resolved := row.Automaton.ResolvePath(p.Path); resolved.Matched && !resolved.Guessed {
				endpointID = resolved.EndpointID
			}
			if err := a.store.DeleteProperty(ctx, table, a.Key.DeviceID, row.InterfaceID, endpointID, p.Path); err != nil {
				a.logError(err, "delete pruned property")
				continue
			}
			targets := a.changeTargets(model.TriggerPathRemoved, name, p.Path)
			a.publish(ctx, targets, triggers.EventPathRemoved, triggers.PathRemovedPayload(name, p.Path))
		}
	}
	return nil
}

// resendEmptyCache implements spec.md §4.2.2's "/emptyCache" handling:
// gather every server-owned property value the device should have, publish
// each one directly to the device's own MQTT topic at QoS 2 via VMQPlugin,
// then send the consumer-properties control message listing every path just
// resent, and finally clear pending_empty_cache. This bypasses the
// TriggersHandler entirely — it's a device-bound republish, not a trigger
// event.
func (a *Actor) resendEmptyCache(ctx context.Context) error {
	device, err := a.store.GetDevice(ctx, a.Key.DeviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return model.Fatal(model.ErrDatabaseError, errDeviceNotFound(a.Key.DeviceID))
	}

	base := a.Key.Realm + "/" + a.Key.DeviceID.String()
	var resent []string

	for name, major := range device.Introspection {
		row, err := a.loadInterfaceRow(ctx, name, major)
		if err != nil || row.Ownership != model.OwnershipServer || row.Type != model.InterfaceTypeProperties {
			continue
		}
		table := tableOrDefault(row.Storage, defaultIndividualPropertiesTable)
		props, err := a.store.FetchProperties(ctx, table, a.Key.DeviceID, row.InterfaceID)
		if err != nil {
			a.logError(err, "fetch properties for empty cache resend")
			continue
		}
		for _, p := range props {
			if a.vmq != nil {
				topic := base + "/" + name + p.Path
				if err := a.vmq.Publish(ctx, topic, encodeOrNil(p.Value), 2); err != nil {
					a.logError(err, "publish resent property")
				}
			}
			resent = append(resent, name+p.Path)
		}
	}

	if a.vmq != nil {
		control, err := payloads.EncodeControlPayload(payloads.EncodePropertyList(resent))
		if err != nil {
			a.logError(err, "encode consumer properties control message")
		} else if err := a.vmq.Publish(ctx, base+"/control/consumer/properties", control, 2); err != nil {
			a.logError(err, "publish consumer properties control message")
		}
	}

	if err := a.store.SetPendingEmptyCache(ctx, a.Key.DeviceID, false); err != nil {
		return err
	}
	a.mu.Lock()
	a.pendingEmptyCache = false
	a.mu.Unlock()
	return nil
}

type errUnknownControlPathT string

func (e errUnknownControlPathT) Error() string { return "updater: unknown control path " + string(e) }

func errUnknownControlPath(path string) error { return errUnknownControlPathT(path) }
