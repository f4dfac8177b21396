package updater

import (
	"context"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
)

// HandleConnection implements spec.md §4.2.2's handle_connection: parse the
// remote IP (falling back to 0.0.0.0 on failure), record the connection,
// emit device_connected, ack, and flip the in-memory connected flag.
func (a *Actor) HandleConnection(ctx context.Context, remoteIP string, messageID model.MessageID, ts int64) error {
	a.runTimeBasedActions(ctx, time.Now())
	if !a.tracker.CanProcessMessage(ctx, messageID) {
		return nil
	}

	ip := parseRemoteIP(remoteIP)
	tsMillis := model.MillisFromDecimicro(ts)
	if err := a.store.SetDeviceConnected(ctx, a.Key.DeviceID, time.UnixMilli(tsMillis), ip); err != nil {
		a.logError(err, "set device connected")
		_ = a.tracker.Discard(messageID)
		return err
	}

	targets := collectDeviceTargets(a.dispatch.LookupDeviceTriggers(model.TriggerDeviceConnected))
	a.publishLifecycle(ctx, targets, triggers.EventDeviceConnected, triggers.DeviceConnectedPayload(ip.String()))

	if err := a.tracker.AckDelivery(messageID); err != nil {
		a.logError(err, "ack connection message")
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// HandleDisconnection implements handle_disconnection: record the
// disconnection with the accrued counters, emit device_disconnected, ack.
func (a *Actor) HandleDisconnection(ctx context.Context, messageID model.MessageID, ts int64) error {
	a.runTimeBasedActions(ctx, time.Now())
	if !a.tracker.CanProcessMessage(ctx, messageID) {
		return nil
	}

	tsMillis := model.MillisFromDecimicro(ts)
	a.mu.Lock()
	msgs, bytes := a.totalReceivedMsgs, a.totalReceivedBytes
	a.mu.Unlock()

	if err := a.store.SetDeviceDisconnected(ctx, a.Key.DeviceID, time.UnixMilli(tsMillis), msgs, bytes); err != nil {
		a.logError(err, "set device disconnected")
		_ = a.tracker.Discard(messageID)
		return err
	}

	targets := collectDeviceTargets(a.dispatch.LookupDeviceTriggers(model.TriggerDeviceDisconnected))
	a.publishLifecycle(ctx, targets, triggers.EventDeviceDisconnected, triggers.DeviceDisconnectedPayload())

	if err := a.tracker.AckDelivery(messageID); err != nil {
		a.logError(err, "ack disconnection message")
	}
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func collectDeviceTargets(dts []*model.DeviceTrigger) []model.TriggerTarget {
	var out []model.TriggerTarget
	for _, dt := range dts {
		out = append(out, dt.Targets...)
	}
	return out
}
