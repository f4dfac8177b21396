package updater

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/payloads"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
)

// HandleIntrospection implements spec.md §4.2.4: parse the semicolon
// name:major:minor list, diff it against the device's previous
// introspection via Myers diff, emit interface_added/interface_removed and
// incoming_introspection, then run the DB maintenance work.
func (a *Actor) HandleIntrospection(ctx context.Context, payload string, messageID model.MessageID, ts int64) error {
	a.runTimeBasedActions(ctx, time.Now())
	if !a.tracker.CanProcessMessage(ctx, messageID) {
		return nil
	}

	if err := a.handleIntrospectionInner(ctx, payload); err != nil {
		a.logError(err, "handle introspection")
		_ = a.tracker.Discard(messageID)
		return err
	}

	if err := a.tracker.AckDelivery(messageID); err != nil {
		a.logError(err, "ack introspection message")
	}
	return nil
}

func (a *Actor) handleIntrospectionInner(ctx context.Context, payload string) error {
	parsed, err := payloads.ParseIntrospection(payload)
	if err != nil {
		return model.Discard(model.ErrInvalidIntrospection, err)
	}

	device, err := a.store.GetDevice(ctx, a.Key.DeviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return model.Fatal(model.ErrDatabaseError, errDeviceNotFound(a.Key.DeviceID))
	}

	previous := namesMajorsFromIntrospection(device.Introspection)
	next := make([]payloads.NameMajor, 0, len(parsed))
	newMajors := make(map[string]int, len(parsed))
	newMinors := make(map[string]int, len(parsed))
	for _, v := range parsed {
		next = append(next, payloads.NameMajor{Name: v.Name, Major: v.Major})
		newMajors[v.Name] = v.Major
		newMinors[v.Name] = v.Minor
	}
	sort.Slice(previous, func(i, j int) bool { return lessNameMajor(previous[i], previous[j]) })
	sort.Slice(next, func(i, j int) bool { return lessNameMajor(next[i], next[j]) })

	diff := payloads.DiffIntrospection(previous, next)

	var removed = make(map[string]payloads.InterfaceVersion)
	var readded []string
	for _, op := range diff {
		if op.Insert {
			minor := newMinors[op.Entry.Name]
			targets := a.lookupIntrospectionTargets(model.TriggerInterfaceAdded)
			a.publishLifecycle(ctx, targets, triggers.EventInterfaceAdded, triggers.InterfaceAddedPayload(op.Entry.Name, op.Entry.Major, minor))
			for key := range device.OldIntrospection {
				if strings.HasPrefix(key, op.Entry.Name+"@") {
					readded = append(readded, key)
				}
			}
			if op.Entry.Major == 0 {
				if err := a.store.RegisterDeviceByInterface(ctx, op.Entry.Name, a.Key.DeviceID); err != nil {
					a.logError(err, "register device by interface")
				}
			}
		} else {
			targets := a.lookupIntrospectionTargets(model.TriggerInterfaceRemoved)
			a.publishLifecycle(ctx, targets, triggers.EventInterfaceRemoved, triggers.InterfaceRemovedPayload(op.Entry.Name, op.Entry.Major))
			removed[op.Entry.Name] = payloads.InterfaceVersion{Name: op.Entry.Name, Major: op.Entry.Major}
			if op.Entry.Major == 0 {
				if err := a.store.UnregisterDeviceByInterface(ctx, op.Entry.Name, a.Key.DeviceID); err != nil {
					a.logError(err, "unregister device by interface")
				}
			}
			a.mu.Lock()
			cached, hadRow := a.interfaces.get(op.Entry.Name)
			a.interfaces.forget(op.Entry.Name)
			a.mu.Unlock()
			if hadRow {
				a.dispatch.ForgetInterface(cached.InterfaceID)
			}
		}
	}

	anyIfaceTargets := a.lookupIntrospectionTargets(model.TriggerIncomingIntrospection)
	a.publishLifecycle(ctx, anyIfaceTargets, triggers.EventIncomingIntrospection, triggers.IncomingIntrospectionPayload(payload))

	if err := a.store.UpdateIntrospection(ctx, a.Key.DeviceID, newMajors, newMinors); err != nil {
		return err
	}
	if len(removed) > 0 || len(readded) > 0 {
		if err := a.store.MergeOldIntrospection(ctx, a.Key.DeviceID, removed, readded); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.paths.reset()
	a.mu.Unlock()
	return nil
}

func (a *Actor) lookupIntrospectionTargets(t model.IntrospectionTriggerType) []model.TriggerTarget {
	var out []model.TriggerTarget
	for _, it := range a.dispatch.LookupIntrospectionTriggers(t) {
		out = append(out, it.Targets...)
	}
	return out
}

func namesMajorsFromIntrospection(majors map[string]int) []payloads.NameMajor {
	out := make([]payloads.NameMajor, 0, len(majors))
	for name, major := range majors {
		out = append(out, payloads.NameMajor{Name: name, Major: major})
	}
	return out
}

func lessNameMajor(a, b payloads.NameMajor) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Major < b.Major
}

// wasRemoved reports whether name appears as the interface-name half of any
// "name@major" key in a devices.old_introspection bag.
func wasRemoved(oldIntrospection map[string]int, name string) bool {
	prefix := name + "@"
	for key := range oldIntrospection {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

type errDeviceNotFoundT struct{ id model.DeviceID }

func (e errDeviceNotFoundT) Error() string { return "updater: device " + e.id.String() + " not found" }

func errDeviceNotFound(id model.DeviceID) error { return errDeviceNotFoundT{id: id} }
