package triggers

import (
	"sync"

	"github.com/google/uuid"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// indexKey buckets data triggers coarsely enough to support the three
// precedence levels spec.md §4.2.3 step 7 asks incoming_data to emit at:
// any_interface/any_endpoint, interface/any_endpoint, and interface/endpoint.
// Within a bucket, PathMatches/ValueMatches narrow further.
type indexKey struct {
	Type         model.DataTriggerType
	InterfaceID  [16]byte
	AnyInterface bool
	EndpointID   [16]byte
	AnyEndpoint  bool
}

func dataIndexKey(t *model.DataTrigger) indexKey {
	return indexKey{
		Type:         t.Type,
		InterfaceID:  t.InterfaceID,
		AnyInterface: t.AnyInterfaceWildcard,
		EndpointID:   t.EndpointID,
		AnyEndpoint:  t.AnyEndpointWildcard,
	}
}

// DispatchTable is one device actor's compiled trigger tables: data,
// device-lifecycle and introspection-lifecycle, each keyed for the lookups
// spec.md §4.2 needs and merged by congruence on install so no duplicate
// (type, interface, endpoint, path, operator, value) row ever exists.
type DispatchTable struct {
	mu sync.RWMutex

	data          map[indexKey][]*model.DataTrigger
	device        map[model.DeviceTriggerType][]*model.DeviceTrigger
	introspection map[model.IntrospectionTriggerType][]*model.IntrospectionTrigger
}

// NewDispatchTable returns an empty table ready for a newly loaded or
// newly seen device.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{
		data:          make(map[indexKey][]*model.DataTrigger),
		device:        make(map[model.DeviceTriggerType][]*model.DeviceTrigger),
		introspection: make(map[model.IntrospectionTriggerType][]*model.IntrospectionTrigger),
	}
}

// InstallDataTrigger adds t to the table, merging it into an existing
// congruent entry (union of targets) rather than creating a duplicate row.
func (d *DispatchTable) InstallDataTrigger(t *model.DataTrigger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dataIndexKey(t)
	for _, existing := range d.data[key] {
		if existing.AreCongruent(t) {
			existing.Targets = mergeTargets(existing.Targets, t.Targets)
			return
		}
	}
	d.data[key] = append(d.data[key], t)
}

// InstallDeviceTrigger adds t, merging targets into the existing entry for
// its type if one exists.
func (d *DispatchTable) InstallDeviceTrigger(t *model.DeviceTrigger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.device[t.Type] {
		existing.Targets = mergeTargets(existing.Targets, t.Targets)
		return
	}
	d.device[t.Type] = append(d.device[t.Type], t)
}

// InstallIntrospectionTrigger adds t, merging targets into the existing
// entry for its type if one exists.
func (d *DispatchTable) InstallIntrospectionTrigger(t *model.IntrospectionTrigger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.introspection[t.Type] {
		existing.Targets = mergeTargets(existing.Targets, t.Targets)
		return
	}
	d.introspection[t.Type] = append(d.introspection[t.Type], t)
}

func mergeTargets(a, b []model.TriggerTarget) []model.TriggerTarget {
	seen := make(map[uuid.UUID]struct{}, len(a))
	for _, t := range a {
		seen[t.SimpleTriggerID] = struct{}{}
	}
	for _, t := range b {
		if _, ok := seen[t.SimpleTriggerID]; ok {
			continue
		}
		a = append(a, t)
		seen[t.SimpleTriggerID] = struct{}{}
	}
	return a
}

// LookupDataTriggers returns, in emission order, every data trigger whose
// precedence bucket matches (type, interfaceID, endpointID): any_interface/
// any_endpoint first, then interface/any_endpoint, then the fully specific
// bucket. Each returned trigger must still be checked against PathMatches/
// ValueMatches by the caller for the concrete path and value.
func (d *DispatchTable) LookupDataTriggers(triggerType model.DataTriggerType, interfaceID, endpointID [16]byte) []*model.DataTrigger {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*model.DataTrigger
	out = append(out, d.data[indexKey{Type: triggerType, AnyInterface: true, AnyEndpoint: true}]...)
	out = append(out, d.data[indexKey{Type: triggerType, InterfaceID: interfaceID, AnyEndpoint: true}]...)
	out = append(out, d.data[indexKey{Type: triggerType, InterfaceID: interfaceID, EndpointID: endpointID}]...)
	return out
}

// LookupDeviceTriggers returns the targets installed for a device-lifecycle
// trigger type.
func (d *DispatchTable) LookupDeviceTriggers(t model.DeviceTriggerType) []*model.DeviceTrigger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*model.DeviceTrigger(nil), d.device[t]...)
}

// LookupIntrospectionTriggers returns the targets installed for an
// introspection-lifecycle trigger type.
func (d *DispatchTable) LookupIntrospectionTriggers(t model.IntrospectionTriggerType) []*model.IntrospectionTrigger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*model.IntrospectionTrigger(nil), d.introspection[t]...)
}

// ForgetInterface drops every data trigger keyed to interfaceID, the way
// spec.md §4.2.2 asks forget_interfaces to do on introspection change.
func (d *DispatchTable) ForgetInterface(interfaceID [16]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key := range d.data {
		if !key.AnyInterface && key.InterfaceID == interfaceID {
			delete(d.data, key)
		}
	}
}

// RemoveByTarget deletes targets matching (simpleTriggerID, parentTriggerID)
// from every table, pruning any trigger left with no remaining targets.
// This is how delete_volatile_trigger (spec.md §4.2.6) removes a previously
// installed trigger by identity.
func (d *DispatchTable) RemoveByTarget(simpleTriggerID, parentTriggerID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, list := range d.data {
		d.data[key] = pruneDataTriggers(list, simpleTriggerID, parentTriggerID)
	}
	for typ, list := range d.device {
		d.device[typ] = pruneDeviceTriggers(list, simpleTriggerID, parentTriggerID)
	}
	for typ, list := range d.introspection {
		d.introspection[typ] = pruneIntrospectionTriggers(list, simpleTriggerID, parentTriggerID)
	}
}

func removeTarget(targets []model.TriggerTarget, simpleTriggerID, parentTriggerID uuid.UUID) []model.TriggerTarget {
	out := targets[:0]
	for _, t := range targets {
		if t.SimpleTriggerID == simpleTriggerID && t.ParentTriggerID == parentTriggerID {
			continue
		}
		out = append(out, t)
	}
	return out
}

func pruneDataTriggers(list []*model.DataTrigger, simple, parent uuid.UUID) []*model.DataTrigger {
	out := list[:0]
	for _, t := range list {
		t.Targets = removeTarget(t.Targets, simple, parent)
		if len(t.Targets) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func pruneDeviceTriggers(list []*model.DeviceTrigger, simple, parent uuid.UUID) []*model.DeviceTrigger {
	out := list[:0]
	for _, t := range list {
		t.Targets = removeTarget(t.Targets, simple, parent)
		if len(t.Targets) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func pruneIntrospectionTriggers(list []*model.IntrospectionTrigger, simple, parent uuid.UUID) []*model.IntrospectionTrigger {
	out := list[:0]
	for _, t := range list {
		t.Targets = removeTarget(t.Targets, simple, parent)
		if len(t.Targets) > 0 {
			out = append(out, t)
		}
	}
	return out
}
