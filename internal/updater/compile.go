package updater

import (
	"encoding/json"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
)

// dataTriggerCondition is the JSON shape a simple_triggers row's opaque
// TriggerCondition decodes to for data triggers — the actor's own
// round-trippable encoding of a DataTrigger's match condition, not a format
// the broker or device ever sees.
type dataTriggerCondition struct {
	Type                 model.DataTriggerType
	InterfaceID          [16]byte
	AnyInterfaceWildcard bool
	EndpointID           [16]byte
	AnyEndpointWildcard  bool
	MatchPathTokens      []string
	MatchOperator        model.ValueMatchOperator
	KnownValue           any
}

type lifecycleTriggerCondition struct {
	Type int
}

// decodeDataTrigger compiles a simple_triggers row attached to an
// interface or a device into a model.DataTrigger, or reports false if the
// row's condition isn't valid JSON. Any JSON object decodes; fields it
// lacks are left at their zero values.
func decodeDataTrigger(row queries.SimpleTriggerRow) (*model.DataTrigger, bool) {
	var cond dataTriggerCondition
	if err := json.Unmarshal(row.TriggerCondition, &cond); err != nil {
		return nil, false
	}
	return &model.DataTrigger{
		Type:                 cond.Type,
		InterfaceID:          cond.InterfaceID,
		AnyInterfaceWildcard: cond.AnyInterfaceWildcard,
		EndpointID:           cond.EndpointID,
		AnyEndpointWildcard:  cond.AnyEndpointWildcard,
		MatchPathTokens:      cond.MatchPathTokens,
		MatchOperator:        cond.MatchOperator,
		KnownValue:           cond.KnownValue,
		Targets:              []model.TriggerTarget{row.ToTriggerTarget()},
	}, true
}

// decodeDeviceTrigger compiles a simple_triggers row attached to a device
// or to the realm's any_device bucket into a model.DeviceTrigger.
func decodeDeviceTrigger(row queries.SimpleTriggerRow) (*model.DeviceTrigger, bool) {
	var cond lifecycleTriggerCondition
	if err := json.Unmarshal(row.TriggerCondition, &cond); err != nil {
		return nil, false
	}
	if cond.Type < int(model.TriggerDeviceConnected) || cond.Type > int(model.TriggerDeviceEmptyCacheReceived) {
		return nil, false
	}
	return &model.DeviceTrigger{
		Type:    model.DeviceTriggerType(cond.Type),
		Targets: []model.TriggerTarget{row.ToTriggerTarget()},
	}, true
}

// decodeIntrospectionTrigger compiles a simple_triggers row into a
// model.IntrospectionTrigger.
func decodeIntrospectionTrigger(row queries.SimpleTriggerRow) (*model.IntrospectionTrigger, bool) {
	var cond lifecycleTriggerCondition
	if err := json.Unmarshal(row.TriggerCondition, &cond); err != nil {
		return nil, false
	}
	if cond.Type < int(model.TriggerIncomingIntrospection) || cond.Type > int(model.TriggerInterfaceMinorUpdated) {
		return nil, false
	}
	return &model.IntrospectionTrigger{
		Type:    model.IntrospectionTriggerType(cond.Type),
		Targets: []model.TriggerTarget{row.ToTriggerTarget()},
	}, true
}
