package model

import "github.com/google/uuid"

// AnyInterface and AnyEndpoint are the wildcard sentinels used by data
// triggers that should fire regardless of interface or endpoint.
const (
	AnyInterface = "*"
	AnyEndpoint  = "*"
)

// DataTriggerType enumerates the incoming_data/value_change family of
// trigger kinds a compiled DataTrigger can represent.
type DataTriggerType int

const (
	TriggerIncomingData DataTriggerType = iota
	TriggerValueChange
	TriggerValueChangeApplied
	TriggerPathCreated
	TriggerPathRemoved
	TriggerValueStored
)

// DeviceTriggerType enumerates the connection-lifecycle trigger kinds.
type DeviceTriggerType int

const (
	TriggerDeviceConnected DeviceTriggerType = iota
	TriggerDeviceDisconnected
	TriggerDeviceError
	TriggerDeviceEmptyCacheReceived
)

// IntrospectionTriggerType enumerates the schema-lifecycle trigger kinds.
type IntrospectionTriggerType int

const (
	TriggerIncomingIntrospection IntrospectionTriggerType = iota
	TriggerInterfaceAdded
	TriggerInterfaceRemoved
	TriggerInterfaceMinorUpdated
)

// ValueMatchOperator is the comparison a data trigger applies to an
// incoming value before firing.
type ValueMatchOperator int

const (
	MatchAlways ValueMatchOperator = iota
	MatchEqual
	MatchNotEqual
	MatchGreaterThan
	MatchGreaterOrEqual
	MatchLessThan
	MatchLessOrEqual
)

// TriggerTarget is the publish-side descriptor a compiled trigger fires
// into: an AMQP routing key plus static headers, tagged with the simple
// and parent trigger ids so the event headers can identify which trigger
// fired.
type TriggerTarget struct {
	Kind            TargetKind
	SimpleTriggerID uuid.UUID
	ParentTriggerID uuid.UUID
	RoutingKey      string
	StaticHeaders   []Header
}

// TargetKind is the downstream sink a trigger target publishes to. spec.md
// only asks for the amqp kind; the type exists so a future sink doesn't
// require restructuring every trigger table.
type TargetKind int

const (
	TargetAMQP TargetKind = iota
)

// Header is a single static AMQP header key/value pair carried by a trigger
// target.
type Header struct {
	Key   string
	Value string
}

// DataTrigger is a compiled data-path trigger: it matches on interface,
// endpoint, path tokens and a value comparison, and fans out to every
// target that installed it.
type DataTrigger struct {
	Type               DataTriggerType
	InterfaceID        [16]byte // zero value + AnyInterfaceWildcard means "any interface"
	AnyInterfaceWildcard bool
	EndpointID         [16]byte // zero value + AnyEndpointWildcard means "any endpoint"
	AnyEndpointWildcard bool
	MatchPathTokens    []string // "" token = single-segment wildcard
	MatchOperator      ValueMatchOperator
	KnownValue         any
	Targets            []TriggerTarget
}

// triggerKey is the dedup/merge key spec.md's invariants describe: two DataTrigger
// rows referring to the same (type, interface, endpoint, path, operator,
// value) must be merged into one entry with the union of targets.
type triggerKey struct {
	Type        DataTriggerType
	InterfaceID [16]byte
	AnyIface    bool
	EndpointID  [16]byte
	AnyEndpoint bool
	MatchPath   string
	Operator    ValueMatchOperator
	KnownValue  any
}

func (t *DataTrigger) key() triggerKey {
	path := ""
	for i, tok := range t.MatchPathTokens {
		if i > 0 {
			path += "/"
		}
		path += tok
	}
	return triggerKey{
		Type:        t.Type,
		InterfaceID: t.InterfaceID,
		AnyIface:    t.AnyInterfaceWildcard,
		EndpointID:  t.EndpointID,
		AnyEndpoint: t.AnyEndpointWildcard,
		MatchPath:   path,
		Operator:    t.MatchOperator,
		KnownValue:  t.KnownValue,
	}
}

// AreCongruent reports whether two DataTriggers describe the same
// dedup/merge row per spec.md's "Invariants" section.
func (t *DataTrigger) AreCongruent(other *DataTrigger) bool {
	return t.key() == other.key()
}

// DeviceTrigger is a compiled connection-lifecycle trigger.
type DeviceTrigger struct {
	Type    DeviceTriggerType
	Targets []TriggerTarget
}

// IntrospectionTrigger is a compiled schema-lifecycle trigger.
type IntrospectionTrigger struct {
	Type    IntrospectionTriggerType
	Targets []TriggerTarget
}

// VolatileTrigger is a runtime-installed trigger that lives only in actor
// memory (spec.md §4.2.6); it is never persisted to the queries layer.
type VolatileTrigger struct {
	SimpleTriggerID uuid.UUID
	ParentTriggerID uuid.UUID
	Data            *DataTrigger          // set for data triggers
	Device          *DeviceTrigger        // set for device triggers
	Introspection   *IntrospectionTrigger // set for introspection triggers
}
