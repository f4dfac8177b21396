package model

// InterfaceType distinguishes accumulating datastream interfaces from
// latest-value property interfaces.
type InterfaceType int

const (
	InterfaceTypeProperties InterfaceType = iota
	InterfaceTypeDatastream
)

// Aggregation distinguishes one row/value per endpoint from one row per
// object (all endpoints of a common parent path share a row).
type Aggregation int

const (
	AggregationIndividual Aggregation = iota
	AggregationObject
)

// Ownership says who is allowed to publish values on the interface.
type Ownership int

const (
	OwnershipDevice Ownership = iota
	OwnershipServer
)

// StorageType picks the physical table shape an individual value (or
// object) is written to.
type StorageType int

const (
	StorageIndividualProperties StorageType = iota
	StorageIndividualDatastream
	StorageObjectDatastream
)

// Reliability is the QoS-like delivery guarantee a mapping was published
// with.
type Reliability int

const (
	ReliabilityUnreliable Reliability = iota
	ReliabilityGuaranteed
)

// Retention says whether a datastream value may be dropped by the broker
// before it reaches the plant.
type Retention int

const (
	RetentionDiscard Retention = iota
	RetentionStored
)

// InterfaceDescriptor is the schema row for one (name, major_version) of an
// interface, as loaded from the queries layer and cached in actor state.
type InterfaceDescriptor struct {
	InterfaceID  [16]byte
	Name         string
	MajorVersion int
	MinorVersion int
	Type         InterfaceType
	Aggregation  Aggregation
	Ownership    Ownership
	Storage      string // backing table name
	StorageType  StorageType
	Automaton    *EndpointsAutomaton
}

// Mapping is one compiled endpoint of an interface.
type Mapping struct {
	EndpointID        [16]byte
	InterfaceID       [16]byte
	Endpoint          string // e.g. "/rooms/%{room}/temp"
	ValueType         ValueType
	Reliability       Reliability
	Retention         Retention
	AllowUnset        bool
	ExplicitTimestamp bool
}

// ValueType is the set of BSON-representable leaf types a mapping accepts.
type ValueType int

const (
	ValueTypeDouble ValueType = iota
	ValueTypeInteger
	ValueTypeBoolean
	ValueTypeLongInteger
	ValueTypeString
	ValueTypeBinaryBlob
	ValueTypeDatetime
	ValueTypeDoubleArray
	ValueTypeIntegerArray
	ValueTypeBooleanArray
	ValueTypeLongIntegerArray
	ValueTypeStringArray
	ValueTypeBinaryBlobArray
	ValueTypeDatetimeArray
)
