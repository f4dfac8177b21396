package triggers

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EventKind names one of the SimpleEvent payload kinds spec.md §4.3 asks the
// TriggersHandler to tag events with; String() is the x_astarte_event_type
// snake_case header value.
type EventKind int

const (
	EventIncomingData EventKind = iota
	EventValueChange
	EventValueChangeApplied
	EventPathCreated
	EventPathRemoved
	EventValueStored
	EventDeviceConnected
	EventDeviceDisconnected
	EventDeviceError
	EventDeviceEmptyCacheReceived
	EventIncomingIntrospection
	EventInterfaceAdded
	EventInterfaceRemoved
	EventInterfaceMinorUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventIncomingData:
		return "incoming_data"
	case EventValueChange:
		return "value_change"
	case EventValueChangeApplied:
		return "value_change_applied"
	case EventPathCreated:
		return "path_created"
	case EventPathRemoved:
		return "path_removed"
	case EventValueStored:
		return "value_stored"
	case EventDeviceConnected:
		return "device_connected"
	case EventDeviceDisconnected:
		return "device_disconnected"
	case EventDeviceError:
		return "device_error"
	case EventDeviceEmptyCacheReceived:
		return "device_empty_cache_received"
	case EventIncomingIntrospection:
		return "incoming_introspection"
	case EventInterfaceAdded:
		return "interface_added"
	case EventInterfaceRemoved:
		return "interface_removed"
	case EventInterfaceMinorUpdated:
		return "interface_minor_updated"
	default:
		return "unknown"
	}
}

// SimpleEvent is the protobuf-equivalent envelope spec.md §4.3 asks every
// trigger-fired event to be wrapped in before publishing: realm, device,
// event kind/timestamp and a kind-specific payload submessage.
type SimpleEvent struct {
	Realm     string
	DeviceID  string
	Kind      EventKind
	Timestamp int64 // milliseconds since epoch, per the spec's ts_ms convention
	Payload   []byte
}

// Encode serializes e as a real protobuf-wire-format message, field numbers
// 1..5, using the same low-level encoder a generated .pb.go would call.
func (e SimpleEvent) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, e.Realm)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, e.DeviceID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, e.Kind.String())
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Timestamp))
	if len(e.Payload) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	return b
}

// DecodeSimpleEvent parses the envelope produced by Encode; used by tests
// and by any downstream consumer written against this same wire format.
func DecodeSimpleEvent(b []byte) (SimpleEvent, error) {
	var e SimpleEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("triggers: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case 1, 2, 3, 5:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, fmt.Errorf("triggers: malformed bytes field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case 1:
				e.Realm = string(v)
			case 2:
				e.DeviceID = string(v)
			case 3:
				e.Kind = kindFromString(string(v))
			case 5:
				e.Payload = append([]byte(nil), v...)
			}
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("triggers: malformed varint field: %w", protowire.ParseError(n))
			}
			e.Timestamp = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("triggers: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

func kindFromString(s string) EventKind {
	for k := EventIncomingData; k <= EventInterfaceMinorUpdated; k++ {
		if k.String() == s {
			return k
		}
	}
	return -1
}

// payloadBuilder accumulates a protobuf-wire submessage for an event's
// kind-specific fields.
type payloadBuilder struct{ b []byte }

func (p *payloadBuilder) str(field protowire.Number, v string) *payloadBuilder {
	if v == "" {
		return p
	}
	p.b = protowire.AppendTag(p.b, field, protowire.BytesType)
	p.b = protowire.AppendString(p.b, v)
	return p
}

func (p *payloadBuilder) bytes(field protowire.Number, v []byte) *payloadBuilder {
	if len(v) == 0 {
		return p
	}
	p.b = protowire.AppendTag(p.b, field, protowire.BytesType)
	p.b = protowire.AppendBytes(p.b, v)
	return p
}

func (p *payloadBuilder) i64(field protowire.Number, v int64) *payloadBuilder {
	p.b = protowire.AppendTag(p.b, field, protowire.VarintType)
	p.b = protowire.AppendVarint(p.b, uint64(v))
	return p
}

func (p *payloadBuilder) bytesOut() []byte { return p.b }

// Payload builders, one per event kind spec.md §4.3 names. Field numbering
// is local to each payload submessage, not shared with the envelope.

func DeviceConnectedPayload(ip string) []byte {
	return (&payloadBuilder{}).str(1, ip).bytesOut()
}

func DeviceDisconnectedPayload() []byte { return nil }

func DeviceErrorPayload(errorName string) []byte {
	return (&payloadBuilder{}).str(1, errorName).bytesOut()
}

func DeviceEmptyCacheReceivedPayload() []byte { return nil }

func IncomingDataPayload(interfaceName, path string, bsonValue []byte) []byte {
	return (&payloadBuilder{}).str(1, interfaceName).str(2, path).bytes(3, bsonValue).bytesOut()
}

func ValueChangePayload(interfaceName, path string, oldValue, newValue []byte) []byte {
	return (&payloadBuilder{}).str(1, interfaceName).str(2, path).bytes(3, oldValue).bytes(4, newValue).bytesOut()
}

func ValueChangeAppliedPayload(interfaceName, path string, oldValue, newValue []byte) []byte {
	return (&payloadBuilder{}).str(1, interfaceName).str(2, path).bytes(3, oldValue).bytes(4, newValue).bytesOut()
}

func PathCreatedPayload(interfaceName, path string, value []byte) []byte {
	return (&payloadBuilder{}).str(1, interfaceName).str(2, path).bytes(3, value).bytesOut()
}

func PathRemovedPayload(interfaceName, path string) []byte {
	return (&payloadBuilder{}).str(1, interfaceName).str(2, path).bytesOut()
}

func ValueStoredPayload(interfaceName, path string, value []byte) []byte {
	return (&payloadBuilder{}).str(1, interfaceName).str(2, path).bytes(3, value).bytesOut()
}

func IncomingIntrospectionPayload(introspection string) []byte {
	return (&payloadBuilder{}).str(1, introspection).bytesOut()
}

func InterfaceAddedPayload(name string, major, minor int) []byte {
	return (&payloadBuilder{}).str(1, name).i64(2, int64(major)).i64(3, int64(minor)).bytesOut()
}

func InterfaceRemovedPayload(name string, major int) []byte {
	return (&payloadBuilder{}).str(1, name).i64(2, int64(major)).bytesOut()
}

func InterfaceMinorUpdatedPayload(name string, oldMinor, newMinor int) []byte {
	return (&payloadBuilder{}).str(1, name).i64(2, int64(oldMinor)).i64(3, int64(newMinor)).bytesOut()
}
