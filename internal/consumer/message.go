// Package consumer implements the AMQPDataConsumer of spec.md §4.4: one
// worker per dedicated broker channel, prefetch-bounded, routing deliveries
// by x_astarte_msg_type to the per-device actor that owns {realm,
// device_id}.
package consumer

import "github.com/astarte-platform/astarte-data-updater-plant/internal/model"

// MsgType is the x_astarte_msg_type header's closed set of values.
type MsgType string

const (
	MsgConnection    MsgType = "connection"
	MsgDisconnection MsgType = "disconnection"
	MsgIntrospection MsgType = "introspection"
	MsgData          MsgType = "data"
	MsgControl       MsgType = "control"
)

// requiredHeaders is spec.md §6's per-type required-header table.
var requiredHeaders = map[MsgType][]string{
	MsgConnection:    {"x_astarte_realm", "x_astarte_device_id", "x_astarte_remote_ip"},
	MsgDisconnection: {"x_astarte_realm", "x_astarte_device_id"},
	MsgIntrospection: {"x_astarte_realm", "x_astarte_device_id"},
	MsgData:          {"x_astarte_realm", "x_astarte_device_id", "x_astarte_interface", "x_astarte_path"},
	MsgControl:       {"x_astarte_realm", "x_astarte_device_id", "x_astarte_control_path"},
}

// Message is the decoded broker delivery handed to the Dispatcher: headers
// resolved into typed fields, the body left undecoded (payload decoding is
// the actor's job, since it's schema-dependent).
type Message struct {
	Realm       string
	DeviceID    string
	Type        MsgType
	Interface   string // data only
	Path        string // data only
	ControlPath string // control only
	RemoteIP    string // connection only
	Body        []byte
	MessageID   model.MessageID
	DeliveryTag model.DeliveryTag
	// TimestampDecimicro is the broker-meta timestamp converted to
	// decimicroseconds (ts_amqp_ms * 10_000), spec.md §6.
	TimestampDecimicro int64
}

// missingHeaders returns which of msgType's required headers are absent
// from headers.
func missingHeaders(msgType MsgType, headers map[string]string) []string {
	var missing []string
	for _, key := range requiredHeaders[msgType] {
		if _, ok := headers[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
