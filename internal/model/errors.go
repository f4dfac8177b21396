package model

import "errors"

// ErrInvalidDeviceID is returned when a device id does not decode to 16
// raw bytes.
var ErrInvalidDeviceID = errors.New("model: device id must decode to 16 bytes")

// HandlingError classifies a failed message as one of the taxonomy buckets
// of spec.md §7. Every handling error maps to a msg_handling_error and a
// disposition: discard the message (payload/policy violation) or crash the
// actor so the tracker requeues it (infrastructure failure).
type HandlingError struct {
	Kind    HandlingErrorKind
	Err     error
	Discard bool // true: nack without requeue; false: infrastructure failure, actor should crash
}

func (e *HandlingError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *HandlingError) Unwrap() error { return e.Err }

// HandlingErrorKind enumerates spec.md §7's error taxonomy.
type HandlingErrorKind string

const (
	ErrInvalidPath                      HandlingErrorKind = "invalid_path"
	ErrMappingNotFound                  HandlingErrorKind = "mapping_not_found"
	ErrGuessedEndpoints                 HandlingErrorKind = "guessed_endpoints"
	ErrCannotWriteOnServerOwnedInterface HandlingErrorKind = "cannot_write_on_server_owned_interface"
	ErrInterfaceLoadingFailed           HandlingErrorKind = "interface_loading_failed"
	ErrUndecodableBSONPayload           HandlingErrorKind = "undecodable_bson_payload"
	ErrUnexpectedValueType              HandlingErrorKind = "unexpected_value_type"
	ErrUnexpectedObjectKey              HandlingErrorKind = "unexpected_object_key"
	ErrValueSizeExceeded                HandlingErrorKind = "value_size_exceeded"
	ErrInvalidIntrospection             HandlingErrorKind = "invalid_introspection"
	ErrInvalidProperties                HandlingErrorKind = "invalid_properties"
	ErrDatabaseError                    HandlingErrorKind = "database_error"
)

// Discard wraps err as a payload/policy violation: the caller should discard
// the message and may ask the device for a clean session.
func Discard(kind HandlingErrorKind, err error) *HandlingError {
	return &HandlingError{Kind: kind, Err: err, Discard: true}
}

// Fatal wraps err as an infrastructure failure: the caller should let the
// actor crash so the message tracker requeues its in-flight messages.
func Fatal(kind HandlingErrorKind, err error) *HandlingError {
	return &HandlingError{Kind: kind, Err: err, Discard: false}
}
